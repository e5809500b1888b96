package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/perch-social/perch/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "moderation and media-ingestion daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for activity counters (optional)",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "opensearch-url",
			Usage:   "opensearch cluster for content index propagation (optional)",
			EnvVars: []string{"WARDEN_OPENSEARCH_URL"},
		},
		&cli.StringFlag{
			Name:    "content-index",
			Value:   "perch_content",
			EnvVars: []string{"WARDEN_CONTENT_INDEX"},
		},
		&cli.StringFlag{
			Name:    "blobstore-dir",
			Usage:   "local directory for blob storage (used when no S3 bucket is set)",
			Value:   "data/warden/blobs",
			EnvVars: []string{"WARDEN_BLOBSTORE_DIR"},
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			EnvVars: []string{"WARDEN_S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Value:   "us-east-1",
			EnvVars: []string{"WARDEN_S3_REGION"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			EnvVars: []string{"WARDEN_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			EnvVars: []string{"WARDEN_S3_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			EnvVars: []string{"WARDEN_S3_SECRET_KEY"},
		},
		&cli.StringFlag{
			Name:    "cdn-base-url",
			Value:   "https://cdn.perch.example.com",
			EnvVars: []string{"WARDEN_CDN_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "provider-host",
			Usage:   "base URL of the external review provider",
			EnvVars: []string{"WARDEN_PROVIDER_HOST"},
		},
		&cli.StringFlag{
			Name:    "provider-token",
			EnvVars: []string{"WARDEN_PROVIDER_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "callback-uri",
			Usage:   "public URI the review provider delivers verdicts to",
			EnvVars: []string{"WARDEN_CALLBACK_URI"},
		},
		&cli.IntFlag{
			Name:    "submit-rate-limit",
			Usage:   "max review submissions per second to the provider",
			Value:   10,
			EnvVars: []string{"WARDEN_SUBMIT_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "submit-timeout",
			Value:   30 * time.Second,
			EnvVars: []string{"WARDEN_SUBMIT_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3985",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3984",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				return fmt.Errorf("failed to create trace exporter: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("warden"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			RedisURL:        cctx.String("redis-url"),
			OpensearchURL:   cctx.String("opensearch-url"),
			ContentIndex:    cctx.String("content-index"),
			BlobstoreDir:    cctx.String("blobstore-dir"),
			S3Bucket:        cctx.String("s3-bucket"),
			S3Region:        cctx.String("s3-region"),
			S3Endpoint:      cctx.String("s3-endpoint"),
			S3AccessKey:     cctx.String("s3-access-key"),
			S3SecretKey:     cctx.String("s3-secret-key"),
			CDNBaseURL:      cctx.String("cdn-base-url"),
			ProviderHost:    cctx.String("provider-host"),
			ProviderToken:   cctx.String("provider-token"),
			CallbackURI:     cctx.String("callback-uri"),
			SubmitRateLimit: cctx.Int("submit-rate-limit"),
			SubmitTimeout:   cctx.Duration("submit-timeout"),
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.RunAPI(ctx, cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		return nil
	},
}
