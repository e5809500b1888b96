package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/perch-social/perch/blobs"
	"github.com/perch-social/perch/blobstore"
	"github.com/perch-social/perch/countstore"
	"github.com/perch-social/perch/imagecodec"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/moderation"
	"github.com/perch-social/perch/push"
	"github.com/perch-social/perch/resize"
	"github.com/perch-social/perch/search"
	"github.com/perch-social/perch/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	es "github.com/opensearch-project/opensearch-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"
)

type Server struct {
	echo    *echo.Echo
	logger  *slog.Logger
	store   *store.Store
	gateway *blobs.Gateway
	engine  *moderation.Engine
	resizer *resize.Orchestrator
	hubs    *push.HubManager
}

type Config struct {
	RedisURL        string
	OpensearchURL   string
	ContentIndex    string
	BlobstoreDir    string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	CDNBaseURL      string
	ProviderHost    string
	ProviderToken   string
	CallbackURI     string
	SubmitRateLimit int
	SubmitTimeout   time.Duration
	Logger          *slog.Logger
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	st, err := store.NewStore(db)
	if err != nil {
		return nil, err
	}

	var bs blobstore.Blobstore
	if config.S3Bucket != "" {
		logger.Info("configuring S3 blobstore", "bucket", config.S3Bucket)
		bs, err = blobstore.NewS3Blobstore(blobstore.S3Config{
			Region:    config.S3Region,
			Endpoint:  config.S3Endpoint,
			Bucket:    config.S3Bucket,
			AccessKey: config.S3AccessKey,
			SecretKey: config.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("configuring disk blobstore", "dir", config.BlobstoreDir)
		bs, err = blobstore.NewDiskBlobstore(config.BlobstoreDir)
		if err != nil {
			return nil, err
		}
	}

	sizes := imagecodec.DefaultSizes()

	gateway, err := blobs.NewGateway(st, bs, &blobs.BaseURLResolver{Base: config.CDNBaseURL}, sizes, blobs.GatewayConfig{
		CallbackURI: config.CallbackURI,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := resize.NewOrchestrator(st, bs, sizes, logger)
	if err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	if config.RedisURL != "" {
		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, err
		}
		counters = cnt
	} else {
		counters = countstore.NewMemCountStore()
	}

	var indexer moderation.Indexer
	if config.OpensearchURL != "" {
		logger.Info("configuring opensearch content index", "index", config.ContentIndex)
		escli, err := es.NewClient(es.Config{
			Addresses: []string{config.OpensearchURL},
		})
		if err != nil {
			return nil, err
		}
		indexer = search.NewIndexer(escli, config.ContentIndex, logger)
	} else {
		indexer = search.NewNoopIndexer()
	}

	var provider moderation.Provider
	if config.ProviderHost != "" {
		provider = moderation.NewHTTPProvider(config.ProviderHost, config.ProviderToken)
	} else {
		logger.Warn("no review provider configured, submissions will fail")
		provider = &unconfiguredProvider{}
	}

	engine := moderation.NewEngine(st, provider, moderation.EngineConfig{
		Indexer:         indexer,
		Counters:        counters,
		Logger:          logger,
		SubmitRateLimit: config.SubmitRateLimit,
		SubmitTimeout:   config.SubmitTimeout,
	})
	engine.RegisterAdapter(models.ContentTypeImage, moderation.ContentAdapter{
		FetchPayload: func(ctx context.Context, blobHandle string) (*moderation.SubmitPayload, error) {
			meta, err := gateway.ReadImageMetadata(ctx, blobHandle)
			if err != nil {
				return nil, err
			}
			rc, err := gateway.ReadImage(ctx, blobHandle)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			b, err := io.ReadAll(rc)
			if err != nil {
				return nil, err
			}
			return &moderation.SubmitPayload{ImageBytes: b, MimeType: meta.ContentType}, nil
		},
		ApplyVerdict: func(ctx context.Context, blobHandle string, status models.ReviewStatus) error {
			return gateway.UpdateImageReviewStatus(ctx, blobHandle, status)
		},
	})

	gateway.SetResizer(&asyncResizer{orchestrator: orchestrator, logger: logger})
	gateway.SetModeration(engine)

	s := &Server{
		logger:  logger,
		store:   st,
		gateway: gateway,
		engine:  engine,
		resizer: orchestrator,
		hubs:    push.NewHubManager(st, logger),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("32M"))

	e.GET("/healthz", s.handleHealthz)

	e.POST("/v1/images", s.handleCreateImage)
	e.GET("/v1/images/:handle", s.handleReadImage)
	e.GET("/v1/images/:handle/metadata", s.handleReadImageMetadata)
	e.GET("/v1/images/:handle/url", s.handleReadImageCdnUrl)
	e.DELETE("/v1/images/:handle", s.handleDeleteImage)

	e.POST("/v1/moderation/requests", s.handleCreateModerationRequest)
	e.GET("/v1/moderation/requests", s.handleListModerationRequests)
	e.POST("/v1/moderation/requests/:handle/submit", s.handleSubmitForModeration)
	e.GET("/v1/moderation/stats", s.handleModerationStats)
	e.POST("/v1/moderation/callback/:handle", s.handleModerationCallback)

	e.PUT("/v1/push/registrations/:user", s.handleRegisterDevice)
	e.DELETE("/v1/push/registrations/:user", s.handleUnregisterDevice)
	e.POST("/v1/push/notifications/:user", s.handleSendNotification)
	e.POST("/v1/push/hubs", s.handleCreateHub)
	e.DELETE("/v1/push/hubs", s.handleDeleteHub)

	s.echo = e
	return s, nil
}

// asyncResizer runs the fan-out off the ingest request path; the fan-out is
// idempotent, so a crashed goroutine just leaves the image re-drivable.
type asyncResizer struct {
	orchestrator *resize.Orchestrator
	logger       *slog.Logger
}

func (a *asyncResizer) EnqueueResize(ctx context.Context, blobHandle string) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := a.orchestrator.ResizeImage(ctx, blobHandle); err != nil {
			a.logger.Error("background resize fan-out failed", "blobHandle", blobHandle, "err", err)
		}
	}()
	return nil
}

type unconfiguredProvider struct{}

func (p *unconfiguredProvider) Submit(ctx context.Context, req *models.ModerationRequest, payload *moderation.SubmitPayload) error {
	return models.ErrProviderUnavailable
}

func (s *Server) RunAPI(ctx context.Context, bind string) error {
	s.logger.Info("starting API server", "bind", bind)
	return s.echo.Start(bind)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
