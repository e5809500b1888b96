// Package search propagates moderation visibility changes to the full-text/
// trending index: approved content is (re)indexed, rejected content is
// removed. Queries themselves are served elsewhere.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/perch-social/perch/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	es "github.com/opensearch-project/opensearch-go/v2"
	esapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

var tracer = otel.Tracer("search")

type Indexer struct {
	escli        *es.Client
	contentIndex string
	logger       *slog.Logger
}

func NewIndexer(escli *es.Client, contentIndex string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		escli:        escli,
		contentIndex: contentIndex,
		logger:       logger.With("system", "search"),
	}
}

// ContentDoc is the indexed document shape for one content item.
type ContentDoc struct {
	ContentHandle string `json:"content_handle"`
	AppHandle     string `json:"app_handle"`
	ContentType   string `json:"content_type"`
	ReviewStatus  string `json:"review_status"`
	IndexedAt     string `json:"indexed_at"`
}

func (i *Indexer) IndexContent(ctx context.Context, req *models.ModerationRequest) error {
	ctx, span := tracer.Start(ctx, "indexContent")
	defer span.End()
	span.SetAttributes(attribute.String("contentHandle", req.ContentHandle))

	log := i.logger.With("contentHandle", req.ContentHandle, "op", "indexContent")

	doc := ContentDoc{
		ContentHandle: req.ContentHandle,
		AppHandle:     req.AppHandle,
		ContentType:   string(req.ContentType),
		ReviewStatus:  string(req.ReviewStatus),
		IndexedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	log.Debug("indexing content")
	ireq := esapi.IndexRequest{
		Index:      i.contentIndex,
		DocumentID: req.ContentHandle,
		Body:       bytes.NewReader(b),
	}

	res, err := ireq.Do(ctx, i.escli)
	if err != nil {
		log.Warn("failed to send indexing request", "err", err)
		return fmt.Errorf("failed to send indexing request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		log.Warn("failed to read indexing response", "err", err)
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.IsError() {
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	return nil
}

func (i *Indexer) DeleteContent(ctx context.Context, contentHandle string) error {
	ctx, span := tracer.Start(ctx, "deleteContent")
	defer span.End()
	span.SetAttributes(attribute.String("contentHandle", contentHandle))

	log := i.logger.With("contentHandle", contentHandle, "op", "deleteContent")
	log.Info("removing content from index")

	req := esapi.DeleteRequest{
		Index:      i.contentIndex,
		DocumentID: contentHandle,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, i.escli)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.IsError() && res.StatusCode != 404 {
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	return nil
}
