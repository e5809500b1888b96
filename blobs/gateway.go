// Package blobs is the blob/image store gateway: the only sanctioned path to
// blob bytes, their metadata rows, and CDN URL resolution. The write ordering
// is always "blob first, metadata second", so a metadata row implies the blob
// exists; the reverse is never guaranteed.
package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/perch-social/perch/blobstore"
	"github.com/perch-social/perch/imagecodec"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CdnResolver turns a blob handle into a publicly fetchable URL. It has no
// logic beyond address construction and never checks existence.
type CdnResolver interface {
	ResolveURL(handle string) (string, error)
}

// Resizer accepts a freshly ingested image for derived-size fan-out. The
// gateway only enqueues; scheduling of the fan-out is the caller's concern.
type Resizer interface {
	EnqueueResize(ctx context.Context, blobHandle string) error
}

// ModerationEnqueuer creates a moderation request for a freshly ingested
// image on the interactive path.
type ModerationEnqueuer interface {
	CreateImageModerationRequest(ctx context.Context, pt models.ProcessType, appHandle, blobHandle, callbackURI string) (string, error)
}

type Gateway struct {
	store       *store.Store
	blobs       blobstore.Blobstore
	cdn         CdnResolver
	sizes       imagecodec.SizeConfig
	resizer     Resizer
	moderation  ModerationEnqueuer
	callbackURI string
	logger      *slog.Logger

	// handle -> URL mapping is immutable, so memoizing is always safe
	urlCache *lru.Cache[string, string]
}

type GatewayConfig struct {
	CallbackURI string
	Logger      *slog.Logger
}

func NewGateway(st *store.Store, bs blobstore.Blobstore, cdn CdnResolver, sizes imagecodec.SizeConfig, config GatewayConfig) (*Gateway, error) {
	if err := sizes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid size config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, string](10_000)
	return &Gateway{
		store:       st,
		blobs:       bs,
		cdn:         cdn,
		sizes:       sizes,
		callbackURI: config.CallbackURI,
		logger:      logger.With("system", "blobs"),
		urlCache:    cache,
	}, nil
}

// SetResizer and SetModeration wire the downstream pipelines in after
// construction; the resize orchestrator and moderation engine both depend on
// the gateway, so they can't be constructor arguments.
func (g *Gateway) SetResizer(r Resizer)               { g.resizer = r }
func (g *Gateway) SetModeration(m ModerationEnqueuer) { g.moderation = m }

func (g *Gateway) CreateBlob(ctx context.Context, appHandle, userHandle, mimeType string, r io.Reader) (string, error) {
	handle := models.NewHandle()
	if err := g.blobs.PutBlob(ctx, handle, mimeType, r); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	meta := models.BlobMetadata{
		BlobHandle:  handle,
		AppHandle:   appHandle,
		UserHandle:  userHandle,
		ContentType: mimeType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.store.CreateBlobMetadata(ctx, &meta); err != nil {
		return "", fmt.Errorf("writing blob metadata: %w", err)
	}
	return handle, nil
}

// CreateImage ingests an original image: blob bytes, then the metadata row
// with an empty resize set, then hands the image to the resize fan-out and
// creates a moderation request on the interactive path. The caller gets an
// acknowledgment as soon as metadata is durable; derived sizes arrive
// asynchronously.
func (g *Gateway) CreateImage(ctx context.Context, appHandle, userHandle string, imageType models.ImageType, mimeType string, r io.Reader) (string, error) {
	if !imageType.Valid() {
		return "", fmt.Errorf("%w: image type %q", models.ErrInvalidInput, imageType)
	}
	handle := models.NewHandle()
	if err := g.blobs.PutBlob(ctx, handle, mimeType, r); err != nil {
		return "", fmt.Errorf("writing image blob: %w", err)
	}
	meta := models.ImageMetadata{
		BlobHandle:   handle,
		AppHandle:    appHandle,
		UserHandle:   userHandle,
		ImageType:    imageType,
		ContentType:  mimeType,
		ReviewStatus: models.ReviewStatusUnknown,
	}
	if err := g.store.CreateImageMetadata(ctx, &meta); err != nil {
		return "", fmt.Errorf("writing image metadata: %w", err)
	}

	log := g.logger.With("blobHandle", handle, "app", appHandle)
	if g.resizer != nil {
		if err := g.resizer.EnqueueResize(ctx, handle); err != nil {
			// the image stays ingest-pending; the fan-out is re-drivable
			log.Warn("failed to enqueue resize fan-out", "err", err)
		}
	}
	if g.moderation != nil {
		if _, err := g.moderation.CreateImageModerationRequest(ctx, models.ProcessFrontend, appHandle, handle, g.callbackURI); err != nil {
			log.Warn("failed to create image moderation request", "err", err)
		}
	}
	return handle, nil
}

func (g *Gateway) ReadBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	if _, err := g.store.GetBlobMetadata(ctx, handle); err != nil {
		return nil, err
	}
	return g.blobs.GetBlob(ctx, handle)
}

func (g *Gateway) ReadBlobMetadata(ctx context.Context, handle string) (*models.BlobMetadata, error) {
	return g.store.GetBlobMetadata(ctx, handle)
}

func (g *Gateway) ReadImage(ctx context.Context, handle string) (io.ReadCloser, error) {
	if _, err := g.store.GetImageMetadata(ctx, handle); err != nil {
		return nil, err
	}
	return g.blobs.GetBlob(ctx, handle)
}

// ReadImageSize reads one derived size. NotFound until the fan-out has
// recorded that size as complete.
func (g *Gateway) ReadImageSize(ctx context.Context, handle string, sizeID byte) (io.ReadCloser, error) {
	meta, err := g.store.GetImageMetadata(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !meta.HasResize(sizeID) {
		return nil, fmt.Errorf("%w: size %q of image %s", models.ErrNotFound, sizeID, handle)
	}
	return g.blobs.GetBlob(ctx, models.DerivedBlobHandle(handle, sizeID))
}

func (g *Gateway) ReadImageMetadata(ctx context.Context, handle string) (*models.ImageMetadata, error) {
	return g.store.GetImageMetadata(ctx, handle)
}

// DeleteBlob removes the metadata row first, then best-effort deletes the
// bytes: a partially failed delete must never resurrect the metadata.
func (g *Gateway) DeleteBlob(ctx context.Context, handle string) error {
	if err := g.store.DeleteBlobMetadata(ctx, handle); err != nil {
		return err
	}
	if err := g.blobs.DeleteBlob(ctx, handle); err != nil {
		g.logger.Warn("orphaned blob bytes after metadata delete", "blobHandle", handle, "err", err)
	}
	return nil
}

// DeleteImage removes metadata first, then best-effort deletes the original
// and every configured derived size.
func (g *Gateway) DeleteImage(ctx context.Context, handle string) error {
	meta, err := g.store.GetImageMetadata(ctx, handle)
	if err != nil {
		return err
	}
	if err := g.store.DeleteImageMetadata(ctx, handle); err != nil {
		return err
	}
	log := g.logger.With("blobHandle", handle)
	if err := g.blobs.DeleteBlob(ctx, handle); err != nil {
		log.Warn("orphaned image bytes after metadata delete", "err", err)
	}
	specs, err := g.sizes.SizesFor(meta.ImageType)
	if err != nil {
		return nil
	}
	for _, spec := range specs {
		if err := g.blobs.DeleteBlob(ctx, models.DerivedBlobHandle(handle, spec.ID)); err != nil {
			log.Warn("orphaned derived image bytes after metadata delete", "sizeId", string(spec.ID), "err", err)
		}
	}
	return nil
}

func (g *Gateway) ReadBlobCdnUrl(ctx context.Context, handle string) (string, error) {
	return g.resolveURL(handle)
}

func (g *Gateway) ReadImageCdnUrl(ctx context.Context, handle string) (string, error) {
	return g.resolveURL(handle)
}

// ReadImageSizeCdnUrl resolves the URL of one derived size; like the other
// CDN reads it does not verify existence.
func (g *Gateway) ReadImageSizeCdnUrl(ctx context.Context, handle string, sizeID byte) (string, error) {
	return g.resolveURL(models.DerivedBlobHandle(handle, sizeID))
}

func (g *Gateway) resolveURL(handle string) (string, error) {
	if cached, ok := g.urlCache.Get(handle); ok {
		return cached, nil
	}
	u, err := g.cdn.ResolveURL(handle)
	if err != nil {
		return "", fmt.Errorf("resolving CDN URL for %s: %w", handle, err)
	}
	g.urlCache.Add(handle, u)
	return u, nil
}

// BlobExists and ImageExists define existence as "metadata row present".
func (g *Gateway) BlobExists(ctx context.Context, handle string) (bool, error) {
	return g.store.BlobMetadataExists(ctx, handle)
}

func (g *Gateway) ImageExists(ctx context.Context, handle string) (bool, error) {
	return g.store.ImageMetadataExists(ctx, handle)
}

// ImageResizesComplete reports whether every configured derived size has been
// produced; callers needing full availability check this on top of ImageExists.
func (g *Gateway) ImageResizesComplete(ctx context.Context, handle string) (bool, error) {
	meta, err := g.store.GetImageMetadata(ctx, handle)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	specs, err := g.sizes.SizesFor(meta.ImageType)
	if err != nil {
		return false, err
	}
	for _, spec := range specs {
		if !meta.HasResize(spec.ID) {
			return false, nil
		}
	}
	return true, nil
}

// UpdateImageReviewStatus is the moderation pipeline's single entry point
// into image state; it never touches the resize bookkeeping.
func (g *Gateway) UpdateImageReviewStatus(ctx context.Context, handle string, status models.ReviewStatus) error {
	return g.store.UpdateImageReviewStatus(ctx, handle, status)
}

// BaseURLResolver is the trivial CDN front door: base address plus handle.
type BaseURLResolver struct {
	Base string
}

func (r *BaseURLResolver) ResolveURL(handle string) (string, error) {
	if handle == "" {
		return "", fmt.Errorf("%w: empty blob handle", models.ErrInvalidInput)
	}
	return r.Base + "/" + handle, nil
}
