// Package resize drives the derived-size fan-out for one ingested image:
// decode once, produce every configured size through the image codec, and
// reconcile the metadata one completed size at a time. The whole operation
// is idempotent, so a crash mid-fan-out is recovered by re-running it.
package resize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/perch-social/perch/blobstore"
	"github.com/perch-social/perch/imagecodec"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"
)

// derived sizes are always re-encoded as jpeg regardless of source format
const derivedMimeType = "image/jpeg"

type Orchestrator struct {
	store  *store.Store
	blobs  blobstore.Blobstore
	sizes  imagecodec.SizeConfig
	logger *slog.Logger
}

func NewOrchestrator(st *store.Store, bs blobstore.Blobstore, sizes imagecodec.SizeConfig, logger *slog.Logger) (*Orchestrator, error) {
	if err := sizes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid size config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  st,
		blobs:  bs,
		sizes:  sizes,
		logger: logger.With("system", "resize"),
	}, nil
}

// ResizeImage produces every configured derived size not yet recorded in the
// image's metadata. Per-size writes are idempotent: the derived handle is
// deterministic and the blobstore treats "already exists" as success, so the
// worst a crash leaves behind is an unrecorded blob that the retry re-writes
// with identical bytes. An undecodable original fails the whole image with
// ErrPermanentContent and leaves the metadata untouched for re-drive.
func (o *Orchestrator) ResizeImage(ctx context.Context, blobHandle string) error {
	log := o.logger.With("blobHandle", blobHandle)

	meta, err := o.store.GetImageMetadata(ctx, blobHandle)
	if err != nil {
		return err
	}
	specs, err := o.sizes.SizesFor(meta.ImageType)
	if err != nil {
		return err
	}

	var remaining []imagecodec.SizeSpec
	for _, spec := range specs {
		if !meta.HasResize(spec.ID) {
			remaining = append(remaining, spec)
		}
	}
	if len(remaining) == 0 {
		log.Debug("resize fan-out already complete")
		return nil
	}

	rc, err := o.blobs.GetBlob(ctx, blobHandle)
	if err != nil {
		return fmt.Errorf("reading original image: %w", err)
	}
	defer rc.Close()

	// decode the original once and reuse it across the whole fan-out
	img, err := imagecodec.Decode(rc)
	if err != nil {
		log.Error("original image is undecodable", "err", err)
		return fmt.Errorf("decoding original %s: %w", blobHandle, err)
	}

	for _, spec := range remaining {
		encoded, err := imagecodec.Derive(img, spec)
		if err != nil {
			return fmt.Errorf("deriving size %q of %s: %w", spec.ID, blobHandle, err)
		}
		derived := models.DerivedBlobHandle(blobHandle, spec.ID)
		if err := o.blobs.PutBlob(ctx, derived, derivedMimeType, bytes.NewReader(encoded)); err != nil {
			return fmt.Errorf("writing derived blob %s: %w", derived, err)
		}
		if err := o.store.AppendResizeCompleted(ctx, blobHandle, spec.ID); err != nil {
			return fmt.Errorf("recording completed size %q of %s: %w", spec.ID, blobHandle, err)
		}
		log.Debug("derived size complete", "sizeId", string(spec.ID), "width", spec.Width)
	}

	log.Info("resize fan-out complete", "sizes", len(specs))
	return nil
}
