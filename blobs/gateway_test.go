package blobs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"testing"

	"github.com/perch-social/perch/blobstore"
	"github.com/perch-social/perch/imagecodec"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeModeration struct {
	created []string
	pt      models.ProcessType
}

func (f *fakeModeration) CreateImageModerationRequest(ctx context.Context, pt models.ProcessType, appHandle, blobHandle, callbackURI string) (string, error) {
	f.created = append(f.created, blobHandle)
	f.pt = pt
	return models.NewHandle(), nil
}

type fakeResizer struct {
	enqueued []string
}

func (f *fakeResizer) EnqueueResize(ctx context.Context, blobHandle string) error {
	f.enqueued = append(f.enqueued, blobHandle)
	return nil
}

func testGateway(t *testing.T) (*store.Store, *blobstore.MemBlobstore, *Gateway) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	bs := blobstore.NewMemBlobstore()
	gw, err := NewGateway(st, bs, &BaseURLResolver{Base: "https://cdn.example.com"}, imagecodec.DefaultSizes(), GatewayConfig{})
	require.NoError(t, err)
	return st, bs, gw
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	b, err := imagecodec.EncodeJPEG(image.NewRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return b
}

func TestCreateAndReadBlob(t *testing.T) {
	ctx := context.Background()
	_, _, gw := testGateway(t)

	payload := []byte("raw attachment bytes")
	handle, err := gw.CreateBlob(ctx, "app-1", "user-1", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)

	rc, err := gw.ReadBlob(ctx, handle)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, payload, got)

	meta, err := gw.ReadBlobMetadata(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", meta.ContentType)

	exists, err := gw.BlobExists(ctx, handle)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = gw.ReadBlob(ctx, "no-such-handle")
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCreateImageWiresPipelines(t *testing.T) {
	ctx := context.Background()
	st, _, gw := testGateway(t)

	resizer := &fakeResizer{}
	mod := &fakeModeration{}
	gw.SetResizer(resizer)
	gw.SetModeration(mod)

	handle, err := gw.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/jpeg", bytes.NewReader(jpegBytes(t, 800, 600)))
	require.NoError(t, err)

	meta, err := st.GetImageMetadata(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusUnknown, meta.ReviewStatus)
	assert.Empty(t, meta.ResizesCompleted)

	// ingest hands off to both downstream pipelines
	assert.Equal(t, []string{handle}, resizer.enqueued)
	assert.Equal(t, []string{handle}, mod.created)
	assert.Equal(t, models.ProcessFrontend, mod.pt)

	_, err = gw.CreateImage(ctx, "app-1", "user-1", models.ImageType("hologram"), "image/jpeg", strings.NewReader(""))
	require.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestReadImageSizeBeforeFanOut(t *testing.T) {
	ctx := context.Background()
	st, _, gw := testGateway(t)

	handle, err := gw.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/jpeg", bytes.NewReader(jpegBytes(t, 800, 600)))
	require.NoError(t, err)

	// size reads are NotFound until the fan-out records completion
	_, err = gw.ReadImageSize(ctx, handle, 'p')
	require.True(t, errors.Is(err, models.ErrNotFound))

	done, err := gw.ImageResizesComplete(ctx, handle)
	require.NoError(t, err)
	assert.False(t, done)

	for _, id := range []byte{'d', 'h', 'l', 'p', 't', 'x'} {
		require.NoError(t, st.AppendResizeCompleted(ctx, handle, id))
	}
	done, err = gw.ImageResizesComplete(ctx, handle)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCdnUrls(t *testing.T) {
	ctx := context.Background()
	_, _, gw := testGateway(t)

	handle, err := gw.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/jpeg", bytes.NewReader(jpegBytes(t, 100, 100)))
	require.NoError(t, err)

	u, err := gw.ReadImageCdnUrl(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+handle, u)

	u, err = gw.ReadImageSizeCdnUrl(ctx, handle, 'p')
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+handle+"-p", u)

	// URL resolution is pure address construction, never an existence check
	u, err = gw.ReadBlobCdnUrl(ctx, "some-unknown-handle")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/some-unknown-handle", u)
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	st, bs, gw := testGateway(t)

	handle, err := gw.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/jpeg", bytes.NewReader(jpegBytes(t, 100, 100)))
	require.NoError(t, err)

	// fake a completed derived size so delete has something to clean up
	derived := models.DerivedBlobHandle(handle, 'p')
	require.NoError(t, bs.PutBlob(ctx, derived, "image/jpeg", bytes.NewReader(jpegBytes(t, 25, 25))))
	require.NoError(t, st.AppendResizeCompleted(ctx, handle, 'p'))

	require.NoError(t, gw.DeleteImage(ctx, handle))

	exists, err := gw.ImageExists(ctx, handle)
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err := bs.HasBlob(ctx, handle)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = bs.HasBlob(ctx, derived)
	require.NoError(t, err)
	assert.False(t, ok)

	err = gw.DeleteImage(ctx, handle)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUpdateImageReviewStatus(t *testing.T) {
	ctx := context.Background()
	st, _, gw := testGateway(t)

	handle, err := gw.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/jpeg", bytes.NewReader(jpegBytes(t, 100, 100)))
	require.NoError(t, err)

	require.NoError(t, gw.UpdateImageReviewStatus(ctx, handle, models.ReviewStatusRejected))
	require.NoError(t, gw.UpdateImageReviewStatus(ctx, handle, models.ReviewStatusActive))

	meta, err := st.GetImageMetadata(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusRejected, meta.ReviewStatus)
}
