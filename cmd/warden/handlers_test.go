package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/perch-social/perch/blobs"
	"github.com/perch-social/perch/blobstore"
	"github.com/perch-social/perch/imagecodec"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testServer(t *testing.T) (*Server, *store.Store, *blobstore.MemBlobstore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	bs := blobstore.NewMemBlobstore()
	gw, err := blobs.NewGateway(st, bs, &blobs.BaseURLResolver{Base: "https://cdn.example.com"}, imagecodec.DefaultSizes(), blobs.GatewayConfig{})
	require.NoError(t, err)
	return &Server{
		logger:  slog.Default(),
		store:   st,
		gateway: gw,
	}, st, bs
}

func getContext(s *Server, target string, handle string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if handle != "" {
		c.SetParamNames("handle")
		c.SetParamValues(handle)
	}
	return c, rec
}

func TestReadImageServesStoredMimeType(t *testing.T) {
	ctx := context.Background()
	s, st, bs := testServer(t)

	handle, err := s.gateway.CreateImage(ctx, "app-1", "user-1", models.ImageTypeUserPhoto, "image/png", bytes.NewReader([]byte("png bytes")))
	require.NoError(t, err)

	c, rec := getContext(s, "/", handle)
	require.NoError(t, s.handleReadImage(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "png bytes", rec.Body.String())

	// derived sizes are always jpeg regardless of the original format
	derived := models.DerivedBlobHandle(handle, 'p')
	require.NoError(t, bs.PutBlob(ctx, derived, "image/jpeg", bytes.NewReader([]byte("jpeg bytes"))))
	require.NoError(t, st.AppendResizeCompleted(ctx, handle, 'p'))

	c, rec = getContext(s, "/?size=p", handle)
	require.NoError(t, s.handleReadImage(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
}

func TestListModerationRequestsLimitParam(t *testing.T) {
	ctx := context.Background()
	s, st, _ := testServer(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateModerationRequest(ctx, &models.ModerationRequest{
			ModerationHandle: models.NewHandle(),
			AppHandle:        "app-1",
			ContentType:      models.ContentTypeTopic,
			ContentHandle:    fmt.Sprintf("topic-%d", i),
		}))
	}

	c, rec := getContext(s, "/?app=app-1&limit=2", "")
	require.NoError(t, s.handleListModerationRequests(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var out listModerationRequestsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Requests, 2)
	assert.NotEmpty(t, out.Cursor)

	// second page continues where the first left off
	c, rec = getContext(s, "/?app=app-1&limit=3&cursor="+out.Cursor, "")
	require.NoError(t, s.handleListModerationRequests(c))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Requests, 3)

	c, rec = getContext(s, "/?app=app-1&limit=bogus", "")
	require.NoError(t, s.handleListModerationRequests(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = getContext(s, "/?app=app-1&limit=0", "")
	require.NoError(t, s.handleListModerationRequests(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
