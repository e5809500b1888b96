package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/search"
	"github.com/perch-social/perch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeProvider records submissions and can be told to fail.
type fakeProvider struct {
	mu       sync.Mutex
	submits  []string
	err      error
	conflict bool
}

func (p *fakeProvider) Submit(ctx context.Context, req *models.ModerationRequest, payload *SubmitPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, h := range p.submits {
		if h == req.ModerationHandle && p.conflict {
			// provider-side dedup: repeat submission of the same handle is fine
			return nil
		}
	}
	p.submits = append(p.submits, req.ModerationHandle)
	return nil
}

func (p *fakeProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submits)
}

func testEngine(t *testing.T) (*store.Store, *fakeProvider, *search.NoopIndexer, *Engine) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	provider := &fakeProvider{conflict: true}
	indexer := search.NewNoopIndexer()
	engine := NewEngine(st, provider, EngineConfig{Indexer: indexer})
	return st, provider, indexer, engine
}

func TestCreateModerationRequests(t *testing.T) {
	ctx := context.Background()
	st, _, _, engine := testEngine(t)

	handle, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusCreated, req.Status)

	_, err = engine.CreateImageModerationRequest(ctx, models.ProcessFrontend, "app-1", "blob-1", "")
	require.NoError(t, err)
	_, err = engine.CreateUserModerationRequest(ctx, models.ProcessBackend, "app-1", "user-1", "")
	require.NoError(t, err)

	// images and users are not content types on the content path
	_, err = engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeImage, "blob-1", "")
	require.True(t, errors.Is(err, models.ErrInvalidInput))

	_, err = engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "", "")
	require.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestSubmitForModeration(t *testing.T) {
	ctx := context.Background()
	st, provider, _, engine := testEngine(t)

	handle, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)

	payload := &SubmitPayload{Text: "a perfectly fine topic"}
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, handle, payload))

	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusSubmitted, req.Status)
	assert.Equal(t, 1, provider.submitCount())

	// retry path is the same idempotent operation: already-submitted is success
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackendRetry, handle, payload))
	assert.Equal(t, 1, provider.submitCount())

	err = engine.SubmitForModeration(ctx, models.ProcessBackend, "no-such-handle", payload)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSubmitProviderFailureLeavesRequestCreated(t *testing.T) {
	ctx := context.Background()
	st, provider, _, engine := testEngine(t)

	handle, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)

	provider.err = models.ErrProviderUnavailable
	err = engine.SubmitForModeration(ctx, models.ProcessBackend, handle, &SubmitPayload{Text: "hello"})
	require.True(t, errors.Is(err, models.ErrProviderUnavailable))

	// still Created, so the retry worker can pick it up again
	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusCreated, req.Status)

	provider.err = nil
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackendRetry, handle, &SubmitPayload{Text: "hello"}))
	req, err = st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusSubmitted, req.Status)
}

// slowProvider blocks until the submission context is cancelled.
type slowProvider struct{}

func (p *slowProvider) Submit(ctx context.Context, req *models.ModerationRequest, payload *SubmitPayload) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return nil
	}
}

func TestSubmitTimeoutIsRetryable(t *testing.T) {
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	engine := NewEngine(st, &slowProvider{}, EngineConfig{
		SubmitTimeout: 10 * time.Millisecond,
	})

	handle, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)

	err = engine.SubmitForModeration(ctx, models.ProcessBackend, handle, &SubmitPayload{Text: "hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))

	// a timed-out submission is retryable: the request never left Created
	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusCreated, req.Status)
}

func TestProcessModerationResults(t *testing.T) {
	ctx := context.Background()
	st, _, _, engine := testEngine(t)

	handle, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)

	// a callback before submission is premature
	err = engine.ProcessModerationResults(ctx, handle, []byte(`{"verdict": "approve"}`))
	require.True(t, errors.Is(err, models.ErrConflict))

	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, handle, &SubmitPayload{Text: "hello"}))
	require.NoError(t, engine.ProcessModerationResults(ctx, handle, []byte(`{"verdict": "approve"}`)))

	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusResultReceived, req.Status)
	assert.Equal(t, models.ReviewStatusActive, req.ReviewStatus)

	// replayed callback settles on the same state and reports success,
	// even with a contradictory verdict
	require.NoError(t, engine.ProcessModerationResults(ctx, handle, []byte(`{"verdict": "reject"}`)))
	req, err = st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusActive, req.ReviewStatus)

	// forged callbacks for unknown handles are rejected
	err = engine.ProcessModerationResults(ctx, "no-such-handle", []byte(`{"verdict": "approve"}`))
	require.True(t, errors.Is(err, models.ErrNotFound))

	// garbage payloads never advance the state machine
	h2, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-2", "")
	require.NoError(t, err)
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, h2, &SubmitPayload{Text: "hi"}))
	err = engine.ProcessModerationResults(ctx, h2, []byte(`{{{`))
	require.True(t, errors.Is(err, models.ErrInvalidInput))
	req, err = st.GetModerationRequest(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusSubmitted, req.Status)
}

func submitAndResolve(t *testing.T, engine *Engine, handle string, verdict string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, handle, &SubmitPayload{Text: "x"}))
	require.NoError(t, engine.ProcessModerationResults(ctx, handle, []byte(`{"verdict": "`+verdict+`"}`)))
}

func TestEffectiveReviewStatusRejectedWins(t *testing.T) {
	ctx := context.Background()
	_, _, _, engine := testEngine(t)

	status, err := engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusUnknown, status)

	h1, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	submitAndResolve(t, engine, h1, "reject")

	status, err = engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusRejected, status)

	// a later Active verdict never resurrects rejected content
	h2, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	submitAndResolve(t, engine, h2, "approve")

	status, err = engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusRejected, status)
}

func TestEffectiveReviewStatusPendingBlocksActive(t *testing.T) {
	ctx := context.Background()
	_, _, _, engine := testEngine(t)

	h1, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	submitAndResolve(t, engine, h1, "approve")

	status, err := engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusActive, status)

	// a newer request still in flight makes visibility undecided again
	h2, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)

	status, err = engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusUnknown, status)

	submitAndResolve(t, engine, h2, "approve")
	status, err = engine.EffectiveReviewStatus(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusActive, status)
}

func TestApplyVisibilityPropagation(t *testing.T) {
	ctx := context.Background()
	_, _, indexer, engine := testEngine(t)

	applied := map[string]models.ReviewStatus{}
	engine.RegisterAdapter(models.ContentTypeTopic, ContentAdapter{
		ApplyVerdict: func(ctx context.Context, contentHandle string, status models.ReviewStatus) error {
			applied[contentHandle] = status
			return nil
		},
	})

	h1, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	submitAndResolve(t, engine, h1, "approve")

	assert.Equal(t, models.ReviewStatusActive, applied["topic-1"])
	assert.True(t, indexer.Contains("topic-1"))

	h2, err := engine.CreateContentModerationRequest(ctx, models.ProcessFrontend, "app-1", models.ContentTypeTopic, "topic-1", "")
	require.NoError(t, err)
	submitAndResolve(t, engine, h2, "reject")

	assert.Equal(t, models.ReviewStatusRejected, applied["topic-1"])
	assert.False(t, indexer.Contains("topic-1"))
}

func TestSubmitFetchesPayloadThroughAdapter(t *testing.T) {
	ctx := context.Background()
	st, provider, _, engine := testEngine(t)

	fetched := 0
	engine.RegisterAdapter(models.ContentTypeImage, ContentAdapter{
		FetchPayload: func(ctx context.Context, contentHandle string) (*SubmitPayload, error) {
			fetched++
			return &SubmitPayload{ImageBytes: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}, nil
		},
	})

	handle, err := engine.CreateImageModerationRequest(ctx, models.ProcessFrontend, "app-1", "blob-1", "")
	require.NoError(t, err)
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, handle, nil))

	assert.Equal(t, 1, fetched)
	assert.Equal(t, 1, provider.submitCount())
	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusSubmitted, req.Status)
}

func TestSubmitSkipsDeletedContent(t *testing.T) {
	ctx := context.Background()
	st, provider, _, engine := testEngine(t)

	engine.RegisterAdapter(models.ContentTypeImage, ContentAdapter{
		FetchPayload: func(ctx context.Context, contentHandle string) (*SubmitPayload, error) {
			return nil, models.ErrNotFound
		},
	})

	handle, err := engine.CreateImageModerationRequest(ctx, models.ProcessFrontend, "app-1", "blob-gone", "")
	require.NoError(t, err)

	// content deleted before submission: not an error, nothing sent
	require.NoError(t, engine.SubmitForModeration(ctx, models.ProcessBackend, handle, nil))
	assert.Equal(t, 0, provider.submitCount())

	req, err := st.GetModerationRequest(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, models.ModerationStatusCreated, req.Status)
}
