// Package moderation owns the lifecycle of moderation requests: creation on
// the interactive path, background submission to the external review
// provider, and replay-safe processing of provider verdicts. The state
// machine is Created -> Submitted -> ResultReceived, enforced with
// conditional store writes rather than client-side locks.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perch-social/perch/countstore"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"

	"golang.org/x/time/rate"
)

// ContentAdapter is one entry of the dispatch table keyed by content type:
// how to fetch the submit payload for the owning entity, and how to apply a
// verdict to it. Topics, comments, replies, images, and user profiles all
// share this contract instead of per-type plumbing.
type ContentAdapter struct {
	FetchPayload func(ctx context.Context, contentHandle string) (*SubmitPayload, error)
	ApplyVerdict func(ctx context.Context, contentHandle string, status models.ReviewStatus) error
}

// Indexer propagates visibility changes to the search/trending index.
type Indexer interface {
	IndexContent(ctx context.Context, req *models.ModerationRequest) error
	DeleteContent(ctx context.Context, contentHandle string) error
}

type Engine struct {
	store    *store.Store
	provider Provider
	adapters map[models.ContentType]ContentAdapter
	indexer  Indexer
	counters countstore.CountStore
	logger   *slog.Logger
	limiter  *rate.Limiter
	timeout  time.Duration
}

type EngineConfig struct {
	Indexer  Indexer
	Counters countstore.CountStore
	Logger   *slog.Logger
	// max provider submissions per second; zero means unlimited
	SubmitRateLimit int
	// bound on a single provider submission call
	SubmitTimeout time.Duration
}

func NewEngine(st *store.Store, provider Provider, config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if config.SubmitRateLimit > 0 {
		limit = rate.Limit(config.SubmitRateLimit)
	}
	timeout := config.SubmitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	counters := config.Counters
	if counters == nil {
		counters = countstore.NewMemCountStore()
	}
	return &Engine{
		store:    st,
		provider: provider,
		adapters: make(map[models.ContentType]ContentAdapter),
		indexer:  config.Indexer,
		counters: counters,
		logger:   logger.With("system", "moderation"),
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  timeout,
	}
}

// RegisterAdapter wires the downstream manager for one content type. Call
// during startup, before the engine starts taking traffic.
func (e *Engine) RegisterAdapter(ct models.ContentType, adapter ContentAdapter) {
	e.adapters[ct] = adapter
}

func (e *Engine) createRequest(ctx context.Context, pt models.ProcessType, ct models.ContentType, appHandle, contentHandle, callbackURI string) (string, error) {
	if contentHandle == "" {
		return "", fmt.Errorf("%w: empty content handle", models.ErrInvalidInput)
	}
	req := models.ModerationRequest{
		ModerationHandle: models.NewHandle(),
		AppHandle:        appHandle,
		ContentType:      ct,
		ContentHandle:    contentHandle,
		CallbackURI:      callbackURI,
		Status:           models.ModerationStatusCreated,
		ReviewStatus:     models.ReviewStatusUnknown,
	}
	if err := e.store.CreateModerationRequest(ctx, &req); err != nil {
		return "", err
	}
	requestsCreated.Inc()
	e.logger.Info("created moderation request",
		"moderationHandle", req.ModerationHandle,
		"contentType", ct, "contentHandle", contentHandle, "processType", pt.String())
	return req.ModerationHandle, nil
}

// CreateContentModerationRequest persists a request for a topic, comment, or
// reply without contacting the provider; the interactive path stays decoupled
// from provider latency.
func (e *Engine) CreateContentModerationRequest(ctx context.Context, pt models.ProcessType, appHandle string, ct models.ContentType, contentHandle, callbackURI string) (string, error) {
	switch ct {
	case models.ContentTypeTopic, models.ContentTypeComment, models.ContentTypeReply:
		return e.createRequest(ctx, pt, ct, appHandle, contentHandle, callbackURI)
	default:
		return "", fmt.Errorf("%w: %q is not a content moderation type", models.ErrInvalidInput, ct)
	}
}

func (e *Engine) CreateImageModerationRequest(ctx context.Context, pt models.ProcessType, appHandle, blobHandle, callbackURI string) (string, error) {
	return e.createRequest(ctx, pt, models.ContentTypeImage, appHandle, blobHandle, callbackURI)
}

func (e *Engine) CreateUserModerationRequest(ctx context.Context, pt models.ProcessType, appHandle, userHandle, callbackURI string) (string, error) {
	return e.createRequest(ctx, pt, models.ContentTypeUser, appHandle, userHandle, callbackURI)
}

// SubmitForModeration transitions Created -> Submitted: read the persisted
// request, hand the payload to the provider, record the acknowledgment.
// Invoked with ProcessBackend on first attempt and ProcessBackendRetry on
// retry; both paths are the same idempotent operation.
//
// Duplicate-submission policy: status is checked before the provider call,
// and the provider is additionally treated as idempotent per moderation
// handle (its "already submitted" response maps to success). So the worst a
// crash between provider ack and status write costs is one redundant,
// provider-side-deduplicated call on retry.
//
// A nil payload makes the engine fetch it through the registered adapter.
func (e *Engine) SubmitForModeration(ctx context.Context, pt models.ProcessType, moderationHandle string, payload *SubmitPayload) error {
	ctx, span := tracer.Start(ctx, "SubmitForModeration")
	defer span.End()

	log := e.logger.With("moderationHandle", moderationHandle, "processType", pt.String())

	req, err := e.store.GetModerationRequest(ctx, moderationHandle)
	if err != nil {
		return err
	}
	if req.Status != models.ModerationStatusCreated {
		// a previous attempt (or a concurrent submitter) already got here
		log.Info("moderation request already submitted", "status", req.Status)
		return nil
	}

	if payload == nil {
		if adapter, ok := e.adapters[req.ContentType]; ok && adapter.FetchPayload != nil {
			payload, err = adapter.FetchPayload(ctx, req.ContentHandle)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					// content vanished before submission; nothing to review
					log.Info("content deleted before submission, skipping")
					return nil
				}
				return fmt.Errorf("fetching submit payload: %w", err)
			}
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.provider.Submit(callCtx, req, payload); err != nil {
		submissionsFailed.Inc()
		if callCtx.Err() != nil {
			return fmt.Errorf("%w: submission timed out", models.ErrProviderUnavailable)
		}
		return err
	}

	err = e.store.TransitionModerationRequest(ctx, moderationHandle,
		models.ModerationStatusCreated, models.ModerationStatusSubmitted, nil)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// concurrent submitter won the transition; provider side deduplicates
			return nil
		}
		return err
	}

	submissionsSucceeded.Inc()
	e.counters.Increment(ctx, "moderation/submitted", req.AppHandle)
	log.Info("submitted for moderation", "contentType", req.ContentType, "contentHandle", req.ContentHandle)
	return nil
}

// ProcessModerationResults is the terminal transition Submitted ->
// ResultReceived, invoked by the provider callback. It is replay-safe:
// duplicate callbacks for the same handle settle on the same final state and
// report success. Forged or premature callbacks (unknown handle, request not
// yet submitted) are rejected.
func (e *Engine) ProcessModerationResults(ctx context.Context, moderationHandle string, payload []byte) error {
	ctx, span := tracer.Start(ctx, "ProcessModerationResults")
	defer span.End()

	log := e.logger.With("moderationHandle", moderationHandle)

	req, err := e.store.GetModerationRequest(ctx, moderationHandle)
	if err != nil {
		return err
	}
	switch req.Status {
	case models.ModerationStatusResultReceived:
		log.Info("duplicate moderation callback, already processed")
		return nil
	case models.ModerationStatusCreated:
		return fmt.Errorf("%w: callback for request never submitted", models.ErrConflict)
	}

	verdict, _, err := ParseResult(payload)
	if err != nil {
		return err
	}

	err = e.store.TransitionModerationRequest(ctx, moderationHandle,
		models.ModerationStatusSubmitted, models.ModerationStatusResultReceived, &verdict)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// a concurrent callback raced us past Submitted; same outcome
			log.Info("moderation callback lost transition race")
			return nil
		}
		return err
	}
	verdictsReceived.Inc()
	e.counters.Increment(ctx, "moderation/verdict/"+string(verdict), req.AppHandle)
	log.Info("moderation verdict recorded", "verdict", verdict, "contentHandle", req.ContentHandle)

	req.Status = models.ModerationStatusResultReceived
	req.ReviewStatus = verdict
	e.applyVisibility(ctx, req)
	return nil
}

// CounterValue reads one activity counter bucket. nil means the counter was
// never materialized for that period, which callers must keep distinct from
// an explicit zero.
func (e *Engine) CounterValue(ctx context.Context, name, appHandle, period string) (*int64, error) {
	return e.counters.GetCount(ctx, name, appHandle, period)
}

// EffectiveReviewStatus computes content visibility across every request ever
// created for the content handle. Policy: any Rejected verdict, pending or
// resolved, hides the content permanently; a pending later request blocks
// Active; otherwise the most recently created resolved request decides.
func (e *Engine) EffectiveReviewStatus(ctx context.Context, contentHandle string) (models.ReviewStatus, error) {
	reqs, err := e.store.ListModerationRequestsForContent(ctx, contentHandle)
	if err != nil {
		return models.ReviewStatusUnknown, err
	}
	if len(reqs) == 0 {
		return models.ReviewStatusUnknown, nil
	}
	anyPending := false
	for _, req := range reqs {
		if req.ReviewStatus == models.ReviewStatusRejected {
			return models.ReviewStatusRejected, nil
		}
		if req.Pending() {
			anyPending = true
		}
	}
	if anyPending {
		return models.ReviewStatusUnknown, nil
	}
	// reqs are newest-first; the most recent resolved verdict decides
	return reqs[0].ReviewStatus, nil
}

// applyVisibility pushes the recomputed effective status to the owning
// manager and the search index. Failures here are logged no-ops: the
// moderation record has already advanced, and a deleted content entity is
// not a pipeline failure.
func (e *Engine) applyVisibility(ctx context.Context, req *models.ModerationRequest) {
	log := e.logger.With("moderationHandle", req.ModerationHandle, "contentHandle", req.ContentHandle)

	effective, err := e.EffectiveReviewStatus(ctx, req.ContentHandle)
	if err != nil {
		log.Warn("failed to compute effective review status", "err", err)
		return
	}

	if adapter, ok := e.adapters[req.ContentType]; ok && adapter.ApplyVerdict != nil {
		if err := adapter.ApplyVerdict(ctx, req.ContentHandle, effective); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Info("content already deleted, verdict not applied")
			} else {
				log.Warn("failed to apply verdict to content", "err", err)
			}
		}
	} else {
		log.Warn("no adapter registered for content type", "contentType", req.ContentType)
	}

	if e.indexer == nil {
		return
	}
	switch effective {
	case models.ReviewStatusRejected:
		if err := e.indexer.DeleteContent(ctx, req.ContentHandle); err != nil {
			log.Warn("failed to remove content from index", "err", err)
		}
	case models.ReviewStatusActive:
		if err := e.indexer.IndexContent(ctx, req); err != nil {
			log.Warn("failed to reindex content", "err", err)
		}
	}
}
