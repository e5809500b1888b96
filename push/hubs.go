// Package push manages notification hubs and device registrations. Delivery
// is fire-and-forget: no receipt ever reaches the caller.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/store"
	"github.com/perch-social/perch/util"
)

type HubManager struct {
	store  *store.Store
	client *http.Client
	logger *slog.Logger
}

func NewHubManager(st *store.Store, logger *slog.Logger) *HubManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubManager{
		store:  st,
		client: util.RobustHTTPClient(),
		logger: logger.With("system", "push"),
	}
}

// CreateHub registers a notification hub for one (platform, app) pair with
// its platform-specific path and key credentials.
func (h *HubManager) CreateHub(ctx context.Context, platform models.PlatformType, appHandle, path, key string) error {
	hub := models.PushHub{
		Platform:  platform,
		AppHandle: appHandle,
		Path:      path,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreatePushHub(ctx, &hub); err != nil {
		return err
	}
	h.logger.Info("created push hub", "platform", platform, "app", appHandle)
	return nil
}

func (h *HubManager) DeleteHub(ctx context.Context, platform models.PlatformType, appHandle string) error {
	return h.store.DeletePushHub(ctx, platform, appHandle)
}

// RegisterDevice upserts a device registration, applying the lifecycle
// predicates: a timestamp too far in the future is rejected outright, and a
// refresh carrying an already-expired timestamp is discarded, taking any
// superseded row with it.
func (h *HubManager) RegisterDevice(ctx context.Context, reg *models.PushRegistration) error {
	if IsRegistrationTooNew(reg.LastUpdatedTime) {
		return fmt.Errorf("%w: registration timestamp is in the future", models.ErrInvalidInput)
	}
	if HasRegistrationExpired(reg.LastUpdatedTime) {
		if err := h.store.DeletePushRegistration(ctx, reg.UserHandle, reg.AppHandle); err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		h.logger.Info("discarded expired registration refresh", "user", reg.UserHandle, "app", reg.AppHandle)
		return nil
	}
	return h.store.UpsertPushRegistration(ctx, reg)
}

func (h *HubManager) UnregisterDevice(ctx context.Context, userHandle, appHandle string) error {
	return h.store.DeletePushRegistration(ctx, userHandle, appHandle)
}

// SweepStaleRegistrations deletes registrations older than the expiry window.
// Returns the number removed.
func (h *HubManager) SweepStaleRegistrations(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-registrationExpiry)
	regs, err := h.store.ListStalePushRegistrations(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, reg := range regs {
		if err := h.store.DeletePushRegistration(ctx, reg.UserHandle, reg.AppHandle); err != nil {
			h.logger.Warn("failed to delete stale registration", "user", reg.UserHandle, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		h.logger.Info("swept stale push registrations", "removed", removed)
	}
	return removed, nil
}

type notificationBody struct {
	RegistrationID string `json:"registrationId"`
	Message        string `json:"message"`
	Language       string `json:"language,omitempty"`
}

// SendNotification delivers a message to a user's registered device through
// the app's hub. Fire-and-forget: every failure is logged and swallowed.
func (h *HubManager) SendNotification(ctx context.Context, userHandle, appHandle, message string) {
	log := h.logger.With("user", userHandle, "app", appHandle)

	reg, err := h.store.GetPushRegistration(ctx, userHandle, appHandle)
	if err != nil {
		log.Debug("no push registration for user", "err", err)
		return
	}
	if HasRegistrationExpired(reg.LastUpdatedTime) {
		log.Debug("skipping delivery to expired registration")
		return
	}
	hub, err := h.store.GetPushHub(ctx, reg.Platform, appHandle)
	if err != nil {
		log.Debug("no push hub for platform", "platform", reg.Platform, "err", err)
		return
	}

	body, err := json.Marshal(notificationBody{
		RegistrationID: reg.RegistrationID,
		Message:        message,
		Language:       reg.Language,
	})
	if err != nil {
		log.Warn("failed to encode notification", "err", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", hub.Path, bytes.NewReader(body))
	if err != nil {
		log.Warn("failed to build notification request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Key %s", hub.Key))

	res, err := h.client.Do(req)
	if err != nil {
		log.Warn("push delivery failed", "err", err)
		return
	}
	res.Body.Close()
	if res.StatusCode >= 400 {
		log.Warn("push delivery rejected", "status_code", res.StatusCode)
	}
}
