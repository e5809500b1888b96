package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/perch-social/perch/countstore"
	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/moderation"

	"github.com/labstack/echo/v4"
)

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrPermanentContent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func jsonError(c echo.Context, err error) error {
	return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
}

// processTypeFromHeader maps the X-Process-Type header onto the execution
// context tag; background is the default for unmarked calls.
func processTypeFromHeader(c echo.Context) models.ProcessType {
	switch c.Request().Header.Get("X-Process-Type") {
	case "frontend":
		return models.ProcessFrontend
	case "backend-retry":
		return models.ProcessBackendRetry
	default:
		return models.ProcessBackend
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createImageResponse struct {
	BlobHandle string `json:"blobHandle"`
}

func (s *Server) handleCreateImage(c echo.Context) error {
	ctx := c.Request().Context()
	appHandle := c.QueryParam("app")
	userHandle := c.QueryParam("user")
	imageType := models.ImageType(c.QueryParam("imageType"))
	if !imageType.Valid() {
		return jsonError(c, models.ErrInvalidInput)
	}
	mimeType := c.Request().Header.Get(echo.HeaderContentType)

	handle, err := s.gateway.CreateImage(ctx, appHandle, userHandle, imageType, mimeType, c.Request().Body)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, createImageResponse{BlobHandle: handle})
}

func (s *Server) handleReadImage(c echo.Context) error {
	ctx := c.Request().Context()
	handle := c.Param("handle")

	meta, err := s.gateway.ReadImageMetadata(ctx, handle)
	if err != nil {
		return jsonError(c, err)
	}

	var rc io.ReadCloser
	mimeType := meta.ContentType
	if size := c.QueryParam("size"); size != "" {
		if len(size) != 1 {
			return jsonError(c, models.ErrInvalidInput)
		}
		rc, err = s.gateway.ReadImageSize(ctx, handle, size[0])
		// derived sizes are always re-encoded as jpeg
		mimeType = "image/jpeg"
	} else {
		rc, err = s.gateway.ReadImage(ctx, handle)
	}
	if err != nil {
		return jsonError(c, err)
	}
	defer rc.Close()
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.Stream(http.StatusOK, mimeType, rc)
}

type imageMetadataResponse struct {
	BlobHandle       string `json:"blobHandle"`
	AppHandle        string `json:"appHandle"`
	UserHandle       string `json:"userHandle,omitempty"`
	ImageType        string `json:"imageType"`
	ReviewStatus     string `json:"reviewStatus"`
	ResizesCompleted string `json:"resizesCompleted"`
	ResizesDone      bool   `json:"resizesDone"`
}

func (s *Server) handleReadImageMetadata(c echo.Context) error {
	ctx := c.Request().Context()
	handle := c.Param("handle")

	meta, err := s.gateway.ReadImageMetadata(ctx, handle)
	if err != nil {
		return jsonError(c, err)
	}
	done, err := s.gateway.ImageResizesComplete(ctx, handle)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, imageMetadataResponse{
		BlobHandle:       meta.BlobHandle,
		AppHandle:        meta.AppHandle,
		UserHandle:       meta.UserHandle,
		ImageType:        string(meta.ImageType),
		ReviewStatus:     string(meta.ReviewStatus),
		ResizesCompleted: meta.ResizesCompleted,
		ResizesDone:      done,
	})
}

func (s *Server) handleReadImageCdnUrl(c echo.Context) error {
	ctx := c.Request().Context()
	handle := c.Param("handle")

	var u string
	var err error
	if size := c.QueryParam("size"); size != "" {
		if len(size) != 1 {
			return jsonError(c, models.ErrInvalidInput)
		}
		u, err = s.gateway.ReadImageSizeCdnUrl(ctx, handle, size[0])
	} else {
		u, err = s.gateway.ReadImageCdnUrl(ctx, handle)
	}
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleDeleteImage(c echo.Context) error {
	if err := s.gateway.DeleteImage(c.Request().Context(), c.Param("handle")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createModerationRequestBody struct {
	AppHandle     string `json:"appHandle"`
	ContentType   string `json:"contentType"`
	ContentHandle string `json:"contentHandle"`
	CallbackURI   string `json:"callbackUri"`
}

type createModerationRequestResponse struct {
	ModerationHandle string `json:"moderationHandle"`
}

func (s *Server) handleCreateModerationRequest(c echo.Context) error {
	ctx := c.Request().Context()
	pt := processTypeFromHeader(c)

	var body createModerationRequestBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}

	ct := models.ContentType(body.ContentType)
	var handle string
	var err error
	switch ct {
	case models.ContentTypeImage:
		handle, err = s.engine.CreateImageModerationRequest(ctx, pt, body.AppHandle, body.ContentHandle, body.CallbackURI)
	case models.ContentTypeUser:
		handle, err = s.engine.CreateUserModerationRequest(ctx, pt, body.AppHandle, body.ContentHandle, body.CallbackURI)
	default:
		handle, err = s.engine.CreateContentModerationRequest(ctx, pt, body.AppHandle, ct, body.ContentHandle, body.CallbackURI)
	}
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, createModerationRequestResponse{ModerationHandle: handle})
}

type moderationRequestView struct {
	ModerationHandle string    `json:"moderationHandle"`
	ContentType      string    `json:"contentType"`
	ContentHandle    string    `json:"contentHandle"`
	Status           string    `json:"status"`
	ReviewStatus     string    `json:"reviewStatus"`
	CreatedAt        time.Time `json:"createdAt"`
}

type listModerationRequestsResponse struct {
	Requests []moderationRequestView `json:"requests"`
	Cursor   string                  `json:"cursor,omitempty"`
}

const maxListLimit = 100

func (s *Server) handleListModerationRequests(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return jsonError(c, models.ErrInvalidInput)
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}
	reqs, cursor, err := s.store.ListModerationRequests(ctx, c.QueryParam("app"), c.QueryParam("cursor"), limit)
	if err != nil {
		return jsonError(c, err)
	}
	out := listModerationRequestsResponse{Cursor: cursor}
	for _, req := range reqs {
		out.Requests = append(out.Requests, moderationRequestView{
			ModerationHandle: req.ModerationHandle,
			ContentType:      string(req.ContentType),
			ContentHandle:    req.ContentHandle,
			Status:           string(req.Status),
			ReviewStatus:     string(req.ReviewStatus),
			CreatedAt:        req.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type submitBody struct {
	Text string `json:"text,omitempty"`
}

func (s *Server) handleSubmitForModeration(c echo.Context) error {
	ctx := c.Request().Context()
	pt := processTypeFromHeader(c)
	handle := c.Param("handle")

	var body submitBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	var payload *moderation.SubmitPayload
	if body.Text != "" {
		payload = &moderation.SubmitPayload{Text: body.Text}
	}

	if err := s.engine.SubmitForModeration(ctx, pt, handle, payload); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "submitted"})
}

type moderationStatsResponse struct {
	AppHandle string            `json:"appHandle"`
	Period    string            `json:"period"`
	Counts    map[string]*int64 `json:"counts"`
}

// Counts are nullable: a JSON null means the counter was never materialized
// for that period, which is not the same as zero.
func (s *Server) handleModerationStats(c echo.Context) error {
	ctx := c.Request().Context()
	appHandle := c.QueryParam("app")
	period := c.QueryParam("period")
	if period == "" {
		period = countstore.PeriodTotal
	}

	out := moderationStatsResponse{
		AppHandle: appHandle,
		Period:    period,
		Counts:    map[string]*int64{},
	}
	names := []string{
		"moderation/submitted",
		"moderation/verdict/" + string(models.ReviewStatusActive),
		"moderation/verdict/" + string(models.ReviewStatusRejected),
	}
	for _, name := range names {
		count, err := s.engine.CounterValue(ctx, name, appHandle, period)
		if err != nil {
			return jsonError(c, err)
		}
		out.Counts[name] = count
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleModerationCallback(c echo.Context) error {
	ctx := c.Request().Context()
	handle := c.Param("handle")

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	if err := s.engine.ProcessModerationResults(ctx, handle, payload); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

type registerDeviceBody struct {
	AppHandle      string `json:"appHandle"`
	Platform       string `json:"platform"`
	RegistrationID string `json:"registrationId"`
	Language       string `json:"language,omitempty"`
}

func (s *Server) handleRegisterDevice(c echo.Context) error {
	ctx := c.Request().Context()

	var body registerDeviceBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	reg := models.PushRegistration{
		UserHandle:      c.Param("user"),
		AppHandle:       body.AppHandle,
		Platform:        models.PlatformType(body.Platform),
		RegistrationID:  body.RegistrationID,
		Language:        body.Language,
		LastUpdatedTime: time.Now().UTC(),
	}
	if err := s.hubs.RegisterDevice(ctx, &reg); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "registered"})
}

type sendNotificationBody struct {
	AppHandle string `json:"appHandle"`
	Message   string `json:"message"`
}

// Delivery is fire-and-forget: the request is acknowledged once handed to the
// hub manager, and delivery failures only surface in logs.
func (s *Server) handleSendNotification(c echo.Context) error {
	var body sendNotificationBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	s.hubs.SendNotification(c.Request().Context(), c.Param("user"), body.AppHandle, body.Message)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleUnregisterDevice(c echo.Context) error {
	if err := s.hubs.UnregisterDevice(c.Request().Context(), c.Param("user"), c.QueryParam("app")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type hubBody struct {
	Platform  string `json:"platform"`
	AppHandle string `json:"appHandle"`
	Path      string `json:"path,omitempty"`
	Key       string `json:"key,omitempty"`
}

func (s *Server) handleCreateHub(c echo.Context) error {
	var body hubBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	if err := s.hubs.CreateHub(c.Request().Context(), models.PlatformType(body.Platform), body.AppHandle, body.Path, body.Key); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleDeleteHub(c echo.Context) error {
	var body hubBody
	if err := c.Bind(&body); err != nil {
		return jsonError(c, models.ErrInvalidInput)
	}
	if err := s.hubs.DeleteHub(c.Request().Context(), models.PlatformType(body.Platform), body.AppHandle); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
