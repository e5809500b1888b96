package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/util"
)

// SubmitPayload is the content handed to the review provider alongside the
// moderation handle: text for topics/comments/replies/user profiles, raw
// bytes for images.
type SubmitPayload struct {
	Text       string
	ImageBytes []byte
	MimeType   string
}

// Provider is the external review service. Submission is asynchronous: the
// provider acknowledges the job and later delivers its verdict to the
// callback URI. Providers are idempotent per moderation handle; an "already
// submitted" response is success, not failure.
type Provider interface {
	Submit(ctx context.Context, req *models.ModerationRequest, payload *SubmitPayload) error
}

// HTTPProvider submits review jobs to an HTTP review API: JSON for text
// content, multipart form upload for images.
type HTTPProvider struct {
	Client   *http.Client
	Host     string
	ApiToken string
}

func NewHTTPProvider(host, token string) *HTTPProvider {
	return &HTTPProvider{
		Client:   util.RobustHTTPClient(),
		Host:     host,
		ApiToken: token,
	}
}

var _ Provider = (*HTTPProvider)(nil)

type submitBody struct {
	ModerationHandle string `json:"moderationHandle"`
	AppHandle        string `json:"appHandle"`
	ContentType      string `json:"contentType"`
	ContentHandle    string `json:"contentHandle"`
	CallbackUri      string `json:"callbackUri"`
	Text             string `json:"text,omitempty"`
}

func (p *HTTPProvider) Submit(ctx context.Context, mreq *models.ModerationRequest, payload *SubmitPayload) error {
	var req *http.Request
	var err error

	if payload != nil && len(payload.ImageBytes) > 0 {
		// generic HTTP form file upload, metadata fields alongside the media part
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, ferr := writer.CreateFormFile("media", mreq.ModerationHandle)
		if ferr != nil {
			return ferr
		}
		if _, ferr := part.Write(payload.ImageBytes); ferr != nil {
			return ferr
		}
		writer.WriteField("moderationHandle", mreq.ModerationHandle)
		writer.WriteField("contentHandle", mreq.ContentHandle)
		writer.WriteField("callbackUri", mreq.CallbackURI)
		if ferr := writer.Close(); ferr != nil {
			return ferr
		}
		req, err = http.NewRequestWithContext(ctx, "POST", p.Host+"/api/v1/review/media", body)
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", writer.FormDataContentType())
	} else {
		sb := submitBody{
			ModerationHandle: mreq.ModerationHandle,
			AppHandle:        mreq.AppHandle,
			ContentType:      string(mreq.ContentType),
			ContentHandle:    mreq.ContentHandle,
			CallbackUri:      mreq.CallbackURI,
		}
		if payload != nil {
			sb.Text = payload.Text
		}
		b, merr := json.Marshal(&sb)
		if merr != nil {
			return merr
		}
		req, err = http.NewRequestWithContext(ctx, "POST", p.Host+"/api/v1/review/content", bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	}

	req.Header.Set("Authorization", fmt.Sprintf("Token %s", p.ApiToken))
	req.Header.Set("Accept", "application/json")

	res, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: review submission failed: %v", models.ErrProviderUnavailable, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusAccepted:
		return nil
	case res.StatusCode == http.StatusConflict:
		// provider already holds a job for this moderation handle
		return nil
	default:
		return fmt.Errorf("%w: review submission failed statusCode=%d", models.ErrProviderUnavailable, res.StatusCode)
	}
}
