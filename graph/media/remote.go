package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Remote delegates media work to an HTTP service.
//
// Requests are POSTed as JSON to {BaseURL}/crop and {BaseURL}/extract-frame
// and the service answers {"outputUrl": "..."}. Any non-2xx status is an
// error carrying the response body.
//
// Example usage:
//
//	p := media.NewRemote("https://media.internal/api")
//	out, err := p.Crop(ctx, media.CropRequest{ImageURL: src, WidthPercent: 50, HeightPercent: 50})
type Remote struct {
	BaseURL string
	client  *http.Client
}

// NewRemote creates a Remote processor. Timeouts come from the context.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type remoteResponse struct {
	OutputURL string `json:"outputUrl"`
	Error     string `json:"error,omitempty"`
}

// Crop implements Processor.
func (r *Remote) Crop(ctx context.Context, req CropRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return r.post(ctx, "/crop", req)
}

// ExtractFrame implements Processor.
func (r *Remote) ExtractFrame(ctx context.Context, req FrameRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return r.post(ctx, "/extract-frame", req)
}

func (r *Remote) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out remoteResponse
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", fmt.Errorf("media service %s: %s: %s", path, resp.Status, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("media service %s: invalid response: %w", path, decodeErr)
	}
	return out.OutputURL, nil
}
