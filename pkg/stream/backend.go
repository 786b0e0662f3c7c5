// Package stream drives the live session against the video generation
// backend: REST control plane, WebRTC negotiation with queued candidate
// retry, rate-limited parameter delivery, and the reconnecting session
// state machine that owns all of it.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
)

// HealthStatus is the backend's health report.
type HealthStatus struct {
	Status  string  `json:"status"`
	Version string  `json:"version,omitempty"`
	GPU     string  `json:"gpu,omitempty"`
	VRAMGb  float64 `json:"vram,omitempty"`
}

// PipelineDescriptor describes one loadable pipeline stage.
type PipelineDescriptor struct {
	Name          string          `json:"name"`
	UsageTags     []string        `json:"usage_tags,omitempty"`
	Capabilities  map[string]bool `json:"capabilities,omitempty"`
	EstimatedCost float64         `json:"estimated_resource_cost,omitempty"`
}

// PipelineState is the backend's pipeline lifecycle state.
type PipelineState string

const (
	PipelineNotLoaded PipelineState = "not_loaded"
	PipelineLoading   PipelineState = "loading"
	PipelineLoaded    PipelineState = "loaded"
	PipelineError     PipelineState = "error"
	PipelineIdle      PipelineState = "idle"
	PipelineUnloading PipelineState = "unloading"
)

// Client is the backend REST client. It is constructed explicitly and
// injected into the controller; there is no package-level instance.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  slog.Default().With("component", "stream.client"),
	}
}

// Health performs the backend health check.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PipelineSchemas fetches the available pipeline descriptors.
func (c *Client) PipelineSchemas(ctx context.Context) (map[string]PipelineDescriptor, error) {
	var out map[string]PipelineDescriptor
	if err := c.getJSON(ctx, "/pipelines/schemas", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPipelines asks the backend to load an ordered pipeline chain.
// Older backends only understand a single pipeline id; a 400/422 on the
// chain request falls back to the legacy single-id form.
func (c *Client) LoadPipelines(ctx context.Context, ids []string, loadParams map[string]any) error {
	if len(ids) == 0 {
		return fmt.Errorf("stream: no pipeline ids")
	}
	body := map[string]any{
		"pipeline_ids": ids,
		"load_params":  loadParams,
	}
	status, err := c.postJSON(ctx, "/pipeline/load", body, nil)
	if err == nil {
		return nil
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		c.logger.Warn("chain load rejected, falling back to legacy single-id load",
			"status", status, "pipelines", len(ids))
		legacy := map[string]any{
			"pipeline_id": ids[0],
			"load_params": loadParams,
		}
		if _, err := c.postJSON(ctx, "/pipeline/load", legacy, nil); err != nil {
			return err
		}
		return nil
	}
	return err
}

// PipelineStatus reports the pipeline lifecycle state and, for the
// error state, the backend's error message.
func (c *Client) PipelineStatus(ctx context.Context) (PipelineState, string, error) {
	var out struct {
		Status PipelineState `json:"status"`
		Error  string        `json:"error,omitempty"`
	}
	if err := c.getJSON(ctx, "/pipeline/status", &out); err != nil {
		return "", "", err
	}
	return out.Status, out.Error, nil
}

// WaitForPipeline polls the pipeline status until it reports loaded,
// reports error, or ctx expires.
func (c *Client) WaitForPipeline(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		state, errMsg, err := c.PipelineStatus(ctx)
		if err != nil {
			return err
		}
		switch state {
		case PipelineLoaded:
			return nil
		case PipelineError:
			return fmt.Errorf("stream: pipeline reported error: %s", errMsg)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("stream: pipeline load timed out in state %q: %w", state, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ICEServers fetches the transport relay/STUN configuration.
func (c *Client) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var out struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username,omitempty"`
			Credential string   `json:"credential,omitempty"`
		} `json:"ice_servers"`
	}
	if err := c.getJSON(ctx, "/webrtc/ice-servers", &out); err != nil {
		return nil, err
	}
	servers := make([]webrtc.ICEServer, 0, len(out.ICEServers))
	for _, s := range out.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// SendOffer posts the local offer and returns the session id and remote
// answer. A response without a session id is a hard error: candidate
// exchange is impossible without one.
func (c *Client) SendOffer(ctx context.Context, offer webrtc.SessionDescription, initial *mapping.GenerationParameters) (string, webrtc.SessionDescription, error) {
	body := map[string]any{
		"sdp":  offer.SDP,
		"type": offer.Type.String(),
	}
	if initial != nil {
		body["initialParameters"] = initial
	}
	var out struct {
		SessionID string `json:"sessionId"`
		SDP       string `json:"sdp"`
		Type      string `json:"type"`
	}
	if _, err := c.postJSON(ctx, "/webrtc/offer", body, &out); err != nil {
		return "", webrtc.SessionDescription{}, err
	}
	if out.SessionID == "" {
		return "", webrtc.SessionDescription{}, fmt.Errorf("stream: offer response missing sessionId")
	}
	answer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(out.Type),
		SDP:  out.SDP,
	}
	return out.SessionID, answer, nil
}

// SendCandidates delivers local ICE candidates for an open session.
func (c *Client) SendCandidates(ctx context.Context, sessionID string, candidates []webrtc.ICECandidateInit) error {
	body := map[string]any{"candidates": candidates}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/webrtc/offer/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return httpError(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return httpError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON returns the HTTP status alongside the error so callers can
// branch on 400/422 for legacy fallbacks.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, httpError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func httpError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("stream: backend returned %d: %s", resp.StatusCode, msg)
}
