package office

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// The host document application behind the bridge is a single mutually
// exclusive resource: at most one automation operation may be in flight
// process-wide. Queued callers wait here.
var automationSlot = semaphore.NewWeighted(1)

const (
	automationBaseDelay = 400 * time.Millisecond
	automationBackoff   = 1.6
)

// AutomationBackend drives a host document application (Word or a
// compatible editor) through a local bridge service. It yields exact page
// and paragraph anchors and native copy fidelity on split, at the cost of
// serialized access.
type AutomationBackend struct {
	baseURL string
	client  *http.Client
	retries int
}

// NewAutomationBackend creates a bridge client. retries bounds busy-retries
// per call; zero means the default of 5.
func NewAutomationBackend(baseURL string, retries int) *AutomationBackend {
	if retries <= 0 {
		retries = 5
	}
	return &AutomationBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		retries: retries,
	}
}

func (b *AutomationBackend) Name() string { return "automation" }

// ProbeAutomation reports whether a bridge answers its health endpoint.
// Used once at engine construction to select the backend strategy.
func ProbeAutomation(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type automationOutlineRequest struct {
	Path string `json:"path"`
}

type automationOutlineResponse struct {
	Entries []OutlineEntry `json:"entries"`
}

type automationSplitRequest struct {
	Path    string         `json:"path"`
	Dir     string         `json:"dir"`
	Level   int            `json:"level"`
	Outline []OutlineEntry `json:"outline"`
}

type automationSplitResponse struct {
	Sections []SectionFile `json:"sections"`
	Warnings []Warning     `json:"warnings"`
}

func (b *AutomationBackend) Outline(ctx context.Context, path string) ([]OutlineEntry, error) {
	var resp automationOutlineResponse
	if err := b.call(ctx, "/outline", automationOutlineRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Entries) == 0 {
		return nil, ErrNoHeadings
	}
	return resp.Entries, nil
}

func (b *AutomationBackend) Split(ctx context.Context, path string, outline []OutlineEntry, level int, dir string) ([]SectionFile, []Warning, error) {
	if len(outline) == 0 {
		return nil, nil, ErrEmptyOutline
	}
	var resp automationSplitResponse
	req := automationSplitRequest{Path: path, Dir: dir, Level: level, Outline: outline}
	if err := b.call(ctx, "/split", req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Sections, resp.Warnings, nil
}

// call serializes access to the bridge, retrying rejected calls with
// exponential backoff before giving up with ErrBusy.
func (b *AutomationBackend) call(ctx context.Context, endpoint string, reqBody, respBody any) error {
	if err := automationSlot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer automationSlot.Release(1)

	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	delay := automationBaseDelay
	var lastErr error
	for attempt := 0; attempt < b.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("automation: bridge busy, retrying",
				"endpoint", endpoint, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * automationBackoff)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("bridge request failed: %w", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return json.Unmarshal(body, respBody)
		case http.StatusConflict, http.StatusLocked, http.StatusServiceUnavailable, http.StatusTooManyRequests:
			lastErr = fmt.Errorf("bridge rejected call: %s", resp.Status)
			continue
		default:
			return fmt.Errorf("bridge error %d: %s", resp.StatusCode, string(body))
		}
	}

	return fmt.Errorf("%w: %v", ErrBusy, lastErr)
}
