// Package comfy talks to a ComfyUI-compatible diffusion backend: workflow
// submission, history polling, artifact fetch, and the full
// submit-await-fetch generation pipeline.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/promptforge/promptforge/internal/workflows"
)

// Client is a thin HTTP client for the backend's REST surface.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a backend client for baseURL (e.g. http://localhost:8188).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ImageRef locates one generated image on the backend.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the per-node output block of a history record.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// HistoryStatus is the execution status block of a history record.
type HistoryStatus struct {
	StatusStr string          `json:"status_str"`
	Completed bool            `json:"completed"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// HistoryRecord is one completed (or errored) prompt in backend history.
type HistoryRecord struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// Images returns every image across the record's node outputs.
func (h *HistoryRecord) Images() []ImageRef {
	var out []ImageRef
	for _, node := range h.Outputs {
		out = append(out, node.Images...)
	}
	return out
}

type submitRequest struct {
	Prompt   workflows.Doc `json:"prompt"`
	ClientID string        `json:"client_id,omitempty"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit posts a workflow document and returns the backend's prompt id.
func (c *Client) Submit(ctx context.Context, doc workflows.Doc, clientID string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: doc, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("marshal workflow: %w", err)
	}

	respBody, err := c.post(ctx, "/prompt", body)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("backend response missing prompt_id: %s", truncate(respBody, 200))
	}
	return resp.PromptID, nil
}

// History fetches the record for a prompt id. A nil record with a nil error
// means the prompt has not completed yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryRecord, error) {
	body, err := c.get(ctx, "/history/"+url.PathEscape(promptID))
	if err != nil {
		return nil, err
	}

	var all map[string]HistoryRecord
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	rec, ok := all[promptID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// FetchArtifact downloads raw artifact bytes from the backend.
func (c *Client) FetchArtifact(ctx context.Context, ref ImageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	return c.get(ctx, "/view?"+q.Encode())
}

// SystemStats returns the backend's system stats document.
func (c *Client) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	return c.getJSON(ctx, "/system_stats")
}

// QueueSnapshot returns the backend's queue document.
func (c *Client) QueueSnapshot(ctx context.Context) (map[string]interface{}, error) {
	return c.getJSON(ctx, "/queue")
}

// Interrupt asks the backend to stop the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	_, err := c.post(ctx, "/interrupt", nil)
	return err
}

// Health reports whether the backend answers its stats endpoint.
func (c *Client) Health(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.get(probeCtx, "/system_stats"); err != nil {
		return &UnreachableError{URL: c.baseURL, Err: err}
	}
	return nil
}

// AwaitCompletion polls history until the prompt finishes, errors, or the
// timeout expires. It returns the first non-empty image list found plus the
// wall-clock elapsed time.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, timeout, pollInterval time.Duration) ([]ImageRef, float64, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	start := time.Now()
	deadline := start.Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, time.Since(start).Seconds(), ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, time.Since(start).Seconds(), &TimeoutError{PromptID: promptID, After: timeout}
		}

		rec, err := c.History(ctx, promptID)
		if err != nil {
			// Transient history failures are retried until the deadline.
			continue
		}
		if rec == nil {
			continue
		}
		if rec.Status.StatusStr == "error" {
			return nil, time.Since(start).Seconds(), &ExecutionError{
				PromptID: promptID,
				Detail:   string(rec.Status.Error),
			}
		}
		if images := rec.Images(); len(images) > 0 {
			return images, time.Since(start).Seconds(), nil
		}
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
