// Package backscan provides a Go client for the backscan server API.
package backscan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backscan/internal/domain"
	"backscan/internal/runs"
	"backscan/internal/strategy"
)

// Re-exported engine types. The SDK speaks the same JSON shapes the server
// serves, so callers work with the engine's own request and report structs.
type (
	ScanRequest     = domain.ScanRequest
	BacktestRequest = domain.BacktestRequest
	ScanReport      = domain.ScanReport
	BacktestReport  = domain.BacktestReport
	PreviewReport   = domain.PreviewReport
	Bar             = domain.Bar
	Run             = runs.Run
	RunSummary      = runs.Summary
	RunEvent        = runs.Event
	StrategyInfo    = strategy.Definition
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client provides a Go SDK for interacting with the backscan server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// SSE streams outlive any sane request timeout, so they get their own
	// client and rely on context cancellation.
	streamClient *http.Client
}

// NewClient creates a new backscan API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/health", &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", resp.Status)
	}
	return nil
}

// Strategies lists the strategies registered on the server.
func (c *Client) Strategies(ctx context.Context) ([]StrategyInfo, error) {
	var resp struct {
		Strategies []StrategyInfo `json:"strategies"`
	}
	if err := c.get(ctx, "/api/strategies", &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// StartScan submits a scan and returns the run id.
func (c *Client) StartScan(ctx context.Context, req ScanRequest) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.post(ctx, "/api/scan", req, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// StartBacktest submits a backtest and returns the run id.
func (c *Client) StartBacktest(ctx context.Context, req BacktestRequest) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.post(ctx, "/api/backtest", req, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Preview evaluates a strategy on one symbol synchronously.
func (c *Client) Preview(ctx context.Context, req ScanRequest) (*PreviewReport, error) {
	var rep PreviewReport
	if err := c.post(ctx, "/api/preview", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// GetRun fetches a run's current state, including its report once finished.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/api/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Runs lists the server's in-memory runs, newest first.
func (c *Client) Runs(ctx context.Context) ([]Run, error) {
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, "/api/runs", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// RunHistory lists persisted summaries of finished runs, newest first.
func (c *Client) RunHistory(ctx context.Context) ([]RunSummary, error) {
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.get(ctx, "/api/runs/history", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// CancelRun requests cancellation of a running run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.post(ctx, "/api/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Symbols lists the symbols stored for a market.
func (c *Client) Symbols(ctx context.Context, market string) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, "/api/symbols/"+url.PathEscape(market), &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// Bars retrieves daily bars for a symbol. Zero start or end leaves that side
// of the range unbounded.
func (c *Client) Bars(ctx context.Context, market, symbol string, start, end time.Time) ([]Bar, error) {
	path := "/api/bars/" + url.PathEscape(market) + "/" + url.PathEscape(symbol)
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("end", end.Format("2006-01-02"))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Bars []Bar `json:"bars"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// StreamEvents subscribes to a run's SSE stream, invoking fn for each event.
// It returns nil when the server closes the stream (the run finished), or
// the context error on cancellation.
func (c *Client) StreamEvents(ctx context.Context, id string, fn func(RunEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/runs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e RunEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		fn(e)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

// WaitForRun follows a run's event stream until it finishes, then returns
// the final run state. fn, when non-nil, observes every event on the way.
func (c *Client) WaitForRun(ctx context.Context, id string, fn func(RunEvent)) (*Run, error) {
	if fn == nil {
		fn = func(RunEvent) {}
	}
	for {
		if err := c.StreamEvents(ctx, id, fn); err != nil {
			return nil, err
		}
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Finished() {
			return run, nil
		}
		// The stream dropped before completion; reconnect.
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into an APIError, using the server's
// {"error": ...} body when present.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
