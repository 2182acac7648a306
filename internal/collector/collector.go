// Package collector is the client side of the remote incident collector.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fakeyudi/proctor/internal/incident"
)

// Collector receives incident reports and liveness pings.
type Collector interface {
	ReportIncident(ctx context.Context, r incident.Report) error
	Heartbeat(ctx context.Context, hb incident.Heartbeat) error
	// NotifyRemoved is the teardown ping. It carries no body so it can be
	// issued from a host that is already going away.
	NotifyRemoved(ctx context.Context, studentID, examID string) error
	// RemovedURL is the address NotifyRemoved requests.
	RemovedURL(studentID, examID string) string
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// DefaultTimeout bounds every collector request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// HTTPCollector talks JSON over HTTPS to the collector API. Requests are
// never retried.
type HTTPCollector struct {
	client *http.Client

	mu      sync.RWMutex
	baseURL string
}

// NewHTTPCollector returns a collector rooted at baseURL. A zero timeout
// means DefaultTimeout.
func NewHTTPCollector(baseURL string, timeout time.Duration) *HTTPCollector {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &HTTPCollector{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SetBaseURL swaps the collector address. In-flight requests keep the old one.
func (c *HTTPCollector) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

// BaseURL returns the current collector address.
func (c *HTTPCollector) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// ReportIncident posts r to /incidents.
func (c *HTTPCollector) ReportIncident(ctx context.Context, r incident.Report) error {
	return c.sendJSON(ctx, http.MethodPost, c.BaseURL()+"/incidents", r)
}

// Heartbeat patches /students with a liveness ping.
func (c *HTTPCollector) Heartbeat(ctx context.Context, hb incident.Heartbeat) error {
	return c.sendJSON(ctx, http.MethodPatch, c.BaseURL()+"/students", hb)
}

func (c *HTTPCollector) RemovedURL(studentID, examID string) string {
	q := url.Values{}
	q.Set("studentId", studentID)
	q.Set("examId", examID)
	return c.BaseURL() + "/incidents/extension-removed?" + q.Encode()
}

// NotifyRemoved issues GET /incidents/extension-removed.
func (c *HTTPCollector) NotifyRemoved(ctx context.Context, studentID, examID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RemovedURL(studentID, examID), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req)
}

func (c *HTTPCollector) sendJSON(ctx context.Context, method, target string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s body: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *HTTPCollector) do(req *http.Request) error {
	req.Header.Set("User-Agent", "proctor-agent/1.0")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: req.Method,
		URL:    req.URL.Path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
