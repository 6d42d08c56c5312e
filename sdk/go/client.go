package microtasksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal MicroTask admin HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Health is the server status.
type Health struct {
	Status       string `json:"status"`
	Connections  int    `json:"connections"`
	Tasks        int    `json:"tasks"`
	ActiveTaskID int32  `json:"active_task_id"`
}

// Session is one start/stop interval of a task.
type Session struct {
	Start time.Time  `json:"start"`
	Stop  *time.Time `json:"stop,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         int32      `json:"id"`
	ParentID   int32      `json:"parent_id"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	CreateTime time.Time  `json:"create_time"`
	FinishTime *time.Time `json:"finish_time,omitempty"`
	Labels     []string   `json:"labels"`
	Sessions   []Session  `json:"sessions"`
}

// DailyReport is the time worked on one day.
type DailyReport struct {
	Date    string `json:"date"`
	Found   bool   `json:"found"`
	TotalMS int64  `json:"total_ms"`
	Entries []struct {
		CategoryID int32 `json:"category_id"`
		CodeID     int32 `json:"code_id"`
		Millis     int64 `json:"ms"`
	} `json:"entries"`
}

// WeeklyReport holds the seven days from Sunday to Saturday.
type WeeklyReport struct {
	Days    []DailyReport `json:"days"`
	TotalMS int64         `json:"total_ms"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "v0/health", nil, &resp)
	return resp, err
}

// Tasks lists tasks, optionally only those in state.
func (c *Client) Tasks(ctx context.Context, state string) ([]Task, error) {
	endpoint := "v0/tasks"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Task(ctx context.Context, id int32) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%d", id), nil, &resp)
	return resp, err
}

// DailyReport fetches the report of day, formatted YYYY-MM-DD. An empty
// day means today on the server.
func (c *Client) DailyReport(ctx context.Context, day string) (DailyReport, error) {
	var resp DailyReport
	err := c.do(ctx, http.MethodGet, withDate("v0/reports/daily", day), nil, &resp)
	return resp, err
}

func (c *Client) WeeklyReport(ctx context.Context, day string) (WeeklyReport, error) {
	var resp WeeklyReport
	err := c.do(ctx, http.MethodGet, withDate("v0/reports/weekly", day), nil, &resp)
	return resp, err
}

// RefreshBugzilla asks the server to refresh every issue tracker now. It
// returns how many clients were sent changes.
func (c *Client) RefreshBugzilla(ctx context.Context) (int, error) {
	var resp struct {
		Clients int `json:"clients"`
	}
	err := c.do(ctx, http.MethodPost, "v0/bugzilla/refresh", nil, &resp)
	return resp.Clients, err
}

// Events returns recent persistence events, newest first.
func (c *Client) Events(ctx context.Context, kind string, limit int) ([]Event, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func withDate(endpoint, day string) string {
	if day == "" {
		return endpoint
	}
	return endpoint + "?date=" + url.QueryEscape(day)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
