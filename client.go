package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/go-scripts/examcrawl/internal/duration"
	"github.com/go-scripts/examcrawl/internal/history"
	"github.com/go-scripts/examcrawl/internal/task"
	"github.com/go-scripts/examcrawl/internal/types"
)

// APIError is a non-2xx reply from the server
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// StartResponse is the reply to a crawl request
type StartResponse struct {
	Message string `json:"message"`
	ExamID  string `json:"exam_id"`
	RunID   string `json:"run_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Client talks to a running examcrawl server
type Client struct {
	base string
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		base: base,
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(duration.ClientTimeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &APIError{}
	res, err := req.SetError(apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	if res.IsError() {
		apiErr.Status = res.StatusCode()
		return apiErr
	}
	return nil
}

// Start asks the server to crawl one exam
func (c *Client) Start(ctx context.Context, examID, format string) (StartResponse, error) {
	var out StartResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"exam_id": examID, "file_format": format}).
		SetResult(&out)
	err := c.do(req, resty.MethodPost, "/api/crawl")
	return out, err
}

// Stop asks the server to stop the active run
func (c *Client) Stop(ctx context.Context) (string, error) {
	var out messageResponse
	err := c.do(c.http.R().SetContext(ctx).SetResult(&out), resty.MethodPost, "/api/stop")
	return out.Message, err
}

// Status reports whether a run is active
func (c *Client) Status(ctx context.Context) (task.Status, error) {
	var out task.Status
	err := c.do(c.http.R().SetContext(ctx).SetResult(&out), resty.MethodGet, "/api/status")
	return out, err
}

// History lists recent runs, newest first
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, error) {
	var out []history.Entry
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	err := c.do(req, resty.MethodGet, "/api/history")
	return out, err
}

// DownloadURL returns the link for an export file
func (c *Client) DownloadURL(filePath string) string {
	name := filePath
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return c.base + "/api/download/" + name
}

// SocketURL returns the event stream endpoint
func (c *Client) SocketURL() string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + "/ws"
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + "/ws"
	}
	return c.base + "/ws"
}

// streamMsg carries one event, or the error that ended the stream
type streamMsg struct {
	Event types.Event
	Err   error
}

// Stream reads hub events until ctx ends or the connection drops. When the
// connection fails a final message carries the error before the channel
// closes.
func (c *Client) Stream(ctx context.Context) (<-chan streamMsg, error) {
	conn, _, _, err := ws.Dial(ctx, c.SocketURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	out := make(chan streamMsg, 64)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			data, err := wsutil.ReadServerText(conn)
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				select {
				case out <- streamMsg{Err: err}:
				default:
				}
				return
			}
			var ev types.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- streamMsg{Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
