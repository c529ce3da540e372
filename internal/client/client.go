// Package client provides an HTTP client for the medresearch server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the medresearch HTTP API on behalf of one user.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses MEDRESEARCH_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via MEDRESEARCH_CLIENT_TIMEOUT (default 5m, turns run the agent).
func New(baseURL, user string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MEDRESEARCH_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("MEDRESEARCH_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// User returns the email the client acts as.
func (c *Client) User() string {
	return c.user
}

// errorBody mirrors the server's error payload.
type errorBody struct {
	Error string `json:"error"`
}

// do sends a request and decodes the JSON response into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Email", c.user)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, msg)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES (matching the HTTP API)
// =============================================================================

// DialogSummary is a dialog without its transcript.
type DialogSummary struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Messages  int        `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TurnResult reports a persisted turn.
type TurnResult struct {
	TurnID    string         `json:"turn_id"`
	Reply     string         `json:"reply"`
	Succeeded bool           `json:"succeeded"`
	Dialog    *models.Dialog `json:"dialog"`
}

// TurnStatus is the server's view of a tracked turn.
type TurnStatus struct {
	ID          string     `json:"id"`
	DialogID    int64      `json:"dialog_id"`
	State       string     `json:"state"`
	Outcome     string     `json:"outcome,omitempty"`
	Status      string     `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProfileUpdate changes the caller's profile. Nil fields are left alone.
type ProfileUpdate struct {
	Name         *string  `json:"name,omitempty"`
	Picture      *string  `json:"picture,omitempty"`
	TrustedSites []string `json:"trusted_sites,omitempty"`
}

// =============================================================================
// DIALOG OPERATIONS
// =============================================================================

// ListDialogs returns the caller's dialogs, newest first.
func (c *Client) ListDialogs(ctx context.Context) ([]DialogSummary, error) {
	var out []DialogSummary
	if err := c.do(ctx, http.MethodGet, "/api/dialogs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDialog returns a dialog with its transcript.
func (c *Client) GetDialog(ctx context.Context, id int64) (*models.Dialog, error) {
	var out models.Dialog
	if err := c.do(ctx, http.MethodGet, dialogPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDialog removes a dialog and its findings.
func (c *Client) DeleteDialog(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, dialogPath(id), nil, nil)
}

// Send runs one turn. Dialog id 0 starts a new dialog.
func (c *Client) Send(ctx context.Context, dialogID int64, message string) (*TurnResult, error) {
	path := "/api/dialogs/turns"
	if dialogID != 0 {
		path = dialogPath(dialogID) + "/turns"
	}
	var out TurnResult
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"message": message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTurn returns the progress of a turn.
func (c *Client) GetTurn(ctx context.Context, id string) (*TurnStatus, error) {
	var out TurnStatus
	if err := c.do(ctx, http.MethodGet, "/api/turns/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// FINDING OPERATIONS
// =============================================================================

// ListFindings returns the findings of a dialog.
func (c *Client) ListFindings(ctx context.Context, dialogID int64) ([]*models.Finding, error) {
	var out []*models.Finding
	if err := c.do(ctx, http.MethodGet, dialogPath(dialogID)+"/findings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRelevance marks a finding relevant or not relevant.
func (c *Client) SetRelevance(ctx context.Context, findingID int64, relevant bool) (*models.Finding, error) {
	var out models.Finding
	path := "/api/findings/" + strconv.FormatInt(findingID, 10) + "/relevance"
	if err := c.do(ctx, http.MethodPost, path, map[string]bool{"relevant": relevant}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFinding removes a finding.
func (c *Client) DeleteFinding(ctx context.Context, findingID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/findings/"+strconv.FormatInt(findingID, 10), nil, nil)
}

// =============================================================================
// USER AND SERVER OPERATIONS
// =============================================================================

// Me returns the caller's user record, creating it on first use.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile changes the caller's profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodPut, "/api/me", upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetServerStats returns in-memory runtime statistics.
func (c *Client) GetServerStats(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func dialogPath(id int64) string {
	return "/api/dialogs/" + strconv.FormatInt(id, 10)
}

// =============================================================================
// STREAMING OPERATIONS
// =============================================================================

// StreamEvent is one message from the turn stream.
type StreamEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	DialogID  int64  `json:"dialog_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stream event types.
const (
	EventStatus = "status"
	EventReply  = "reply"
	EventError  = "error"
)

// Stream is an open websocket session for running turns with live status.
type Stream struct {
	conn     *websocket.Conn
	dialogID int64

	mu     sync.Mutex
	closed bool
}

// OpenStream connects to the turn stream of a dialog. Dialog id 0 starts a new dialog.
func (c *Client) OpenStream(ctx context.Context, dialogID int64) (*Stream, error) {
	wsEndpoint := c.baseURL + dialogPath(dialogID) + "/stream"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("X-User-Email", c.user)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: dialog %d", ErrNotFound, dialogID)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Stream{conn: conn, dialogID: dialogID}, nil
}

// DialogID returns the dialog the stream writes to. It changes from 0 after
// the first reply of a new dialog.
func (s *Stream) DialogID() int64 {
	return s.dialogID
}

// Send runs one turn. onStatus receives progress updates; the final reply
// event is returned. An error event from the server is returned as an error.
func (s *Stream) Send(ctx context.Context, message string, onStatus func(string)) (*StreamEvent, error) {
	if err := s.conn.WriteJSON(map[string]string{"message": message}); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	for {
		var ev StreamEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read event: %w", err)
		}

		switch ev.Type {
		case EventStatus:
			if onStatus != nil && ev.Status != "" {
				onStatus(ev.Status)
			}
		case EventReply:
			s.dialogID = ev.DialogID
			return &ev, nil
		case EventError:
			return nil, fmt.Errorf("stream error: %s", ev.Error)
		default:
			continue
		}
	}
}

// Close terminates the session. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
