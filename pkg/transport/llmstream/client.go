package llmstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionCreationError reports a failed session-creation call. Lifecycle
// calls (end/clear) are best-effort and never use this type.
type SessionCreationError struct {
	Status int
	Reason string
	Err    error
}

func (e *SessionCreationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("session creation failed (status %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("session creation failed: %s", e.Reason)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

type Config struct {
	// BaseURL of the language-model backend.
	BaseURL    string
	HTTPClient *http.Client
}

// Client issues session lifecycle calls and consumes chunked event streams.
// It holds no per-session state beyond what callers pass in, so one Client
// can serve consecutive sessions.
type Client struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "llmstream").Logger(),
	}
}

type sessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// CreateSession creates a backend session for the given expert persona.
// Extra fields (e.g. the citation context parameter) are merged into the
// request body top-level.
func (c *Client) CreateSession(ctx context.Context, expertID string, extra map[string]string) (string, error) {
	body := map[string]any{"expert_id": expertID}
	for k, v := range extra {
		body[k] = v
	}
	resp, err := c.postJSON(ctx, "/chat/session/create", body)
	if err != nil {
		return "", &SessionCreationError{Reason: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SessionCreationError{Status: resp.StatusCode, Reason: "unexpected status"}
	}
	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &SessionCreationError{Status: resp.StatusCode, Reason: "malformed payload", Err: err}
	}
	if !sr.Success || sr.SessionID == "" {
		return "", &SessionCreationError{Status: resp.StatusCode, Reason: "backend reported failure"}
	}
	c.log.Debug().Str("session_id", sr.SessionID).Msg("session created")
	return sr.SessionID, nil
}

// EndSession is best-effort: ending a session the user no longer cares about
// must never block anything, so failures are logged and returned but callers
// are expected not to treat them as fatal.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.lifecycleCall(ctx, "/chat/session/end", sessionID)
}

// ClearSession resets the backend-side conversation. Best-effort, like
// EndSession.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	return c.lifecycleCall(ctx, "/chat/session/clear", sessionID)
}

func (c *Client) lifecycleCall(ctx context.Context, path, sessionID string) error {
	resp, err := c.postJSON(ctx, path, map[string]any{"session_id": sessionID})
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("session lifecycle call failed")
		return errors.Wrapf(err, "lifecycle call %s", path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("session lifecycle call rejected")
		return errors.Errorf("lifecycle call %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// SendStreaming posts one chat turn and returns a channel of structured
// events. Consumption is a lazy pull loop: records are parsed only once a
// full line boundary has been read, partial lines are buffered across
// chunks, and malformed records are skipped. The channel is always closed,
// whether the stream ends with a terminal event, EOF, or a read error.
func (c *Client) SendStreaming(ctx context.Context, sessionID, message, model string) (<-chan Event, error) {
	body := map[string]any{
		"session_id": sessionID,
		"message":    message,
		"model":      model,
	}
	resp, err := c.postJSON(ctx, "/chat/message/stream", body)
	if err != nil {
		return nil, errors.Wrap(err, "start message stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, errors.Errorf("start message stream: status %d", resp.StatusCode)
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			ev, ok := parseRecord(scanner.Text())
			if !ok {
				if line := scanner.Text(); line != "" {
					c.log.Debug().Str("line", line).Msg("skipping unparseable stream record")
				}
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if terminal(ev) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("message stream ended unexpectedly")
		}
	}()
	return ch, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.cfg.HTTPClient.Do(req)
}
