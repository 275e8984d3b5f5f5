package voicews

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Callbacks is the surface through which inbound activity flows back to the
// session controller. The client never mutates conversation state itself.
type Callbacks struct {
	// OnAgentResponse delivers a complete agent reply. Suppressed default
	// greetings never reach it.
	OnAgentResponse func(text string)
	// OnResponseSuppressed fires when an agent reply arrived but was filtered
	// as the backend's default greeting. The turn is complete either way, so
	// controllers tracking an outstanding turn must release it here too.
	OnResponseSuppressed func(text string)
	// OnUserTranscript delivers speech transcriptions. Optional; text-mode
	// controllers typically leave it nil and rely on the debug log.
	OnUserTranscript func(text string)
	// OnClosed fires once when the read loop ends on a close the client did
	// not initiate. abnormal is true for close codes other than normal
	// closure / going away.
	OnClosed func(code int, abnormal bool)
}

type Config struct {
	// BaseURL of the voice-agent backend, used for session negotiation.
	BaseURL    string
	HTTPClient *http.Client

	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	// GreetingMaxLen is the length threshold for the default-greeting filter.
	GreetingMaxLen int
}

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.GreetingMaxLen <= 0 {
		c.GreetingMaxLen = 160
	}
}

// NegotiateRequest describes one session-creation call.
type NegotiateRequest struct {
	ExpertID string
	TextOnly bool
	// Extra fields are merged into the request body top-level, e.g. the
	// citation context parameter.
	Extra map[string]string
}

// NegotiationResult carries the backend-issued session identity and the
// signed URL the live socket must be opened against.
type NegotiationResult struct {
	ConversationID string
	SignedURL      string
}

// Client manages a single persistent socket to the voice-agent backend:
// negotiation, heartbeat, frame dispatch and closure. One Client instance
// maps to at most one live connection at a time.
type Client struct {
	cfg Config
	cb  Callbacks
	log zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	closing       bool
	awaiting      bool
	seenAgent     bool
	stopHeartbeat chan struct{}

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex
}

func New(cfg Config, cb Callbacks) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		cb:  cb,
		log: log.With().Str("component", "voicews").Logger(),
	}
}

type negotiateResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
	SignedURL      string `json:"signed_url"`
}

// Negotiate makes the one-shot session-creation request. It never retries:
// a failure here must surface instead of silently re-requesting a session.
func (c *Client) Negotiate(ctx context.Context, req NegotiateRequest) (NegotiationResult, error) {
	body := map[string]any{
		"overrides": map[string]any{
			"conversation": map[string]any{
				"text_only": req.TextOnly,
			},
		},
	}
	for k, v := range req.Extra {
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		return NegotiationResult{}, &NegotiationError{Reason: "encode request", Err: err}
	}

	url := fmt.Sprintf("%s/conversation/session/%s", c.cfg.BaseURL, req.ExpertID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return NegotiationResult{}, &NegotiationError{Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return NegotiationResult{}, &NegotiationError{Reason: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NegotiationResult{}, &NegotiationError{Status: resp.StatusCode, Reason: "unexpected status"}
	}
	var nr negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return NegotiationResult{}, &NegotiationError{Status: resp.StatusCode, Reason: "malformed payload", Err: err}
	}
	if !nr.Success || nr.SignedURL == "" {
		return NegotiationResult{}, &NegotiationError{Status: resp.StatusCode, Reason: "backend reported failure"}
	}
	c.log.Debug().Str("conversation_id", nr.ConversationID).Msg("session negotiated")
	return NegotiationResult{ConversationID: nr.ConversationID, SignedURL: nr.SignedURL}, nil
}

// Open dials the signed URL, starts the read loop and the heartbeat, and
// announces direct mode so the backend does not volunteer a greeting.
func (c *Client) Open(ctx context.Context, signedURL string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("socket already open")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return &TransportError{Reason: "dial " + signedURL, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.closing = false
	c.awaiting = false
	c.seenAgent = false
	c.stopHeartbeat = make(chan struct{})
	stop := c.stopHeartbeat
	c.mu.Unlock()

	if err := c.writeJSON(conn, map[string]any{"type": "conversation_initiation", "mode": "direct"}); err != nil {
		c.Close("initiation write failed")
		return &TransportError{Reason: "send conversation initiation", Err: err}
	}

	go c.readLoop(conn)
	go c.heartbeatLoop(conn, stop)
	c.log.Info().Msg("socket connected")
	return nil
}

// Send writes one user turn. It is a no-op when the socket is not connected
// or a prior turn's response is still pending.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return &NotConnectedError{Reason: "socket is not connected"}
	}
	if c.awaiting {
		c.mu.Unlock()
		return &NotConnectedError{Reason: "previous turn is still awaiting a response"}
	}
	conn := c.conn
	c.awaiting = true
	c.mu.Unlock()

	if err := c.writeJSON(conn, map[string]any{"type": "user_message", "text": text}); err != nil {
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
		return &TransportError{Reason: "write user message", Err: err}
	}
	return nil
}

// Close performs a normal closure: heartbeat stopped, close frame sent,
// further callbacks from this connection suppressed. Safe to call twice.
func (c *Client) Close(reason string) {
	c.mu.Lock()
	conn := c.conn
	alreadyClosed := c.closing || conn == nil
	c.closing = true
	c.connected = false
	c.awaiting = false
	c.conn = nil
	c.stopHeartbeatLocked()
	c.mu.Unlock()
	if alreadyClosed {
		return
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
	c.log.Info().Str("reason", reason).Msg("socket closed")
}

// Connected reports whether a live connection is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadEnd(err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleReadEnd(err error) {
	c.mu.Lock()
	intentional := c.closing
	c.connected = false
	c.awaiting = false
	c.conn = nil
	c.stopHeartbeatLocked()
	c.mu.Unlock()
	if intentional {
		return
	}

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	abnormal := code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway
	c.log.Warn().Err(err).Int("code", code).Bool("abnormal", abnormal).Msg("socket read loop ended")
	if c.cb.OnClosed != nil {
		c.cb.OnClosed(code, abnormal)
	}
}

func (c *Client) handleFrame(data []byte) {
	switch f := ParseFrame(data).(type) {
	case AudioFrame:
		// Binary speech data: never decoded or surfaced in text mode.
	case AgentResponseFrame:
		c.mu.Lock()
		first := !c.seenAgent
		c.seenAgent = true
		c.awaiting = false
		c.mu.Unlock()
		if first && IsDefaultGreeting(f.Text, c.cfg.GreetingMaxLen) {
			c.log.Debug().Str("text", f.Text).Msg("suppressing default greeting")
			if c.cb.OnResponseSuppressed != nil {
				c.cb.OnResponseSuppressed(f.Text)
			}
			return
		}
		if c.cb.OnAgentResponse != nil {
			c.cb.OnAgentResponse(f.Text)
		}
	case UserTranscriptFrame:
		c.log.Debug().Str("transcript", f.Text).Msg("user transcript received")
		if c.cb.OnUserTranscript != nil {
			c.cb.OnUserTranscript(f.Text)
		}
	case UnknownFrame:
		c.log.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, map[string]any{"type": "ping"}); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}
