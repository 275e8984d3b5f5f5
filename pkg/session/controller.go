package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/knowloop/expertchat/pkg/chat"
	"github.com/knowloop/expertchat/pkg/citations"
	"github.com/knowloop/expertchat/pkg/config"
	"github.com/knowloop/expertchat/pkg/transport/llmstream"
	"github.com/knowloop/expertchat/pkg/transport/voicews"
)

const thinkingPlaceholder = "Thinking…"

var errSuperseded = errors.New("session superseded by a newer start")

// NotConnectedError is returned by Send when no session is connected or a
// prior turn's response is still pending. Local no-op, not fatal.
type NotConnectedError struct {
	Reason string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("cannot send: %s", e.Reason)
}

// Callbacks carries status and error notifications to the presentation
// layer. Both are fired synchronously from the controller; user-facing
// errors all flow through OnError so there is one place to render them.
type Callbacks struct {
	OnStatusChange func(State)
	OnError        func(message string)
}

// socketClient and streamClient mirror the concrete transport clients so
// tests can substitute fakes via the Config hooks below.
type socketClient interface {
	Negotiate(ctx context.Context, req voicews.NegotiateRequest) (voicews.NegotiationResult, error)
	Open(ctx context.Context, signedURL string) error
	Send(text string) error
	Close(reason string)
}

type streamClient interface {
	CreateSession(ctx context.Context, expertID string, extra map[string]string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
	ClearSession(ctx context.Context, sessionID string) error
	SendStreaming(ctx context.Context, sessionID, message, model string) (<-chan llmstream.Event, error)
}

type Config struct {
	Settings   config.Settings
	HTTPClient *http.Client

	// overrides for transport construction, used by tests
	newSocket func(cfg voicews.Config, cb voicews.Callbacks) socketClient
	newStream func(cfg llmstream.Config) streamClient
}

// StartOptions describes one session to establish.
type StartOptions struct {
	ExpertID  string
	Transport TransportKind
	TextOnly  bool
	// Model overrides the configured default for event-stream turns.
	Model string

	Citations        []citations.Citation
	CitationsEnabled bool
}

// Controller owns at most one active session at a time. Starting a new
// session tears the old one down first; a generation counter makes
// callbacks from a torn-down transport no-ops before they can touch the
// message store.
type Controller struct {
	cfg Config
	cb  Callbacks
	log zerolog.Logger

	store *chat.Store

	mu         sync.Mutex
	state      State
	gen        uint64
	kind       TransportKind
	expertID   string
	sessionID  string
	textOnly   bool
	model      string
	extra      map[string]string
	awaiting   bool
	pendingID  string
	sock       socketClient
	stream     streamClient
	retryTimer *time.Timer
	baseCtx    context.Context
}

func New(cfg Config, cb Callbacks) *Controller {
	cfg.Settings.ApplyDefaults()
	if cfg.newSocket == nil {
		cfg.newSocket = func(c voicews.Config, cb voicews.Callbacks) socketClient {
			return voicews.New(c, cb)
		}
	}
	if cfg.newStream == nil {
		cfg.newStream = func(c llmstream.Config) streamClient {
			return llmstream.New(c)
		}
	}
	return &Controller{
		cfg:   cfg,
		cb:    cb,
		log:   log.With().Str("component", "session").Logger(),
		store: chat.NewStore(),
		state: StateIdle,
	}
}

// Store returns the message log for this controller. Observers may snapshot
// it at any time; only the controller mutates it.
func (c *Controller) Store() *chat.Store { return c.store }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the backend-issued identifier, empty until negotiation
// completes.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start establishes a session. If one is already connecting or connected it
// is torn down first, so Start is safe to call at any time.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	if opts.ExpertID == "" {
		return errors.New("expert ID is required")
	}
	if opts.Transport == "" {
		opts.Transport = TransportEventStream
	}
	model := opts.Model
	if model == "" {
		model = c.cfg.Settings.Model
	}

	c.mu.Lock()
	release := c.teardownLocked("restarting session")
	gen := c.gen
	c.kind = opts.Transport
	c.expertID = opts.ExpertID
	c.textOnly = opts.TextOnly
	c.model = model
	c.extra = citations.ContextParams(opts.Citations, opts.CitationsEnabled)
	c.baseCtx = ctx
	extra := c.extra
	c.mu.Unlock()
	release()

	c.setStateIf(gen, StateConnecting)
	c.log.Info().Str("expert_id", opts.ExpertID).Str("transport", string(opts.Transport)).Msg("starting session")

	switch opts.Transport {
	case TransportSocket:
		return c.connectSocket(ctx, gen, opts.ExpertID, opts.TextOnly, extra)
	case TransportEventStream:
		return c.connectStream(ctx, gen, opts.ExpertID, extra)
	default:
		if c.setStateIf(gen, StateError) {
			c.fail("unknown transport kind")
		}
		return errors.Errorf("unknown transport kind %q", opts.Transport)
	}
}

// Send delegates one user turn to the active transport. It rejects (no-op
// plus error callback) when no session is connected or a response is still
// outstanding; the message store is not touched in that case.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		c.fail("cannot send: no active session")
		return &NotConnectedError{Reason: "no active session"}
	}
	if c.awaiting {
		c.mu.Unlock()
		c.fail("cannot send: a response is still pending")
		return &NotConnectedError{Reason: "a response is still pending"}
	}
	gen := c.gen
	kind := c.kind
	sock := c.sock
	stream := c.stream
	sessionID := c.sessionID
	model := c.model
	c.awaiting = true
	c.mu.Unlock()

	switch kind {
	case TransportSocket:
		return c.sendSocket(gen, sock, text)
	default:
		return c.sendStream(ctx, gen, stream, sessionID, model, text)
	}
}

func (c *Controller) sendSocket(gen uint64, sock socketClient, text string) error {
	c.store.AppendUser(text)
	if err := sock.Send(text); err != nil {
		c.clearAwaiting(gen)
		c.fail(err.Error())
		return err
	}
	return nil
}

func (c *Controller) sendStream(ctx context.Context, gen uint64, stream streamClient, sessionID, model, text string) error {
	c.store.AppendUser(text)
	placeholder := c.store.AppendAgent(thinkingPlaceholder)

	c.mu.Lock()
	if c.gen == gen {
		c.pendingID = placeholder.ID
	}
	c.mu.Unlock()

	ch, err := stream.SendStreaming(ctx, sessionID, text, model)
	if err != nil {
		c.store.SetText(placeholder.ID, "Sorry, something went wrong sending your message.")
		c.clearAwaiting(gen)
		c.fail(err.Error())
		return err
	}
	go c.consumeStream(gen, placeholder.ID, ch)
	return nil
}

// consumeStream assembles deltas into the placeholder message: the first
// delta replaces the placeholder outright, later deltas append. Stale
// generations drain the channel without touching the store.
func (c *Controller) consumeStream(gen uint64, msgID string, ch <-chan llmstream.Event) {
	first := true
	sawTerminal := false
	for ev := range ch {
		if !c.isCurrent(gen) {
			continue
		}
		switch e := ev.(type) {
		case llmstream.ContentEvent:
			if first {
				c.store.SetText(msgID, e.Delta)
				first = false
			} else {
				c.store.AppendText(msgID, e.Delta)
			}
		case llmstream.DoneEvent:
			if len(e.ToolCalls) > 0 {
				c.store.SetToolCalls(msgID, e.ToolCalls)
			}
			sawTerminal = true
		case llmstream.ErrorEvent:
			c.store.SetText(msgID, e.Message)
			sawTerminal = true
			c.fail(e.Message)
		}
	}
	if !c.isCurrent(gen) {
		return
	}
	if !sawTerminal && first {
		c.store.SetText(msgID, "No response received.")
	}
	c.mu.Lock()
	if c.gen == gen {
		c.awaiting = false
		c.pendingID = ""
	}
	c.mu.Unlock()
}

// End tears the session down and returns to Idle. Messages already in the
// store stay visible until Clear. Calling End twice is harmless.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle && c.sock == nil && c.stream == nil {
		c.mu.Unlock()
		return nil
	}
	release := c.teardownLocked("user ended session")
	c.mu.Unlock()
	release()
	c.setState(StateIdle)
	return nil
}

// Clear empties the message store without closing the connection. For
// event-stream sessions the backend-side history reset is best-effort.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	kind := c.kind
	stream := c.stream
	sessionID := c.sessionID
	c.mu.Unlock()

	c.store.Clear()
	if kind == TransportEventStream && stream != nil && sessionID != "" {
		go func() {
			_ = stream.ClearSession(context.Background(), sessionID)
		}()
	}
}

// --- socket path ---

func (c *Controller) connectSocket(ctx context.Context, gen uint64, expertID string, textOnly bool, extra map[string]string) error {
	sock := c.cfg.newSocket(voicews.Config{
		BaseURL:           c.cfg.Settings.VoiceBaseURL,
		HTTPClient:        c.cfg.HTTPClient,
		DialTimeout:       c.cfg.Settings.DialTimeout,
		HeartbeatInterval: c.cfg.Settings.HeartbeatInterval,
		GreetingMaxLen:    c.cfg.Settings.GreetingMaxLen,
	}, voicews.Callbacks{
		OnAgentResponse: func(text string) { c.handleAgentResponse(gen, text) },
		// a suppressed greeting still completes the outstanding turn
		OnResponseSuppressed: func(string) { c.clearAwaiting(gen) },
		OnClosed:             func(code int, abnormal bool) { c.handleSocketClosed(gen, code, abnormal) },
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sock.Close("superseded")
		return errSuperseded
	}
	c.sock = sock
	c.mu.Unlock()

	neg, err := sock.Negotiate(ctx, voicews.NegotiateRequest{
		ExpertID: expertID,
		TextOnly: textOnly,
		Extra:    extra,
	})
	if err != nil {
		if c.setStateIf(gen, StateError) {
			c.fail(err.Error())
		}
		return err
	}
	if err := sock.Open(ctx, neg.SignedURL); err != nil {
		if c.setStateIf(gen, StateError) {
			c.fail(err.Error())
		}
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sock.Close("superseded")
		return errSuperseded
	}
	c.sessionID = neg.ConversationID
	c.mu.Unlock()
	c.setStateIf(gen, StateConnected)
	return nil
}

func (c *Controller) handleAgentResponse(gen uint64, text string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.awaiting = false
	c.mu.Unlock()
	c.store.AppendAgent(text)
}

// handleSocketClosed applies the reconnection policy: an abnormal close
// while Connected gets exactly one scheduled reconnect; everything else
// settles to Disconnected. A second consecutive failure surfaces through
// OnError instead of retrying silently.
func (c *Controller) handleSocketClosed(gen uint64, code int, abnormal bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	if !abnormal || !wasConnected {
		c.mu.Unlock()
		c.setStateIf(gen, StateDisconnected)
		return
	}

	lost := &voicews.ConnectionLostError{Code: code}
	ctx := c.baseCtx
	expertID := c.expertID
	textOnly := c.textOnly
	extra := c.extra
	c.awaiting = false
	c.sock = nil
	delay := c.cfg.Settings.ReconnectDelay
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()
		_ = c.connectSocket(ctx, gen, expertID, textOnly, extra)
	})
	c.mu.Unlock()

	c.log.Warn().Err(lost).Int("code", code).Msg("socket closed abnormally, scheduling one reconnect")
	c.setStateIf(gen, StateConnecting)
}

// --- event-stream path ---

func (c *Controller) connectStream(ctx context.Context, gen uint64, expertID string, extra map[string]string) error {
	stream := c.cfg.newStream(llmstream.Config{
		BaseURL:    c.cfg.Settings.ChatBaseURL,
		HTTPClient: c.cfg.HTTPClient,
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return errSuperseded
	}
	c.stream = stream
	c.mu.Unlock()

	sessionID, err := stream.CreateSession(ctx, expertID, extra)
	if err != nil {
		if c.setStateIf(gen, StateError) {
			c.fail(err.Error())
		}
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		go func() { _ = stream.EndSession(context.Background(), sessionID) }()
		return errSuperseded
	}
	c.sessionID = sessionID
	c.mu.Unlock()
	c.setStateIf(gen, StateConnected)
	return nil
}

// --- internals ---

// teardownLocked releases the active transport. Bumping the generation
// first guarantees no callback from the old transport can mutate the store
// of a newer session. The socket close writes a close frame on the network,
// so it is returned for the caller to run after unlocking.
func (c *Controller) teardownLocked(reason string) (release func()) {
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	sock := c.sock
	c.sock = nil
	if c.stream != nil && c.sessionID != "" {
		stream := c.stream
		sessionID := c.sessionID
		go func() { _ = stream.EndSession(context.Background(), sessionID) }()
	}
	c.stream = nil
	c.sessionID = ""
	c.awaiting = false
	c.pendingID = ""
	return func() {
		if sock != nil {
			sock.Close(reason)
		}
	}
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) clearAwaiting(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.awaiting = false
	}
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cb.OnStatusChange != nil {
		c.cb.OnStatusChange(s)
	}
}

// setStateIf applies a state transition only while gen is still current,
// so a superseded connect attempt cannot flip a newer session's state.
func (c *Controller) setStateIf(gen uint64, s State) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cb.OnStatusChange != nil {
		c.cb.OnStatusChange(s)
	}
	return true
}

func (c *Controller) fail(message string) {
	if c.cb.OnError != nil {
		c.cb.OnError(message)
	}
}
