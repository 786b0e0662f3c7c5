package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
)

// State is the session lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Config holds all tunable parameters for the connection controller.
type Config struct {
	PipelineIDs []string       // ordered pipeline chain to load
	LoadParams  map[string]any // forwarded to the backend load call

	ChannelLabel string // control data channel label

	HealthTimeout    time.Duration // short
	PipelineTimeout  time.Duration // longer, bounded
	PipelinePoll     time.Duration
	HandshakeTimeout time.Duration
	MediaTimeout     time.Duration // first-media watchdog

	CandidateRetryDelay  time.Duration
	ReconnectBaseDelay   time.Duration // linear backoff: base * attempt
	MaxReconnectAttempts int
}

// DefaultConfig returns the recommended controller configuration.
func DefaultConfig() Config {
	return Config{
		PipelineIDs:          []string{"streamdiffusion"},
		ChannelLabel:         "parameters",
		HealthTimeout:        5 * time.Second,
		PipelineTimeout:      2 * time.Minute,
		PipelinePoll:         time.Second,
		HandshakeTimeout:     15 * time.Second,
		MediaTimeout:         30 * time.Second,
		CandidateRetryDelay:  DefaultCandidateRetryDelay,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 3,
	}
}

// session bundles the resources owned by one connection attempt. A
// session is owned by exactly one attempt token; replacing it disposes
// the previous owner before the new one is installed.
type session struct {
	token    uuid.UUID
	peer     PeerSession
	neg      *Negotiator
	channel  ControlChannel
	remoteID string
	watchdog *time.Timer
}

// Snapshot is the read-only projection exposed to the presentation
// layer.
type Snapshot struct {
	State             State      `json:"state"`
	Status            string     `json:"status"`
	SessionID         string     `json:"session_id,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	Error             *ErrorView `json:"error,omitempty"`
}

// ErrorView is the serializable face of a stream error.
type ErrorView struct {
	Code        Code     `json:"code"`
	Message     string   `json:"message"`
	Recoverable bool     `json:"recoverable"`
	User        UserText `json:"user"`
}

func errorView(e *Error) *ErrorView {
	if e == nil {
		return nil
	}
	return &ErrorView{
		Code:        e.Code,
		Message:     e.Message,
		Recoverable: e.Recoverable,
		User:        e.UserText(),
	}
}

// Controller owns the five-state session lifecycle. Every asynchronous
// step carries the attempt-identity token minted when the attempt
// started; a result arriving after its attempt was superseded is
// discarded, never applied to shared state.
type Controller struct {
	cfg     Config
	backend *Client
	newPeer PeerFactory
	sender  *Sender
	logger  *slog.Logger

	mu              sync.Mutex
	state           State
	attempt         uuid.UUID // identity of the live attempt; Nil when none
	sess            *session
	reconnects      int
	lastErr         *Error
	reconnectTimer  *time.Timer
	onState         func(State, *Error)
	shouldReconnect func(*Error) bool
	initialParams   func() *mapping.GenerationParameters
}

// NewController creates a controller over an injected backend client,
// peer factory, and sender.
func NewController(cfg Config, backend *Client, newPeer PeerFactory, sender *Sender) *Controller {
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = "parameters"
	}
	return &Controller{
		cfg:     cfg,
		backend: backend,
		newPeer: newPeer,
		sender:  sender,
		state:   StateDisconnected,
		logger:  slog.Default().With("component", "stream.controller"),
	}
}

// OnStateChange registers the state observer. Called after every
// transition with the new state and the error slot (nil when clean).
func (c *Controller) OnStateChange(fn func(State, *Error)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// SetReconnectPredicate installs the caller policy consulted on
// connection loss. When it rejects a loss reason the controller
// transitions directly to failed without retrying. The default policy
// follows the error's Recoverable flag.
func (c *Controller) SetReconnectPredicate(fn func(*Error) bool) {
	c.mu.Lock()
	c.shouldReconnect = fn
	c.mu.Unlock()
}

// SetInitialParameters installs the provider for the initialParameters
// field of the offer request.
func (c *Controller) SetInitialParameters(fn func() *mapping.GenerationParameters) {
	c.mu.Lock()
	c.initialParams = fn
	c.mu.Unlock()
}

// Status returns the read-only projection of the session.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:             c.state,
		Status:            statusText(c.state, c.lastErr),
		ReconnectAttempts: c.reconnects,
		Error:             errorView(c.lastErr),
	}
	if c.sess != nil {
		snap.SessionID = c.sess.remoteID
	}
	return snap
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts a new connection attempt. Any existing session is
// disposed first; ownership transfers atomically to the new attempt.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.stopReconnectTimerLocked()
	old := c.takeSessionLocked()
	token := uuid.New()
	c.attempt = token
	c.reconnects = 0
	c.lastErr = nil
	c.state = StateConnecting
	fn := c.onState
	c.mu.Unlock()

	c.sender.Detach()
	disposeSession(old)
	if fn != nil {
		fn(StateConnecting, nil)
	}
	go c.runAttempt(token, false)
}

// Disconnect tears the session down. Manual disconnect always wins: the
// attempt token is invalidated synchronously, so any pending async step
// of the old attempt — including a delayed reconnect — is ignored when
// it resolves.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.attempt = uuid.Nil
	c.stopReconnectTimerLocked()
	old := c.takeSessionLocked()
	c.reconnects = 0
	c.lastErr = nil
	c.state = StateDisconnected
	fn := c.onState
	c.mu.Unlock()

	c.sender.Detach()
	disposeSession(old)
	if fn != nil {
		fn(StateDisconnected, nil)
	}
	c.logger.Info("disconnected")
}

// runAttempt executes the connect sequence: health check, pipeline
// load + poll, signaling handshake, control channel attach, first-media
// watchdog. Each step re-checks the attempt token before touching
// shared state.
func (c *Controller) runAttempt(token uuid.UUID, isReconnect bool) {
	// Step 1: health check. Terminal for this attempt; no reconnect is
	// ever scheduled from a failed health check.
	hctx, cancel := context.WithTimeout(context.Background(), c.cfg.HealthTimeout)
	health, err := c.backend.Health(hctx)
	cancel()
	if err != nil {
		c.failTerminal(token, NewError(CodeHealthCheckFailed, "health check failed", err))
		return
	}
	if health.Status == "error" {
		c.failTerminal(token, NewError(CodeHealthCheckFailed,
			fmt.Sprintf("backend reported status %q", health.Status), nil))
		return
	}
	if !c.tokenValid(token) {
		return
	}

	// Step 2: pipeline load with bounded polling.
	pctx, cancel := context.WithTimeout(context.Background(), c.cfg.PipelineTimeout)
	err = c.backend.LoadPipelines(pctx, c.cfg.PipelineIDs, c.cfg.LoadParams)
	if err == nil {
		err = c.backend.WaitForPipeline(pctx, c.cfg.PipelinePoll)
	}
	cancel()
	if err != nil {
		c.failTerminal(token, NewError(CodePipelineLoadFailed, "pipeline load failed", err))
		return
	}
	if !c.tokenValid(token) {
		return
	}

	// Step 3: signaling handshake.
	ictx, cancel := context.WithTimeout(context.Background(), c.cfg.HealthTimeout)
	servers, err := c.backend.ICEServers(ictx)
	cancel()
	if err != nil {
		c.failHandshake(token, isReconnect, NewError(CodeConnectionFailed, "fetch ice servers", err))
		return
	}

	peer, err := c.newPeer(servers)
	if err != nil {
		c.failHandshake(token, isReconnect, NewError(CodeConnectionFailed, "create peer", err))
		return
	}
	neg := NewNegotiator(c.backend, peer, c.cfg.CandidateRetryDelay)

	// Install the session before the handshake so disposal can always
	// reach in-flight resources.
	c.mu.Lock()
	if c.attempt != token {
		c.mu.Unlock()
		neg.Dispose()
		peer.Close()
		return
	}
	sess := &session{token: token, peer: peer, neg: neg}
	c.sess = sess
	c.mu.Unlock()

	peer.OnClosed(func(reason string) {
		c.handleLoss(token, NewError(CodeConnectionLost, reason, nil))
	})
	peer.OnFirstMedia(func() {
		c.onFirstMedia(token)
	})

	var initial *mapping.GenerationParameters
	c.mu.Lock()
	if c.initialParams != nil {
		provider := c.initialParams
		c.mu.Unlock()
		initial = provider()
	} else {
		c.mu.Unlock()
	}

	nctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	channel, err := neg.Handshake(nctx, c.cfg.ChannelLabel, initial)
	cancel()
	if err != nil {
		c.failHandshake(token, isReconnect, NewError(CodeConnectionFailed, "signaling handshake", err))
		return
	}

	channel.OnMessage(func(data []byte) {
		c.handleControlMessage(token, data)
	})
	channel.OnError(func(err error) {
		c.handleLoss(token, NewError(CodeDataChannelError, "control channel error", err))
	})

	// Step 4/5: attach the channel, go connected, arm the watchdog.
	c.mu.Lock()
	if c.attempt != token {
		c.mu.Unlock()
		return
	}
	sess.channel = channel
	sess.remoteID = neg.SessionID()
	sess.watchdog = time.AfterFunc(c.cfg.MediaTimeout, func() {
		c.handleLoss(token, NewError(CodeConnectionLost,
			"no media before watchdog timeout", nil))
	})
	c.state = StateConnected
	c.lastErr = nil
	fn := c.onState
	c.mu.Unlock()

	c.sender.Attach(channel)
	if fn != nil {
		fn(StateConnected, nil)
	}
	c.logger.Info("connected", "session_id", sess.remoteID, "reconnect", isReconnect)
}

// onFirstMedia marks the session healthy: the watchdog is disarmed and
// the reconnect budget resets.
func (c *Controller) onFirstMedia(token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != token || c.sess == nil {
		return
	}
	if c.sess.watchdog != nil {
		c.sess.watchdog.Stop()
		c.sess.watchdog = nil
	}
	c.reconnects = 0
	c.logger.Info("first media received", "session_id", c.sess.remoteID)
}

// handleControlMessage reacts to backend messages on the control
// channel. A stream_stopped report enters the loss path.
func (c *Controller) handleControlMessage(token uuid.UUID, data []byte) {
	msg, ok := parseControlMessage(data)
	if !ok {
		return
	}
	if msg.Type == msgStreamStopped {
		c.handleLoss(token, NewError(CodeStreamStopped, msg.ErrorMessage, nil))
	}
}

// failTerminal ends the attempt with a non-recoverable error and no
// reconnection.
func (c *Controller) failTerminal(token uuid.UUID, e *Error) {
	c.mu.Lock()
	if c.attempt != token {
		c.mu.Unlock()
		return
	}
	c.attempt = uuid.Nil
	c.stopReconnectTimerLocked()
	old := c.takeSessionLocked()
	c.state = StateFailed
	c.lastErr = e.WithRecoverable(false)
	fn := c.onState
	c.mu.Unlock()

	c.sender.Detach()
	disposeSession(old)
	if fn != nil {
		fn(StateFailed, e)
	}
	c.logger.Error("connection attempt failed", "code", string(e.Code), "error", e)
}

// failHandshake routes a handshake-time failure: terminal on a first
// connect, part of the retry budget during reconnection.
func (c *Controller) failHandshake(token uuid.UUID, isReconnect bool, e *Error) {
	if !isReconnect {
		c.failTerminal(token, e)
		return
	}
	// During reconnection a handshake failure consumes the retry budget
	// rather than failing closed immediately.
	c.handleLoss(token, e.WithRecoverable(true))
}

// handleLoss is the single loss path: dispose the session, consult the
// reconnect policy, and either schedule a retry with linear backoff or
// fail closed.
func (c *Controller) handleLoss(token uuid.UUID, e *Error) {
	c.mu.Lock()
	if c.attempt != token {
		c.mu.Unlock()
		return
	}
	old := c.takeSessionLocked()

	allow := e.Recoverable
	if c.shouldReconnect != nil {
		allow = c.shouldReconnect(e)
	}

	var fn func(State, *Error)
	var notifyState State
	var notifyErr *Error

	if !allow {
		c.attempt = uuid.Nil
		c.stopReconnectTimerLocked()
		c.state = StateFailed
		c.lastErr = e.WithRecoverable(false)
		notifyState, notifyErr = StateFailed, c.lastErr
	} else {
		c.reconnects++
		if c.reconnects > c.cfg.MaxReconnectAttempts {
			terminal := NewError(e.Code,
				fmt.Sprintf("reconnect budget exhausted after %d attempts", c.cfg.MaxReconnectAttempts),
				e).WithRecoverable(false)
			c.attempt = uuid.Nil
			c.stopReconnectTimerLocked()
			c.state = StateFailed
			c.lastErr = terminal
			notifyState, notifyErr = StateFailed, terminal
		} else {
			next := uuid.New()
			c.attempt = next
			c.state = StateReconnecting
			c.lastErr = e
			delay := c.cfg.ReconnectBaseDelay * time.Duration(c.reconnects)
			c.stopReconnectTimerLocked()
			c.reconnectTimer = time.AfterFunc(delay, func() {
				if c.tokenValid(next) {
					c.runAttempt(next, true)
				}
			})
			notifyState, notifyErr = StateReconnecting, e
			c.logger.Warn("connection lost, reconnecting",
				"code", string(e.Code), "attempt", c.reconnects, "delay", delay)
		}
	}
	fn = c.onState
	c.mu.Unlock()

	c.sender.Detach()
	disposeSession(old)
	if fn != nil {
		fn(notifyState, notifyErr)
	}
}

func (c *Controller) tokenValid(token uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == token
}

// takeSessionLocked removes the current session and synchronously stops
// its watchdog. The caller disposes the returned session after
// releasing the lock.
func (c *Controller) takeSessionLocked() *session {
	s := c.sess
	c.sess = nil
	if s != nil && s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	return s
}

func (c *Controller) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// disposeSession releases a session's resources. The negotiator is
// disposed first so no candidate retry can fire against a dead peer.
func disposeSession(s *session) {
	if s == nil {
		return
	}
	if s.neg != nil {
		s.neg.Dispose()
	}
	if s.channel != nil {
		s.channel.Close()
	}
	if s.peer != nil {
		s.peer.Close()
	}
}

func statusText(state State, e *Error) string {
	switch state {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting to backend…"
	case StateConnected:
		return "Streaming"
	case StateReconnecting:
		return "Connection lost, reconnecting…"
	case StateFailed:
		if e != nil {
			return e.UserText().Title
		}
		return "Connection failed"
	}
	return string(state)
}
