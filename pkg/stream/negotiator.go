package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
)

// DefaultCandidateRetryDelay is the fixed delay between candidate
// delivery retries.
const DefaultCandidateRetryDelay = 2 * time.Second

// Negotiator performs the signaling handshake (local offer → remote
// answer) and owns the candidate exchange. Locally gathered candidates
// are queued until the remote session id is known, then flushed; failed
// deliveries are retried on a fixed delay until they succeed or the
// negotiator is disposed. Only one flush is ever in flight.
type Negotiator struct {
	backend    *Client
	peer       PeerSession
	retryDelay time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sessionID  string
	queue      []webrtc.ICECandidateInit
	flushing   bool
	retryTimer *time.Timer
	disposed   bool
}

// NewNegotiator wires a negotiator to a peer session. From this point
// on, candidates the peer gathers are queued for delivery.
func NewNegotiator(backend *Client, peer PeerSession, retryDelay time.Duration) *Negotiator {
	if retryDelay <= 0 {
		retryDelay = DefaultCandidateRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Negotiator{
		backend:    backend,
		peer:       peer,
		retryDelay: retryDelay,
		logger:     slog.Default().With("component", "stream.negotiator"),
		ctx:        ctx,
		cancel:     cancel,
	}
	peer.OnLocalCandidate(n.enqueue)
	return n
}

// Handshake creates the control channel, sends the local offer, applies
// the remote answer, and unblocks candidate delivery. The channel is
// created before the offer so it is negotiated in the SDP.
func (n *Negotiator) Handshake(ctx context.Context, channelLabel string, initial *mapping.GenerationParameters) (ControlChannel, error) {
	channel, err := n.peer.CreateControlChannel(channelLabel)
	if err != nil {
		return nil, err
	}

	offer, err := n.peer.CreateOffer(ctx)
	if err != nil {
		return nil, err
	}

	sessionID, answer, err := n.backend.SendOffer(ctx, offer, initial)
	if err != nil {
		return nil, err
	}

	if err := n.peer.SetAnswer(answer); err != nil {
		return nil, fmt.Errorf("stream: apply answer: %w", err)
	}

	n.mu.Lock()
	n.sessionID = sessionID
	n.mu.Unlock()
	n.logger.Info("handshake complete", "session_id", sessionID)

	go n.flush()
	return channel, nil
}

// SessionID returns the remote session id, empty until the handshake
// completes.
func (n *Negotiator) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// enqueue queues one local candidate and kicks a flush if the session
// id is already known.
func (n *Negotiator) enqueue(c webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, c)
	ready := n.sessionID != ""
	n.mu.Unlock()

	if ready {
		go n.flush()
	}
}

// flush delivers the queued candidates in one batch. On failure the
// batch is put back at the head of the queue and a retry is scheduled.
// The flushing flag keeps flushes mutually exclusive so a retry can
// never race a fresh flush into duplicate delivery.
func (n *Negotiator) flush() {
	n.mu.Lock()
	if n.flushing || n.disposed || n.sessionID == "" || len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	n.flushing = true
	batch := n.queue
	n.queue = nil
	sessionID := n.sessionID
	n.mu.Unlock()

	err := n.backend.SendCandidates(n.ctx, sessionID, batch)

	n.mu.Lock()
	n.flushing = false
	if n.disposed {
		n.mu.Unlock()
		return
	}
	if err != nil {
		n.queue = append(batch, n.queue...)
		n.logger.Warn("candidate delivery failed, scheduling retry",
			"candidates", len(batch), "error", err)
		if n.retryTimer != nil {
			n.retryTimer.Stop()
		}
		n.retryTimer = time.AfterFunc(n.retryDelay, n.flush)
		n.mu.Unlock()
		return
	}
	more := len(n.queue) > 0
	n.mu.Unlock()

	n.logger.Debug("candidates delivered", "count", len(batch))
	if more {
		go n.flush()
	}
}

// Dispose synchronously invalidates the retry timer and all queued
// state. A disposed negotiator never delivers another candidate, so a
// stale session cannot race a newer one.
func (n *Negotiator) Dispose() {
	n.mu.Lock()
	n.disposed = true
	n.queue = nil
	if n.retryTimer != nil {
		n.retryTimer.Stop()
		n.retryTimer = nil
	}
	n.mu.Unlock()
	n.cancel()
}
