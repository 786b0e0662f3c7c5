package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
)

// DefaultSendInterval gives roughly 30 parameter updates per second.
const DefaultSendInterval = 33 * time.Millisecond

// Sender serializes the latest GenerationParameters snapshot onto the
// control channel at a fixed cadence. It holds a single pending value:
// each cycle atomically snapshots-and-clears it before transmitting, so
// an update arriving mid-send is queued for the next cycle rather than
// overwritten or lost. With no fresh value it re-sends the last-known
// snapshot to keep the backend's view warm, unless explicitly idle.
// No timer runs while detached.
type Sender struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	channel  ControlChannel
	pending  *mapping.GenerationParameters
	lastSent *mapping.GenerationParameters
	idle     bool
	stop     chan struct{}
}

// NewSender creates a sender with the given cadence. A non-positive
// interval selects DefaultSendInterval.
func NewSender(interval time.Duration) *Sender {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return &Sender{
		interval: interval,
		logger:   slog.Default().With("component", "stream.sender"),
	}
}

// Update stages the next snapshot for delivery. Safe to call at any
// time, including while a send is in flight.
func (s *Sender) Update(params mapping.GenerationParameters) {
	clone := params.Clone()
	s.mu.Lock()
	s.pending = &clone
	s.mu.Unlock()
}

// SetIdle suppresses keep-warm re-sends while no fresh values arrive.
func (s *Sender) SetIdle(idle bool) {
	s.mu.Lock()
	s.idle = idle
	s.mu.Unlock()
}

// Attach binds the sender to an open control channel and starts the
// send loop. Any previous loop is stopped first.
func (s *Sender) Attach(ch ControlChannel) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	s.channel = ch
	s.lastSent = nil
	var stop chan struct{}
	if ch != nil {
		stop = make(chan struct{})
	}
	s.stop = stop
	s.mu.Unlock()

	if stop != nil {
		go s.loop(stop)
	}
}

// Detach stops the send loop and releases the channel.
func (s *Sender) Detach() {
	s.Attach(nil)
}

func (s *Sender) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs one send opportunity.
func (s *Sender) tick() {
	s.mu.Lock()
	ch := s.channel
	if ch == nil || !ch.IsOpen() {
		s.mu.Unlock()
		return
	}
	snap := s.pending
	s.pending = nil
	if snap == nil {
		if s.idle || s.lastSent == nil {
			s.mu.Unlock()
			return
		}
		snap = s.lastSent
	} else {
		s.lastSent = snap
	}
	s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("marshal parameters", "error", err)
		return
	}
	if err := ch.Send(data); err != nil {
		s.logger.Warn("parameter send failed", "error", err)
	}
}
