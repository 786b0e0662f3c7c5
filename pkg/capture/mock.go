package capture

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource generates a synthetic signal: silence, a steady tone, or a
// pulsed tone that exercises beat detection end to end.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	frames  chan Frame
	stop    chan struct{}

	framesRead atomic.Int64
	overruns   atomic.Int64

	phase     float64
	frequency float64 // Hz; 0 generates silence
	amplitude float64
	pulseBPM  float64 // >0 gates the tone on a beat grid
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithTone makes the mock generate a steady sine tone.
func WithTone(frequency, amplitude float64) MockOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithPulse gates the tone on a beat grid at the given tempo, so the
// signal has onsets a beat detector can find.
func WithPulse(bpm float64) MockOption {
	return func(m *MockSource) {
		m.pulseBPM = bpm
	}
}

// NewMockSource creates a mock capture source. Silent by default.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		frames:    make(chan Frame, 8),
		stop:      make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stop = make(chan struct{})
	m.frames = make(chan Frame, 8)
	go m.generateLoop(ctx, m.stop, m.frames)

	m.logger.Info("mock capture started", "frequency", m.frequency, "pulse_bpm", m.pulseBPM)
	return nil
}

// generateLoop owns the frame channel: only it ever closes it, so a
// concurrent Stop can never race a send onto a closed channel.
func (m *MockSource) generateLoop(ctx context.Context, stop chan struct{}, out chan Frame) {
	defer close(out)
	ticker := time.NewTicker(m.cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			select {
			case out <- m.generateFrame():
				m.framesRead.Add(1)
			default:
				m.overruns.Add(1)
			}
		}
	}
}

func (m *MockSource) generateFrame() Frame {
	size := m.cfg.FrameSize()
	samples := make([]float32, size)
	if m.frequency > 0 {
		rate := float64(m.cfg.SampleRate)
		for i := range samples {
			v := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/rate)
			if m.pulseBPM > 0 {
				// On for the first quarter of each beat period.
				period := rate * 60 / m.pulseBPM
				if math.Mod(m.phase, period) > period/4 {
					v = 0
				}
			}
			samples[i] = float32(v)
			m.phase++
		}
	}
	return Frame{Samples: samples, SampleRate: m.cfg.SampleRate}
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stop)
	m.logger.Info("mock capture stopped")
	return nil
}

func (m *MockSource) Frames() <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

func (m *MockSource) Stats() Stats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return Stats{
		FramesRead: m.framesRead.Load(),
		Overruns:   m.overruns.Load(),
		Running:    running,
		Backend:    "mock",
	}
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

var _ Source = (*MockSource)(nil)
