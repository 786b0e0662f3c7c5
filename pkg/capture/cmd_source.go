package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
)

// cmdSource captures audio by running the platform capture utility and
// reading raw PCM16 from its stdout.
type cmdSource struct {
	cfg    Config
	logger *slog.Logger
	path   string
	args   []string

	mu      sync.Mutex
	running bool
	closed  bool
	frames  chan Frame
	cancel  context.CancelFunc

	framesRead atomic.Int64
	overruns   atomic.Int64
}

func newCmdSource(cfg Config, logger *slog.Logger) (*cmdSource, error) {
	path, args, err := captureCommand(runtime.GOOS, cfg)
	if err != nil {
		return nil, err
	}
	return &cmdSource{
		cfg:    cfg,
		logger: logger,
		path:   path,
		args:   args,
		frames: make(chan Frame, 8),
	}, nil
}

func (s *cmdSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.path, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("capture: start %s: %w", s.path, err)
	}

	s.running = true
	s.cancel = cancel
	s.frames = make(chan Frame, 8)
	go s.readLoop(cmd, stdout, s.frames)

	s.logger.Info("capture started", "command", s.path, "device", s.cfg.Device)
	return nil
}

// readLoop owns the frame channel: only it ever closes it, so Stop can
// never race a send onto a closed channel.
func (s *cmdSource) readLoop(cmd *exec.Cmd, stdout io.Reader, out chan Frame) {
	defer close(out)
	defer cmd.Wait()
	defer s.Stop()

	buf := make([]byte, s.cfg.frameBytes())
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if err != io.EOF {
				s.logger.Warn("capture read ended", "error", err)
			}
			return
		}
		frame := Frame{Samples: decodeFrame(buf, s.cfg.Channels), SampleRate: s.cfg.SampleRate}

		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		select {
		case out <- frame:
			s.framesRead.Add(1)
		default:
			// Consumer fell behind; fresher audio beats stale audio.
			s.overruns.Add(1)
		}
	}
}

func (s *cmdSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.logger.Info("capture stopped")
	return nil
}

func (s *cmdSource) Frames() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *cmdSource) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return Stats{
		FramesRead: s.framesRead.Load(),
		Overruns:   s.overruns.Load(),
		Running:    running,
		Backend:    "cmd",
	}
}

func (s *cmdSource) Name() string { return "cmd" }

func (s *cmdSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}
