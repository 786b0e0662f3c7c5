// Package capture provides mono PCM capture for the analysis pipeline.
//
// Backends:
//   - cmd  - wraps a capture utility (arecord on Linux, rec on macOS)
//   - mock - synthetic signal for tests and hardware-free development
//
// The backend is selected automatically from the platform, or explicitly
// via configuration. Every source delivers fixed-size mono float32
// frames regardless of what the device produces.
package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

// Backend selects the capture implementation.
type Backend string

const (
	// BackendAuto picks the best backend for the platform.
	BackendAuto Backend = "auto"
	// BackendCmd shells out to the platform capture utility.
	BackendCmd Backend = "cmd"
	// BackendMock generates a synthetic signal.
	BackendMock Backend = "mock"
)

// Frame is one fixed-duration chunk of mono audio.
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the frame length in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate)
}

// Config holds capture configuration.
type Config struct {
	Backend       Backend       `json:"backend"`
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"` // device channels; output is always mono
	FrameDuration time.Duration `json:"frame_duration"`
	Device        string        `json:"device"` // device identifier for the cmd backend
}

// DefaultConfig returns capture defaults matched to the analysis tick.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    44_100,
		Channels:      1,
		FrameDuration: 23 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("capture: channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("capture: frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSize returns the number of mono samples per frame.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// frameBytes is the raw device read size for one frame (PCM16).
func (c *Config) frameBytes() int {
	return c.FrameSize() * c.Channels * 2
}

// Stats describes a running source.
type Stats struct {
	FramesRead int64  `json:"frames_read"`
	Overruns   int64  `json:"overruns"`
	Running    bool   `json:"running"`
	Backend    string `json:"backend"`
}

// Source captures audio and delivers mono frames.
type Source interface {
	// Start begins capture. Frames become available on Frames().
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call repeatedly.
	Stop() error

	// Frames returns the frame channel. Closed when the source stops.
	Frames() <-chan Frame

	// Stats reports capture statistics.
	Stats() Stats

	// Name returns the backend name.
	Name() string

	io.Closer
}

// NewSource creates a capture source for the configuration.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend()
	}

	logger.Info("creating capture source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendCmd:
		return newCmdSource(cfg, logger)
	default:
		return nil, fmt.Errorf("capture: unsupported backend %q", backend)
	}
}

// detectBackend picks cmd when a capture utility is on PATH, mock
// otherwise.
func detectBackend() Backend {
	if _, _, err := captureCommand(runtime.GOOS, Config{}); err == nil {
		return BackendCmd
	}
	return BackendMock
}

// captureCommand resolves the platform capture utility and its
// arguments for raw PCM16 on stdout.
func captureCommand(goos string, cfg Config) (string, []string, error) {
	switch goos {
	case "linux":
		path, err := exec.LookPath("arecord")
		if err != nil {
			return "", nil, fmt.Errorf("capture: arecord not found: %w", err)
		}
		args := []string{
			"-q",
			"-f", "S16_LE",
			"-r", fmt.Sprint(cfg.SampleRate),
			"-c", fmt.Sprint(cfg.Channels),
			"-t", "raw",
		}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
		return path, args, nil
	case "darwin":
		path, err := exec.LookPath("rec")
		if err != nil {
			return "", nil, fmt.Errorf("capture: rec (sox) not found: %w", err)
		}
		args := []string{
			"-q",
			"-t", "raw",
			"-b", "16",
			"-e", "signed-integer",
			"-r", fmt.Sprint(cfg.SampleRate),
			"-c", fmt.Sprint(cfg.Channels),
			"-",
		}
		return path, args, nil
	}
	return "", nil, fmt.Errorf("capture: no capture utility for %s", goos)
}
