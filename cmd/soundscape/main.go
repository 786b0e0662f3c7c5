// Command soundscape streams audio-reactive generation parameters to a
// real-time video generation backend and keeps the media session alive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Zuberverse/metadj-soundscape/internal/config"
	"github.com/Zuberverse/metadj-soundscape/internal/httpc"
	"github.com/Zuberverse/metadj-soundscape/internal/log"
	"github.com/Zuberverse/metadj-soundscape/pkg/analysis"
	"github.com/Zuberverse/metadj-soundscape/pkg/capture"
	"github.com/Zuberverse/metadj-soundscape/pkg/mapping"
	"github.com/Zuberverse/metadj-soundscape/pkg/stream"
	"github.com/Zuberverse/metadj-soundscape/pkg/theme"
	"github.com/Zuberverse/metadj-soundscape/pkg/web"
)

// analysisInterval is the audio analysis tick (~43 Hz).
const analysisInterval = 23 * time.Millisecond

// reactiveHold keeps the engine reactive this long after the last
// audible frame before easing back to the ambient baseline.
const reactiveHold = 2 * time.Second

var cli struct {
	Backend   string   `help:"Generation backend base URL." env:"BACKEND_URL" default:"http://localhost:8188"`
	Listen    string   `help:"Status server listen address." env:"LISTEN_ADDR" default:":7860"`
	Theme     string   `help:"Initial theme id." default:"neon-city"`
	Profile   string   `help:"Initial profile preset." default:"balanced"`
	Pipelines []string `help:"Pipeline chain to load." default:"streamdiffusion"`
	Capture   string   `help:"Audio capture backend (auto|cmd|mock|off)." env:"CAPTURE_BACKEND" default:"auto"`
	Device    string   `help:"Capture device identifier." env:"CAPTURE_DEVICE"`
	LogLevel  string   `help:"Log level (debug|info|warn|error)." env:"LOG_LEVEL" default:"info"`
	Connect   bool     `help:"Connect to the backend on startup."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("soundscape"),
		kong.Description("Audio-reactive parameter streaming for a real-time video generation backend."),
	)
	log.Init(cli.LogLevel)

	th, ok := theme.ByID(cli.Theme)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown theme %q\n", cli.Theme)
		os.Exit(1)
	}
	profile, ok := theme.ProfileByName(cli.Profile)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown profile %q\n", cli.Profile)
		os.Exit(1)
	}

	engine := mapping.NewEngine(th, profile, theme.DefaultTuning())
	sender := stream.NewSender(stream.DefaultSendInterval)

	backend := stream.NewClient(config.BackendURL(cli.Backend), httpc.NewClient(httpc.DefaultTimeout))
	cfg := stream.DefaultConfig()
	cfg.PipelineIDs = cli.Pipelines
	ctrl := stream.NewController(cfg, backend, stream.NewPionPeer, sender)
	ctrl.SetInitialParameters(func() *mapping.GenerationParameters {
		p := engine.Snapshot()
		return &p
	})
	ctrl.OnStateChange(func(state stream.State, err *stream.Error) {
		if err != nil {
			log.Warn("session state", "state", string(state), "code", string(err.Code), "error", err.Message)
			return
		}
		log.Info("session state", "state", string(state))
	})

	loop := newAnalysisLoop(engine, sender)
	stopLoop := loop.start()

	var source capture.Source
	if cli.Capture != "off" {
		capCfg := capture.DefaultConfig()
		capCfg.Backend = capture.Backend(cli.Capture)
		capCfg.Device = cli.Device
		src, err := capture.NewSource(capCfg, nil)
		if err != nil {
			log.Warn("audio capture unavailable, staying ambient", "error", err)
		} else if err := src.Start(context.Background()); err != nil {
			log.Warn("audio capture failed to start, staying ambient", "error", err)
			src.Close()
		} else {
			source = src
			go func() {
				for frame := range src.Frames() {
					loop.FeedPCM(frame.Samples)
				}
			}()
		}
	}

	srv := web.NewServer(config.ListenAddr(cli.Listen), web.Deps{
		Status:     ctrl.Status,
		Connect:    ctrl.Connect,
		Disconnect: ctrl.Disconnect,
		Analysis:   loop.snapshot,
		Parameters: engine.Snapshot,
		Tuning:     engine.Tuning,
		SetTuning:  engine.SetTuning,
		Themes:     theme.Catalog,
		SelectTheme: func(id string) error {
			t, ok := theme.ByID(id)
			if !ok {
				return fmt.Errorf("unknown theme %q", id)
			}
			engine.SetTheme(t)
			return nil
		},
		Profiles: theme.ProfileNames,
		SelectProfile: func(name string) error {
			p, ok := theme.ProfileByName(name)
			if !ok {
				return fmt.Errorf("unknown profile %q", name)
			}
			engine.SetProfile(p)
			return nil
		},
	})

	if cli.Connect {
		ctrl.Connect()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil {
			log.Error("status server exited", "error", err)
		}
	}

	ctrl.Disconnect()
	if source != nil {
		source.Close()
	}
	stopLoop()
	srv.Shutdown()
}

// analysisLoop runs the fixed-rate analysis tick independent of
// connection state: normalize, detect beats, map, stage for sending.
// FeedPCM is the integration point for an audio capture source; with
// no audio the engine holds the ambient baseline.
type analysisLoop struct {
	extractor  *analysis.Extractor
	normalizer *analysis.Normalizer
	beats      *analysis.BeatDetector
	engine     *mapping.Engine
	sender     *stream.Sender

	mu         sync.Mutex
	pcm        []float32
	state      analysis.State
	lastActive time.Time
}

func newAnalysisLoop(engine *mapping.Engine, sender *stream.Sender) *analysisLoop {
	return &analysisLoop{
		extractor:  analysis.NewExtractor(analysis.ExtractorConfig{}),
		normalizer: analysis.NewNormalizer(analysis.DefaultNormalizationConfig()),
		beats:      analysis.NewBeatDetector(analysis.DefaultBeatConfig()),
		engine:     engine,
		sender:     sender,
	}
}

// FeedPCM hands the loop the most recent mono frame from a capture
// source.
func (l *analysisLoop) FeedPCM(samples []float32) {
	l.mu.Lock()
	l.pcm = append(l.pcm[:0], samples...)
	l.mu.Unlock()
}

func (l *analysisLoop) start() func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(analysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.tick(time.Now())
			}
		}
	}()
	return func() { close(stop) }
}

func (l *analysisLoop) tick(now time.Time) {
	l.mu.Lock()
	frame := l.pcm
	l.pcm = nil
	l.mu.Unlock()

	var features analysis.AudioFeatures
	if len(frame) > 0 {
		features = l.extractor.Analyze(frame)
	}

	derived := l.normalizer.Process(features)
	beat := l.beats.Process(derived.Energy, now)
	state := analysis.State{Features: features, Derived: derived, Beat: beat}

	l.mu.Lock()
	l.state = state
	if derived.Energy > 0.02 {
		l.lastActive = now
	}
	active := now.Sub(l.lastActive) < reactiveHold && !l.lastActive.IsZero()
	l.mu.Unlock()

	if active {
		l.engine.SetMode(mapping.ModeReactive)
	} else {
		l.engine.SetMode(mapping.ModeAmbient)
	}

	params := l.engine.Tick(state, now)
	l.sender.Update(params)
}

func (l *analysisLoop) snapshot() analysis.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
