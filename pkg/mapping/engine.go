package mapping

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Zuberverse/metadj-soundscape/pkg/analysis"
	"github.com/Zuberverse/metadj-soundscape/pkg/theme"
)

// Mode is the engine's operating mode.
type Mode string

const (
	// ModeReactive follows the audio signals.
	ModeReactive Mode = "reactive"

	// ModeAmbient holds a stable baseline while the session is
	// connected but no audio is playing, keeping the generation cache
	// coherent.
	ModeAmbient Mode = "ambient"
)

// ambientBaseline is the normalized parameter level held in ambient
// mode: the bottom of each theme range plus a small fixed offset.
const ambientBaseline = 0.15

// noiseBoostDecay is the per-tick decay of the beat noise pulse.
const noiseBoostDecay = 0.82

// Engine is the audio-to-parameter mapping engine. All methods are safe
// for concurrent use; the audio tick and control surface run on
// different goroutines.
type Engine struct {
	mu sync.Mutex

	theme   theme.Theme
	profile theme.Profile
	tuning  theme.Tuning
	mode    Mode

	smoothed map[theme.Parameter]float64

	// Beat effect state.
	noiseBoost    float64
	lastBeatSeen  time.Time // edge-trigger guard against re-processing
	lastActionAt  time.Time
	variationIdx  int

	// Prompt state. A prompt change never hard-cuts: it starts a
	// two-anchor transition unless a cache reset was requested.
	currentPrompt  string
	prevPrompt     string
	stepsLeft      int
	stepsTotal     int
	resetRequested bool

	last   GenerationParameters
	logger *slog.Logger
}

// NewEngine creates an engine with the given theme, profile, and
// tuning. Tuning is clamped on the way in.
func NewEngine(t theme.Theme, p theme.Profile, tn theme.Tuning) *Engine {
	return &Engine{
		theme:         t,
		profile:       p,
		tuning:        tn.Clamp(),
		mode:          ModeAmbient,
		smoothed:      make(map[theme.Parameter]float64),
		currentPrompt: t.FullPrompt(),
		logger:        slog.Default().With("component", "mapping.engine"),
	}
}

// SetTheme atomically swaps the active theme. Mid-session the prompt
// change rides a transition using the new theme's blend step count, so
// the swap is never a visual hard cut.
func (e *Engine) SetTheme(t theme.Theme) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.theme = t
	e.variationIdx = 0
	e.startTransition(t.FullPrompt(), e.themeBlendSteps(t))
	e.logger.Info("theme selected", "theme", t.ID)
}

// SetProfile swaps the active profile preset. Takes effect next tick.
func (e *Engine) SetProfile(p theme.Profile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
}

// SetTuning applies runtime tuning, clamped to declared bounds.
func (e *Engine) SetTuning(t theme.Tuning) {
	e.mu.Lock()
	e.tuning = t.Clamp()
	e.mu.Unlock()
}

// Tuning returns the tuning currently in effect.
func (e *Engine) Tuning() theme.Tuning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tuning
}

// SetMode switches between reactive and ambient operation.
func (e *Engine) SetMode(m Mode) {
	e.mu.Lock()
	if e.mode != m {
		e.mode = m
		e.logger.Debug("mode changed", "mode", m)
	}
	e.mu.Unlock()
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// RequestCacheReset arms a hard prompt cut on the next tick. This is an
// administrative path only; no beat mapping ever reaches it.
func (e *Engine) RequestCacheReset() {
	e.mu.Lock()
	e.resetRequested = true
	e.mu.Unlock()
}

// Snapshot returns the most recently emitted parameters.
func (e *Engine) Snapshot() GenerationParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last.Clone()
}

// Tick consumes one analysis frame and produces the next parameter
// snapshot. In ambient mode the audio signals are ignored and every
// target eases toward the baseline.
func (e *Engine) Tick(state analysis.State, now time.Time) GenerationParameters {
	e.mu.Lock()
	defer e.mu.Unlock()

	alpha := e.profile.Smoothing
	if alpha <= 0 || alpha > 1 {
		alpha = 0.25
	}

	if e.mode == ModeReactive {
		for feat, m := range e.theme.Mappings {
			raw := clamp(m.Sensitivity*m.Curve.Apply(featureValue(state.Derived, feat)), 0, 1)
			if m.Invert {
				raw = 1 - raw
			}
			e.blend(m.Parameter, raw, alpha)
		}
		e.handleBeat(state.Beat, now)
	} else {
		for _, p := range []theme.Parameter{theme.ParamNoiseScale, theme.ParamDenoising, theme.ParamMotion} {
			e.blend(p, ambientBaseline, alpha)
		}
	}

	e.noiseBoost *= noiseBoostDecay
	if e.noiseBoost < 0.001 {
		e.noiseBoost = 0
	}

	params := e.buildParams(state)
	e.last = params.Clone()
	return params
}

// blend applies the exponential low-pass that keeps frame-to-frame
// jitter from popping visually.
func (e *Engine) blend(p theme.Parameter, raw, alpha float64) {
	e.smoothed[p] = e.smoothed[p]*(1-alpha) + raw*alpha
}

// handleBeat reacts to beat transition edges. A beat is new only when
// its timestamp is later than the last one processed, so the same beat
// is never handled twice across ticks.
func (e *Engine) handleBeat(beat analysis.BeatInfo, now time.Time) {
	if beat.LastBeatTime.IsZero() || !beat.LastBeatTime.After(e.lastBeatSeen) {
		return
	}
	e.lastBeatSeen = beat.LastBeatTime

	bm := e.theme.Beat
	if !bm.Enabled {
		return
	}
	cooldown := time.Duration(bm.CooldownMs) * time.Millisecond
	if !e.lastActionAt.IsZero() && now.Sub(e.lastActionAt) < cooldown {
		return
	}

	switch bm.Action {
	case theme.BeatPulseNoise:
		e.noiseBoost = clamp(e.noiseBoost+bm.Intensity*e.tuning.BeatBoost, 0, 1)
	case theme.BeatPromptCycle:
		e.cycleVariation(false)
	case theme.BeatTransitionTrigger:
		e.cycleVariation(true)
	case theme.BeatCacheReset:
		// Reserved. Hard cuts only happen through RequestCacheReset.
		return
	default:
		return
	}
	e.lastActionAt = now
}

// cycleVariation advances to the next prompt variation. An empty
// variation list is a no-op, never a malformed payload.
func (e *Engine) cycleVariation(forceTransition bool) {
	v := e.theme.Variations
	if v == nil || len(v.Prompts) == 0 {
		if forceTransition {
			e.startTransition(e.theme.FullPrompt(), e.themeBlendSteps(e.theme))
		}
		return
	}
	e.variationIdx = (e.variationIdx + 1) % len(v.Prompts)
	next := e.theme.FullPrompt() + ", " + v.Prompts[e.variationIdx]
	e.startTransition(next, e.variationSteps(v))
}

// variationSteps derives the transition length for a beat-driven
// variation, paced by the profile's motion bias and the tempo bias,
// clamped into the theme's transition-speed range.
func (e *Engine) variationSteps(v *theme.PromptVariations) int {
	steps := float64(v.BlendSteps)
	pace := e.profile.MotionBias * e.tuning.TempoMotionBias
	if pace > 0 {
		steps = steps / pace
	}
	r := e.theme.Ranges.TransitionSpeed
	if r.Max > r.Min {
		steps = clamp(steps, r.Min, r.Max)
	}
	n := int(math.Round(steps))
	if n < 1 {
		n = 1
	}
	return n
}

// themeBlendSteps picks the step count a theme swap blends over.
func (e *Engine) themeBlendSteps(t theme.Theme) int {
	if t.Variations != nil && t.Variations.BlendSteps > 0 {
		return t.Variations.BlendSteps
	}
	r := t.Ranges.TransitionSpeed
	mid := int(math.Round((r.Min + r.Max) / 2))
	if mid < 1 {
		mid = 8
	}
	return mid
}

// startTransition begins a two-anchor blend to a new prompt. A repeat
// of the current prompt is a no-op.
func (e *Engine) startTransition(next string, steps int) {
	if next == e.currentPrompt {
		return
	}
	e.prevPrompt = e.currentPrompt
	e.currentPrompt = next
	if steps < 1 {
		steps = 1
	}
	e.stepsLeft = steps
	e.stepsTotal = steps
}

// buildParams assembles the outgoing snapshot from the smoothed state.
func (e *Engine) buildParams(state analysis.State) GenerationParameters {
	if e.resetRequested {
		// Administrative hard cut: drop any in-flight blend.
		e.resetRequested = false
		e.prevPrompt = ""
		e.stepsLeft = 0
		e.stepsTotal = 0
	}

	noiseNorm := e.smoothed[theme.ParamNoiseScale] + e.noiseBoost
	if e.mode == ModeReactive {
		// Energy spikes push noise directly, scaled by the spike boost.
		spike := math.Max(0, state.Derived.EnergyDerivative)
		noiseNorm += spike * e.tuning.SpikeBoost * e.tuning.SpikeVariationBlend
	}
	nr := e.theme.Ranges.NoiseScale
	noise := lerp(nr.Min, nr.Max, clamp(noiseNorm, 0, 1))
	// The ceiling is a hard invariant: never exceeded, whatever the
	// theme or tuning say.
	if noise > e.tuning.NoiseCeiling {
		noise = e.tuning.NoiseCeiling
	}

	params := GenerationParameters{
		NegativePrompt:      e.theme.NegativePrompt,
		DenoisingSteps:      e.denoisingSteps(),
		NoiseScale:          clamp(noise, 0, 1),
		InterpolationMethod: InterpLinear,
	}

	if e.stepsLeft > 0 {
		progress := 1 - float64(e.stepsLeft)/float64(e.stepsTotal)
		params.Prompts = []PromptEntry{
			{Text: e.prevPrompt, Weight: clamp(1-progress, 0, 1)},
			{Text: e.currentPrompt, Weight: clamp(progress, 0, 1)},
		}
		params.InterpolationMethod = InterpSlerp
		params.Transition = &Transition{
			TargetPrompts:       []PromptEntry{{Text: e.currentPrompt, Weight: 1}},
			NumSteps:            e.stepsTotal,
			InterpolationMethod: InterpSlerp,
		}
		e.stepsLeft--
	} else {
		// Degenerate steady state: one anchor, nothing to blend.
		params.Prompts = []PromptEntry{{Text: e.currentPrompt, Weight: 1}}
	}

	return params
}

// denoisingSteps interpolates the theme's step range by the smoothed
// denoising signal, falling back to the profile schedule when the theme
// declares no denoising mapping.
func (e *Engine) denoisingSteps() []int {
	if !e.hasMappingFor(theme.ParamDenoising) {
		return append([]int(nil), e.profile.StepSchedule...)
	}
	v := clamp(e.smoothed[theme.ParamDenoising], 0, 1)
	lo := e.theme.Ranges.DenoisingSteps.Min
	hi := e.theme.Ranges.DenoisingSteps.Max
	n := len(lo)
	if len(hi) < n {
		n = len(hi)
	}
	if n == 0 {
		return append([]int(nil), e.profile.StepSchedule...)
	}
	steps := make([]int, n)
	for i := 0; i < n; i++ {
		steps[i] = int(math.Round(lerp(float64(lo[i]), float64(hi[i]), v)))
	}
	return steps
}

func (e *Engine) hasMappingFor(p theme.Parameter) bool {
	for _, m := range e.theme.Mappings {
		if m.Parameter == p {
			return true
		}
	}
	return false
}

func featureValue(d analysis.Derived, f theme.Feature) float64 {
	switch f {
	case theme.FeatureEnergy:
		return d.Energy
	case theme.FeatureBrightness:
		return d.Brightness
	case theme.FeatureTexture:
		return d.Texture
	case theme.FeatureEnergyDerivative:
		// Mappings read magnitudes; the signed derivative is folded.
		return math.Abs(d.EnergyDerivative)
	}
	return 0
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
