// Package theme defines the static configuration driving audio-to-
// parameter mapping: prompt material, value ranges, per-feature mapping
// rules, beat behavior, and the user-selectable runtime presets.
//
// A Theme is immutable once built; selecting a new theme swaps the
// whole structure atomically in the consumer.
package theme

import (
	"errors"
	"fmt"
	"strings"
)

// Feature names a derived audio signal a mapping can read.
type Feature string

const (
	FeatureEnergy           Feature = "energy"
	FeatureBrightness       Feature = "brightness"
	FeatureTexture          Feature = "texture"
	FeatureEnergyDerivative Feature = "energy_derivative"
)

// Parameter names a generation parameter a mapping can write.
type Parameter string

const (
	ParamNoiseScale Parameter = "noise_scale"
	ParamDenoising  Parameter = "denoising"
	ParamMotion     Parameter = "motion"
)

// BeatAction selects what happens when a beat fires.
type BeatAction string

const (
	BeatPulseNoise        BeatAction = "pulse_noise"
	BeatPromptCycle       BeatAction = "prompt_cycle"
	BeatTransitionTrigger BeatAction = "transition_trigger"

	// BeatCacheReset is reserved for administrative use. Hard cuts are
	// visually jarring, so no built-in theme maps a beat to it and the
	// mapping engine never emits it on its own.
	BeatCacheReset BeatAction = "cache_reset"
)

// MappingTarget routes one derived feature into one generation
// parameter through a response curve.
type MappingTarget struct {
	Parameter   Parameter `json:"parameter"`
	Curve       CurveType `json:"curve"`
	Sensitivity float64   `json:"sensitivity"`
	Invert      bool      `json:"invert"`
}

// BeatMapping configures the beat-triggered effect for a theme.
type BeatMapping struct {
	Enabled    bool       `json:"enabled"`
	Action     BeatAction `json:"action"`
	Intensity  float64    `json:"intensity"`
	CooldownMs int        `json:"cooldown_ms"`
}

// Range is a closed float interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StepRange bounds the denoising schedule between a minimum and a
// maximum step array.
type StepRange struct {
	Min []int `json:"min"`
	Max []int `json:"max"`
}

// Ranges bounds every parameter the mapping engine produces.
type Ranges struct {
	DenoisingSteps  StepRange `json:"denoising_steps"`
	NoiseScale      Range     `json:"noise_scale"`
	TransitionSpeed Range     `json:"transition_speed"`
}

// PromptVariations is the optional prompt rotation a theme can carry.
type PromptVariations struct {
	Trigger    string   `json:"trigger"` // "beat" or "manual"
	Prompts    []string `json:"prompts"`
	BlendSteps int      `json:"blend_steps"`
}

// Theme bundles everything the mapping engine needs to turn audio into
// generation parameters.
type Theme struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	BasePrompt     string                    `json:"base_prompt"`
	StyleModifiers []string                  `json:"style_modifiers"`
	NegativePrompt string                    `json:"negative_prompt"`
	Ranges         Ranges                    `json:"ranges"`
	Mappings       map[Feature]MappingTarget `json:"mappings"`
	Beat           BeatMapping               `json:"beat"`
	Variations     *PromptVariations         `json:"prompt_variations,omitempty"`
}

// FullPrompt joins the base prompt with its style modifiers.
func (t *Theme) FullPrompt() string {
	if len(t.StyleModifiers) == 0 {
		return t.BasePrompt
	}
	return t.BasePrompt + ", " + strings.Join(t.StyleModifiers, ", ")
}

// Validate checks a theme for structural errors.
func (t *Theme) Validate() error {
	if t.ID == "" {
		return errors.New("theme: id is required")
	}
	if t.BasePrompt == "" {
		return fmt.Errorf("theme %s: base prompt is required", t.ID)
	}
	if t.Ranges.NoiseScale.Max < t.Ranges.NoiseScale.Min {
		return fmt.Errorf("theme %s: inverted noise scale range", t.ID)
	}
	if len(t.Ranges.DenoisingSteps.Min) == 0 || len(t.Ranges.DenoisingSteps.Max) == 0 {
		return fmt.Errorf("theme %s: empty denoising step range", t.ID)
	}
	for feat, m := range t.Mappings {
		switch feat {
		case FeatureEnergy, FeatureBrightness, FeatureTexture, FeatureEnergyDerivative:
		default:
			return fmt.Errorf("theme %s: unknown feature %q", t.ID, feat)
		}
		switch m.Parameter {
		case ParamNoiseScale, ParamDenoising, ParamMotion:
		default:
			return fmt.Errorf("theme %s: unknown parameter %q", t.ID, m.Parameter)
		}
		if !m.Curve.known() {
			return fmt.Errorf("theme %s: unknown curve %q", t.ID, m.Curve)
		}
	}
	return nil
}
