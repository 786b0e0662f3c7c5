package theme

// Built-in themes. These are configuration data: the mapping engine
// consumes whatever theme it is handed and never special-cases an id.

var builtin = []Theme{
	{
		ID:         "neon-city",
		Name:       "Neon City",
		BasePrompt: "a sprawling neon-lit cyberpunk city at night, rain-slick streets",
		StyleModifiers: []string{
			"cinematic lighting", "volumetric fog", "high detail",
		},
		NegativePrompt: "blurry, low quality, text, watermark",
		Ranges: Ranges{
			DenoisingSteps:  StepRange{Min: []int{700, 749, 799}, Max: []int{500, 650, 800}},
			NoiseScale:      Range{Min: 0.25, Max: 0.75},
			TransitionSpeed: Range{Min: 8, Max: 32},
		},
		Mappings: map[Feature]MappingTarget{
			FeatureEnergy:     {Parameter: ParamNoiseScale, Curve: CurveExponential, Sensitivity: 1.0},
			FeatureBrightness: {Parameter: ParamDenoising, Curve: CurveLinear, Sensitivity: 0.9},
			FeatureTexture:    {Parameter: ParamMotion, Curve: CurveLogarithmic, Sensitivity: 0.7},
		},
		Beat: BeatMapping{
			Enabled:    true,
			Action:     BeatPulseNoise,
			Intensity:  0.25,
			CooldownMs: 220,
		},
		Variations: &PromptVariations{
			Trigger: "beat",
			Prompts: []string{
				"holographic billboards flickering over the crowd",
				"a monorail cutting through towers of glass",
				"steam rising from street food stalls under neon signs",
			},
			BlendSteps: 16,
		},
	},
	{
		ID:         "liquid-chrome",
		Name:       "Liquid Chrome",
		BasePrompt: "flowing liquid chrome abstract forms, studio lighting",
		StyleModifiers: []string{
			"iridescent reflections", "macro photography", "smooth gradients",
		},
		NegativePrompt: "flat, dull, noisy, text",
		Ranges: Ranges{
			DenoisingSteps:  StepRange{Min: []int{700, 749, 799}, Max: []int{550, 700, 800}},
			NoiseScale:      Range{Min: 0.2, Max: 0.6},
			TransitionSpeed: Range{Min: 12, Max: 40},
		},
		Mappings: map[Feature]MappingTarget{
			FeatureEnergy:           {Parameter: ParamMotion, Curve: CurveLinear, Sensitivity: 1.0},
			FeatureBrightness:       {Parameter: ParamNoiseScale, Curve: CurveLogarithmic, Sensitivity: 0.8},
			FeatureEnergyDerivative: {Parameter: ParamDenoising, Curve: CurveLinear, Sensitivity: 1.2},
		},
		Beat: BeatMapping{
			Enabled:    true,
			Action:     BeatTransitionTrigger,
			Intensity:  1.0,
			CooldownMs: 4000,
		},
		Variations: &PromptVariations{
			Trigger: "beat",
			Prompts: []string{
				"mercury droplets merging in zero gravity",
				"a chrome wave folding over itself in slow motion",
			},
			BlendSteps: 24,
		},
	},
	{
		ID:         "deep-forest",
		Name:       "Deep Forest",
		BasePrompt: "an ancient mossy forest with shafts of golden light",
		StyleModifiers: []string{
			"soft focus", "mist", "painterly",
		},
		NegativePrompt: "urban, machinery, text, watermark",
		Ranges: Ranges{
			DenoisingSteps:  StepRange{Min: []int{720, 760, 799}, Max: []int{650, 720, 799}},
			NoiseScale:      Range{Min: 0.15, Max: 0.45},
			TransitionSpeed: Range{Min: 16, Max: 48},
		},
		Mappings: map[Feature]MappingTarget{
			FeatureEnergy:     {Parameter: ParamNoiseScale, Curve: CurveStepped, Sensitivity: 0.8},
			FeatureBrightness: {Parameter: ParamMotion, Curve: CurveLinear, Sensitivity: 0.6, Invert: true},
			FeatureTexture:    {Parameter: ParamDenoising, Curve: CurveLinear, Sensitivity: 0.5},
		},
		Beat: BeatMapping{
			Enabled:    true,
			Action:     BeatPromptCycle,
			Intensity:  1.0,
			CooldownMs: 6000,
		},
		Variations: &PromptVariations{
			Trigger: "beat",
			Prompts: []string{
				"a deer pausing in a clearing",
				"fireflies drifting between the trunks",
				"a stream catching the last light",
			},
			BlendSteps: 20,
		},
	},
}

// Catalog returns the built-in themes in display order.
func Catalog() []Theme {
	out := make([]Theme, len(builtin))
	copy(out, builtin)
	return out
}

// ByID looks up a built-in theme.
func ByID(id string) (Theme, bool) {
	for _, t := range builtin {
		if t.ID == id {
			return t, true
		}
	}
	return Theme{}, false
}

// Default returns the theme selected at startup.
func Default() Theme {
	return builtin[0]
}
