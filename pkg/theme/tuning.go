package theme

import "math"

// Tuning holds the real-time adjustable scalar multipliers that scale
// theme-defined sensitivities without mutating the theme itself.
// These can be modified via the status API without reconnecting.
type Tuning struct {
	BeatBoost           float64 `json:"beat_boost"`            // scales beat pulse intensity
	SpikeBoost          float64 `json:"spike_boost"`           // scales energy-spike response
	SpikeVariationBlend float64 `json:"spike_variation_blend"` // blend weight for spike-driven variation
	TempoMotionBias     float64 `json:"tempo_motion_bias"`     // scales tempo-derived motion bias
	NoiseCeiling        float64 `json:"noise_ceiling"`         // hard upper bound on noise scale
}

// Bound is the declared valid interval for one tuning field.
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// TuningBounds declares the valid interval per tuning field. Clamp
// never lets a field leave its bound.
var TuningBounds = map[string]Bound{
	"beat_boost":            {Min: 0, Max: 3},
	"spike_boost":           {Min: 0, Max: 3},
	"spike_variation_blend": {Min: 0, Max: 1},
	"tempo_motion_bias":     {Min: 0, Max: 2},
	"noise_ceiling":         {Min: 0.05, Max: 1},
}

// DefaultTuning returns neutral multipliers.
func DefaultTuning() Tuning {
	return Tuning{
		BeatBoost:           1.0,
		SpikeBoost:          1.0,
		SpikeVariationBlend: 0.5,
		TempoMotionBias:     1.0,
		NoiseCeiling:        0.85,
	}
}

// Clamp returns a copy with every field forced inside its declared
// bound. Non-finite input falls back to the default value for that
// field — raw input is never trusted.
func (t Tuning) Clamp() Tuning {
	def := DefaultTuning()
	t.BeatBoost = clampField(t.BeatBoost, def.BeatBoost, TuningBounds["beat_boost"])
	t.SpikeBoost = clampField(t.SpikeBoost, def.SpikeBoost, TuningBounds["spike_boost"])
	t.SpikeVariationBlend = clampField(t.SpikeVariationBlend, def.SpikeVariationBlend, TuningBounds["spike_variation_blend"])
	t.TempoMotionBias = clampField(t.TempoMotionBias, def.TempoMotionBias, TuningBounds["tempo_motion_bias"])
	t.NoiseCeiling = clampField(t.NoiseCeiling, def.NoiseCeiling, TuningBounds["noise_ceiling"])
	return t
}

func clampField(v, def float64, b Bound) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = def
	}
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}
