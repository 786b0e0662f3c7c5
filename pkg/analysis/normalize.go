package analysis

import "math"

// NormalizationConfig calibrates raw features into the 0..1 derived
// signals. Denominators must be strictly positive; configs that would
// divide by zero (or a negative span) are replaced wholesale by the
// default config so every frame yields finite, clamped output.
type NormalizationConfig struct {
	EnergyMax          float64 `json:"energy_max"`
	SpectralCentroidMin float64 `json:"spectral_centroid_min"`
	SpectralCentroidMax float64 `json:"spectral_centroid_max"`
	SpectralFlatnessMax float64 `json:"spectral_flatness_max"`
}

// DefaultNormalizationConfig returns calibration values tuned for
// typical program material at 44.1/48 kHz.
func DefaultNormalizationConfig() NormalizationConfig {
	return NormalizationConfig{
		EnergyMax:           0.35,
		SpectralCentroidMin: 200,
		SpectralCentroidMax: 8000,
		SpectralFlatnessMax: 0.6,
	}
}

// valid reports whether every denominator the config implies is
// strictly positive and finite.
func (c NormalizationConfig) valid() bool {
	if !isFinite(c.EnergyMax) || c.EnergyMax <= 0 {
		return false
	}
	if !isFinite(c.SpectralCentroidMin) || !isFinite(c.SpectralCentroidMax) {
		return false
	}
	if c.SpectralCentroidMax-c.SpectralCentroidMin <= 0 {
		return false
	}
	if !isFinite(c.SpectralFlatnessMax) || c.SpectralFlatnessMax <= 0 {
		return false
	}
	return true
}

// PeakDecay is the per-frame decay applied to the running energy peak.
const PeakDecay = 0.998

// Normalizer converts raw AudioFeatures into Derived signals.
// It keeps the previous energy sample for the derivative and a decaying
// running maximum for adaptive calibration.
type Normalizer struct {
	cfg        NormalizationConfig
	prevEnergy float64
	peakEnergy float64
	primed     bool
}

// NewNormalizer creates a Normalizer. An invalid config falls back to
// DefaultNormalizationConfig rather than propagating NaN/Inf downstream.
func NewNormalizer(cfg NormalizationConfig) *Normalizer {
	if !cfg.valid() {
		cfg = DefaultNormalizationConfig()
	}
	return &Normalizer{cfg: cfg}
}

// Config returns the calibration actually in effect.
func (n *Normalizer) Config() NormalizationConfig {
	return n.cfg
}

// Reset clears history. The next frame reports a zero derivative, so a
// resume never registers as a transient spike.
func (n *Normalizer) Reset() {
	n.prevEnergy = 0
	n.peakEnergy = 0
	n.primed = false
}

// Process derives calibrated signals for one frame. The running peak is
// updated only after this frame's normalization, so a frame never
// influences its own calibration.
func (n *Normalizer) Process(f AudioFeatures) Derived {
	cfg := n.cfg

	energy := clamp(safeDiv(f.RMS, cfg.EnergyMax), 0, 1)
	brightness := clamp(safeDiv(f.SpectralCentroid-cfg.SpectralCentroidMin,
		cfg.SpectralCentroidMax-cfg.SpectralCentroidMin), 0, 1)
	texture := clamp(safeDiv(f.SpectralFlatness, cfg.SpectralFlatnessMax), 0, 1)

	var derivative float64
	if n.primed {
		derivative = clamp(energy-n.prevEnergy, -1, 1)
	}

	d := Derived{
		Energy:           energy,
		Brightness:       brightness,
		Texture:          texture,
		EnergyDerivative: derivative,
		PeakEnergy:       n.peakEnergy,
	}

	n.prevEnergy = energy
	n.primed = true
	n.peakEnergy *= PeakDecay
	if energy > n.peakEnergy {
		n.peakEnergy = energy
	}

	return d
}

// safeDiv divides with a guard: a non-positive or non-finite
// denominator, or a non-finite numerator, yields zero.
func safeDiv(num, den float64) float64 {
	if !isFinite(num) || !isFinite(den) || den <= 0 {
		return 0
	}
	return num / den
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
