package analysis

import (
	"math"
	"testing"
)

func TestNormalizer_GuardedConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  NormalizationConfig
	}{
		{"zero energy max", NormalizationConfig{EnergyMax: 0, SpectralCentroidMin: 100, SpectralCentroidMax: 8000, SpectralFlatnessMax: 0.5}},
		{"negative energy max", NormalizationConfig{EnergyMax: -1, SpectralCentroidMin: 100, SpectralCentroidMax: 8000, SpectralFlatnessMax: 0.5}},
		{"inverted centroid range", NormalizationConfig{EnergyMax: 0.3, SpectralCentroidMin: 8000, SpectralCentroidMax: 100, SpectralFlatnessMax: 0.5}},
		{"equal centroid bounds", NormalizationConfig{EnergyMax: 0.3, SpectralCentroidMin: 500, SpectralCentroidMax: 500, SpectralFlatnessMax: 0.5}},
		{"zero flatness max", NormalizationConfig{EnergyMax: 0.3, SpectralCentroidMin: 100, SpectralCentroidMax: 8000, SpectralFlatnessMax: 0}},
		{"nan energy max", NormalizationConfig{EnergyMax: math.NaN(), SpectralCentroidMin: 100, SpectralCentroidMax: 8000, SpectralFlatnessMax: 0.5}},
		{"inf centroid max", NormalizationConfig{EnergyMax: 0.3, SpectralCentroidMin: 100, SpectralCentroidMax: math.Inf(1), SpectralFlatnessMax: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(tt.cfg)
			if n.Config() != DefaultNormalizationConfig() {
				t.Errorf("expected fallback to default config, got %+v", n.Config())
			}

			frames := []AudioFeatures{
				{RMS: 0.5, SpectralCentroid: 3000, SpectralFlatness: 0.4},
				{RMS: 1.0, SpectralCentroid: 20000, SpectralFlatness: 1.5},
				{RMS: 0, SpectralCentroid: 0, SpectralFlatness: 0},
			}
			for i, f := range frames {
				d := n.Process(f)
				checkBounded(t, i, d)
			}
		})
	}
}

func checkBounded(t *testing.T, frame int, d Derived) {
	t.Helper()
	for name, v := range map[string]float64{
		"energy":     d.Energy,
		"brightness": d.Brightness,
		"texture":    d.Texture,
		"peak":       d.PeakEnergy,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			t.Errorf("frame %d: %s out of bounds: %v", frame, name, v)
		}
	}
	if math.IsNaN(d.EnergyDerivative) || d.EnergyDerivative < -1 || d.EnergyDerivative > 1 {
		t.Errorf("frame %d: derivative out of bounds: %v", frame, d.EnergyDerivative)
	}
}

func TestNormalizer_FirstFrameDerivativeIsZero(t *testing.T) {
	n := NewNormalizer(DefaultNormalizationConfig())

	d := n.Process(AudioFeatures{RMS: 0.9})
	if d.EnergyDerivative != 0 {
		t.Errorf("first frame derivative = %v, want 0", d.EnergyDerivative)
	}

	// Second frame sees a real derivative.
	d = n.Process(AudioFeatures{RMS: 0})
	if d.EnergyDerivative >= 0 {
		t.Errorf("second frame derivative = %v, want negative", d.EnergyDerivative)
	}

	// Reset suppresses the derivative again, whatever the input.
	n.Reset()
	d = n.Process(AudioFeatures{RMS: 1.0})
	if d.EnergyDerivative != 0 {
		t.Errorf("post-reset derivative = %v, want 0", d.EnergyDerivative)
	}
}

func TestNormalizer_PeakUpdatesAfterNormalization(t *testing.T) {
	n := NewNormalizer(DefaultNormalizationConfig())

	// The frame's own energy must not show up in its reported peak.
	d := n.Process(AudioFeatures{RMS: 0.3})
	if d.PeakEnergy != 0 {
		t.Errorf("first frame peak = %v, want 0 (no same-frame feedback)", d.PeakEnergy)
	}

	d = n.Process(AudioFeatures{RMS: 0})
	if d.PeakEnergy <= 0 {
		t.Errorf("second frame peak = %v, want previous frame's energy", d.PeakEnergy)
	}
}

func TestNormalizer_PeakDecays(t *testing.T) {
	n := NewNormalizer(DefaultNormalizationConfig())
	n.Process(AudioFeatures{RMS: 0.35}) // full-scale energy

	var prev float64 = 2
	for i := 0; i < 50; i++ {
		d := n.Process(AudioFeatures{})
		if d.PeakEnergy >= prev {
			t.Fatalf("frame %d: peak %v did not decay from %v", i, d.PeakEnergy, prev)
		}
		prev = d.PeakEnergy
	}
}
