// Package analysis turns raw audio features into calibrated, bounded
// signals and rhythmic cues for the mapping engine. Feature extraction
// itself is pluggable: anything that produces AudioFeatures at a fixed
// frame rate can drive the normalizer and beat detector.
package analysis

import "time"

// AudioFeatures is one frame of raw analyzer output.
type AudioFeatures struct {
	RMS              float64 `json:"rms"`               // 0..1
	SpectralCentroid float64 `json:"spectral_centroid"` // Hz
	SpectralFlatness float64 `json:"spectral_flatness"` // 0..1
	SpectralRolloff  float64 `json:"spectral_rolloff"`  // Hz
	ZCR              float64 `json:"zcr"`               // crossings per frame
}

// Derived holds the calibrated signals computed from AudioFeatures.
type Derived struct {
	Energy           float64 `json:"energy"`            // 0..1
	Brightness       float64 `json:"brightness"`        // 0..1
	Texture          float64 `json:"texture"`           // 0..1
	EnergyDerivative float64 `json:"energy_derivative"` // -1..1
	PeakEnergy       float64 `json:"peak_energy"`       // decaying running max
}

// BeatInfo describes the rhythmic state after the latest frame.
// BPM is nil until a stable estimate exists.
type BeatInfo struct {
	BPM          *float64  `json:"bpm"`
	Confidence   float64   `json:"confidence"` // 0..1
	LastBeatTime time.Time `json:"last_beat_time"`
	IsBeat       bool      `json:"is_beat"`
}

// State bundles one frame of raw features with the derived signals and
// beat state, the read-only snapshot handed to consumers.
type State struct {
	Features AudioFeatures `json:"features"`
	Derived  Derived       `json:"derived"`
	Beat     BeatInfo      `json:"beat"`
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
