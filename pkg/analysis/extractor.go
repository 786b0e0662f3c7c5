package analysis

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Extractor computes AudioFeatures from mono PCM frames using FFT
// spectral analysis. It exists so the binary can run end to end against
// a capture source; the normalizer and beat detector accept features
// from any producer and never depend on it.
type Extractor struct {
	sampleRate float64

	buffer []complex128
	window []float64
}

// ExtractorConfig controls Extractor behavior.
type ExtractorConfig struct {
	SampleRate float64
}

// NewExtractor creates an Extractor with sensible defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	return &Extractor{sampleRate: cfg.SampleRate}
}

// Analyze returns audio features for the provided mono samples.
// An empty frame yields zero features.
func (e *Extractor) Analyze(samples []float32) AudioFeatures {
	if len(samples) == 0 {
		return AudioFeatures{}
	}

	size := nextPow2(min(len(samples), 2048))
	if size < 256 {
		size = 256
	}
	e.ensureWorkspace(size)

	buffer := e.buffer[:size]
	window := e.window[:size]

	var sumSq float64
	crossings := 0
	prev := float64(samples[0])
	for i := 0; i < size; i++ {
		var s float64
		if i < len(samples) {
			s = float64(samples[i])
		}
		sumSq += s * s
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
		buffer[i] = complex(s*window[i], 0)
	}

	spec := fft.FFT(buffer)
	bins := size / 2
	freqResolution := e.sampleRate / float64(size)

	var magSum, weightedSum, logSum float64
	mags := make([]float64, bins)
	for i := 1; i < bins; i++ {
		m := cmag(spec[i])
		mags[i] = m
		magSum += m
		weightedSum += m * float64(i) * freqResolution
		logSum += math.Log(m + 1e-12)
	}

	var centroid, flatness, rolloff float64
	if magSum > 0 {
		centroid = weightedSum / magSum

		// Geometric over arithmetic mean of magnitudes.
		geo := math.Exp(logSum / float64(bins-1))
		arith := magSum / float64(bins-1)
		flatness = clamp(geo/arith, 0, 1)

		// 85% spectral energy rolloff point.
		target := magSum * 0.85
		cum := 0.0
		for i := 1; i < bins; i++ {
			cum += mags[i]
			if cum >= target {
				rolloff = float64(i) * freqResolution
				break
			}
		}
	}

	frameLen := min(len(samples), size)
	return AudioFeatures{
		RMS:              clamp(math.Sqrt(sumSq/float64(size)), 0, 1),
		SpectralCentroid: centroid,
		SpectralFlatness: flatness,
		SpectralRolloff:  rolloff,
		ZCR:              float64(crossings) / float64(frameLen),
	}
}

func (e *Extractor) ensureWorkspace(size int) {
	if len(e.buffer) != size {
		e.buffer = make([]complex128, size)
	}
	if len(e.window) != size {
		e.window = make([]float64, size)
		sizeF := float64(size)
		for i := range e.window {
			e.window[i] = hann(float64(i), sizeF)
		}
	}
}

func hann(i, size float64) float64 {
	return 0.5 * (1.0 - math.Cos(2.0*math.Pi*i/size))
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
