package analysis

import (
	"math"
	"time"
)

// BeatConfig holds all tunable parameters for beat detection.
type BeatConfig struct {
	HistorySize     int     // energy samples kept for the adaptive threshold
	ThresholdRatio  float64 // beat fires when energy > mean * ThresholdRatio
	NoiseFloor      float64 // energy below this can never register a beat
	MinBPM          float64 // intervals implying BPM outside this band are
	MaxBPM          float64 // ignored for the estimate (the pulse still fires)
	IntervalHistory int     // inter-beat intervals kept for BPM/confidence
	BPMSmoothing    float64 // EMA alpha applied to accepted intervals
}

// DefaultBeatConfig returns the recommended detector configuration.
func DefaultBeatConfig() BeatConfig {
	return BeatConfig{
		HistorySize:     43, // ~1s of history at a 43 Hz analysis rate
		ThresholdRatio:  1.4,
		NoiseFloor:      0.08,
		MinBPM:          50,
		MaxBPM:          200,
		IntervalHistory: 8,
		BPMSmoothing:    0.25,
	}
}

// BeatDetector watches the energy signal for onsets and maintains a
// smoothed BPM estimate with a stability-based confidence score.
//
// Consumers should react to IsBeat transition edges by comparing their
// own last-processed timestamp against LastBeatTime, never by polling,
// so a single beat is not handled twice.
type BeatDetector struct {
	cfg BeatConfig

	history  []float64
	lastBeat time.Time
	smoothed float64 // smoothed inter-beat interval, seconds

	intervals  []float64
	bpm        *float64
	confidence float64
}

// NewBeatDetector creates a detector. Non-positive config fields fall
// back to their defaults.
func NewBeatDetector(cfg BeatConfig) *BeatDetector {
	def := DefaultBeatConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.ThresholdRatio <= 0 {
		cfg.ThresholdRatio = def.ThresholdRatio
	}
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = def.NoiseFloor
	}
	if cfg.MinBPM <= 0 || cfg.MaxBPM <= cfg.MinBPM {
		cfg.MinBPM, cfg.MaxBPM = def.MinBPM, def.MaxBPM
	}
	if cfg.IntervalHistory <= 0 {
		cfg.IntervalHistory = def.IntervalHistory
	}
	if cfg.BPMSmoothing <= 0 || cfg.BPMSmoothing > 1 {
		cfg.BPMSmoothing = def.BPMSmoothing
	}
	return &BeatDetector{
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
	}
}

// Reset clears all detector state.
func (d *BeatDetector) Reset() {
	d.history = d.history[:0]
	d.intervals = d.intervals[:0]
	d.lastBeat = time.Time{}
	d.smoothed = 0
	d.bpm = nil
	d.confidence = 0
}

// Process consumes one energy sample and returns the beat state for
// this frame. IsBeat is true only on the frame the beat fires.
func (d *BeatDetector) Process(energy float64, now time.Time) BeatInfo {
	mean := d.meanEnergy()
	d.pushEnergy(energy)

	isBeat := false
	// Gate: low ambient energy never registers, and the adaptive
	// threshold needs some history before it means anything.
	if energy > d.cfg.NoiseFloor && len(d.history) > d.cfg.HistorySize/4 {
		threshold := mean * d.cfg.ThresholdRatio
		// Refractory window: nothing above MaxBPM is a distinct beat.
		minGap := time.Duration(float64(time.Minute) / d.cfg.MaxBPM)
		if energy > threshold && (d.lastBeat.IsZero() || now.Sub(d.lastBeat) >= minGap) {
			isBeat = true
			d.onBeat(now)
		}
	}

	return BeatInfo{
		BPM:          d.bpm,
		Confidence:   d.confidence,
		LastBeatTime: d.lastBeat,
		IsBeat:       isBeat,
	}
}

// onBeat records an accepted beat and updates the BPM estimate.
// Intervals implying an implausible tempo are excluded from the
// estimate but the beat itself still counts.
func (d *BeatDetector) onBeat(now time.Time) {
	if !d.lastBeat.IsZero() {
		interval := now.Sub(d.lastBeat).Seconds()
		bpm := 60.0 / interval
		if bpm >= d.cfg.MinBPM && bpm <= d.cfg.MaxBPM {
			d.pushInterval(interval)
			if d.smoothed == 0 {
				d.smoothed = interval
			} else {
				a := d.cfg.BPMSmoothing
				d.smoothed = d.smoothed*(1-a) + interval*a
			}
			est := 60.0 / d.smoothed
			d.bpm = &est
			d.confidence = d.intervalStability()
		}
	}
	d.lastBeat = now
}

// intervalStability maps the spread of recent inter-beat intervals to
// a 0..1 confidence: tight intervals score high.
func (d *BeatDetector) intervalStability() float64 {
	if len(d.intervals) < 2 {
		return 0.3
	}
	mean := 0.0
	for _, v := range d.intervals {
		mean += v
	}
	mean /= float64(len(d.intervals))
	if mean <= 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range d.intervals {
		diff := v - mean
		sumSq += diff * diff
	}
	cv := math.Sqrt(sumSq/float64(len(d.intervals))) / mean
	return clamp(1.0-cv*2.5, 0, 1)
}

func (d *BeatDetector) meanEnergy() float64 {
	if len(d.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range d.history {
		sum += v
	}
	return sum / float64(len(d.history))
}

func (d *BeatDetector) pushEnergy(v float64) {
	d.history = append(d.history, v)
	if len(d.history) > d.cfg.HistorySize {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
}

func (d *BeatDetector) pushInterval(v float64) {
	d.intervals = append(d.intervals, v)
	if len(d.intervals) > d.cfg.IntervalHistory {
		copy(d.intervals, d.intervals[1:])
		d.intervals = d.intervals[:len(d.intervals)-1]
	}
}
