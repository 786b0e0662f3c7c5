package analysis

import (
	"testing"
	"time"
)

// feedQuiet fills the detector's history with low ambient energy so the
// adaptive threshold has a meaningful baseline.
func feedQuiet(d *BeatDetector, start time.Time, frames int) time.Time {
	now := start
	for i := 0; i < frames; i++ {
		d.Process(0.1, now)
		now = now.Add(23 * time.Millisecond)
	}
	return now
}

func TestBeatDetector_NoiseFloorGate(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := time.Unix(0, 0)

	// Everything below the floor, including big relative spikes.
	for i := 0; i < 100; i++ {
		energy := 0.01
		if i%20 == 0 {
			energy = 0.07 // 7x the baseline but still under the floor
		}
		info := d.Process(energy, now)
		if info.IsBeat {
			t.Fatalf("frame %d: beat fired below noise floor", i)
		}
		now = now.Add(23 * time.Millisecond)
	}
}

func TestBeatDetector_FiresOnSpike(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := feedQuiet(d, time.Unix(0, 0), 30)

	info := d.Process(0.9, now)
	if !info.IsBeat {
		t.Fatal("expected beat on 9x energy spike")
	}
	if !info.LastBeatTime.Equal(now) {
		t.Errorf("LastBeatTime = %v, want %v", info.LastBeatTime, now)
	}

	// The very next frame must not report the same beat again.
	info = d.Process(0.9, now.Add(time.Millisecond))
	if info.IsBeat {
		t.Error("beat re-fired inside refractory window")
	}
}

func TestBeatDetector_RefractoryWindow(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := feedQuiet(d, time.Unix(0, 0), 30)

	if !d.Process(0.9, now).IsBeat {
		t.Fatal("expected first beat")
	}
	// 200 BPM ceiling means 300ms minimum spacing.
	if d.Process(0.9, now.Add(200*time.Millisecond)).IsBeat {
		t.Error("beat fired 200ms after previous, above the BPM ceiling")
	}
	if !d.Process(0.9, now.Add(320*time.Millisecond)).IsBeat {
		t.Error("beat did not fire once outside the refractory window")
	}
}

func TestBeatDetector_SteadyTempoEstimate(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := feedQuiet(d, time.Unix(0, 0), 30)

	// 120 BPM: one spike every 500ms, quiet frames between.
	var last BeatInfo
	for beat := 0; beat < 8; beat++ {
		last = d.Process(0.9, now)
		if !last.IsBeat {
			t.Fatalf("beat %d did not fire", beat)
		}
		for i := 0; i < 20; i++ {
			now = now.Add(25 * time.Millisecond)
			d.Process(0.1, now)
		}
	}

	if last.BPM == nil {
		t.Fatal("no BPM estimate after 8 steady beats")
	}
	if *last.BPM < 115 || *last.BPM > 125 {
		t.Errorf("BPM = %v, want ~120", *last.BPM)
	}
	if last.Confidence < 0.8 {
		t.Errorf("confidence = %v, want high for perfectly steady tempo", last.Confidence)
	}
}

func TestBeatDetector_OutlierIntervalRejected(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := feedQuiet(d, time.Unix(0, 0), 30)

	// Establish a 120 BPM estimate.
	for beat := 0; beat < 4; beat++ {
		d.Process(0.9, now)
		for i := 0; i < 20; i++ {
			now = now.Add(25 * time.Millisecond)
			d.Process(0.1, now)
		}
	}
	before := d.Process(0.1, now).BPM
	if before == nil {
		t.Fatal("no baseline BPM")
	}

	// Long silence, then a spike. The 3s interval implies 20 BPM,
	// outside the plausible band: the pulse fires, the estimate holds.
	for i := 0; i < 120; i++ {
		now = now.Add(25 * time.Millisecond)
		d.Process(0.05, now)
	}
	info := d.Process(0.9, now)
	if !info.IsBeat {
		t.Fatal("pulse suppressed for an outlier interval; only the estimate should ignore it")
	}
	if info.BPM == nil || *info.BPM != *before {
		t.Errorf("BPM changed on outlier interval: got %v, want %v", info.BPM, *before)
	}
}

func TestBeatDetector_ConfigFallbacks(t *testing.T) {
	d := NewBeatDetector(BeatConfig{MinBPM: 300, MaxBPM: 100}) // inverted band
	def := DefaultBeatConfig()
	if d.cfg.MinBPM != def.MinBPM || d.cfg.MaxBPM != def.MaxBPM {
		t.Errorf("inverted BPM band not replaced: %v..%v", d.cfg.MinBPM, d.cfg.MaxBPM)
	}
	if d.cfg.HistorySize != def.HistorySize || d.cfg.ThresholdRatio != def.ThresholdRatio {
		t.Errorf("zero fields not defaulted: %+v", d.cfg)
	}
}

func TestBeatDetector_Reset(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := feedQuiet(d, time.Unix(0, 0), 30)
	d.Process(0.9, now)

	d.Reset()
	info := d.Process(0.1, now.Add(time.Second))
	if info.BPM != nil || !info.LastBeatTime.IsZero() || info.Confidence != 0 {
		t.Errorf("state survived reset: %+v", info)
	}
}
