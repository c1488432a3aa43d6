package transfer

import (
	"testing"
	"time"
)

func TestProgressReporterComputesSpeedAndETA(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }

	var last Progress
	r := NewProgressReporter(1000, func(p Progress) { last = p }, clk)

	r.Observe(0, 1000)
	now = now.Add(time.Second)
	r.Observe(100, 1000) // 100 bytes in 1s => 100 B/s

	if last.SpeedBytesPerSec <= 0 {
		t.Fatalf("expected positive speed, got %v", last.SpeedBytesPerSec)
	}
	if last.ETA <= 0 {
		t.Errorf("expected positive ETA, got %v", last.ETA)
	}
}

func TestProgressReporterRollingMeanOverFiveSamples(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	r := NewProgressReporter(-1, nil, clk)

	// Six observations at a steadily increasing rate yield five speed
	// intervals (each observation after the first adds one); the tracker
	// should then hold a full window of speedSampleWindow samples.
	transferred := int64(0)
	speeds := make([]float64, 0, 6)
	for i := 0; i < 6; i++ {
		now = now.Add(time.Second)
		transferred += int64(100 * (i + 1))
		speed := r.tracker.observe(transferred, now)
		speeds = append(speeds, speed)
	}
	if r.tracker.count != speedSampleWindow {
		t.Errorf("tracker retained %d samples, want window size %d", r.tracker.count, speedSampleWindow)
	}
}

func TestProgressETAZeroWhenSpeedNonPositive(t *testing.T) {
	p := newProgress(0, 1000, 0)
	if p.ETA != 0 {
		t.Errorf("ETA = %v, want 0 when speed is zero", p.ETA)
	}
}

func TestProgressETAZeroWhenTotalUnknown(t *testing.T) {
	p := newProgress(500, -1, 100)
	if p.ETA != 0 {
		t.Errorf("ETA = %v, want 0 when total is unknown", p.ETA)
	}
}
