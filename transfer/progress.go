// Package transfer implements streaming upload/download with progress
// (spec.md §4.10, C15): a pull-only asynchronous sequence of
// TransferProgress, multipart form encoding, and a batch prefetch helper.
package transfer

import "time"

// Progress is one point in an upload/download's progress sequence
// (spec.md §3 "TransferProgress").
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64 // -1 if unknown
	SpeedBytesPerSec float64
	ETA              time.Duration // zero if speed is non-positive or unknown
}

// speedSampleWindow is the rolling-mean window size named in spec.md
// §4.10 ("speed is a rolling mean of the last five samples").
const speedSampleWindow = 5

// speedTracker computes a rolling-mean transfer speed from successive
// (bytes, timestamp) samples, grounded on monitoring/metrics.go's
// RingBuffer idiom of a small fixed-size circular window, simplified here
// to a plain slice since the window is only 5 elements and single-writer
// (no concurrent producers within one transfer).
type speedTracker struct {
	samples    [speedSampleWindow]float64 // bytes/sec per interval
	count      int
	next       int
	lastBytes  int64
	lastTime   time.Time
	haveLast   bool
}

func newSpeedTracker() *speedTracker {
	return &speedTracker{}
}

// observe folds in a new (bytesTransferred, now) sample and returns the
// current rolling-mean speed in bytes/sec.
func (s *speedTracker) observe(bytesTransferred int64, now time.Time) float64 {
	if !s.haveLast {
		s.lastBytes = bytesTransferred
		s.lastTime = now
		s.haveLast = true
		return s.mean()
	}

	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed > 0 {
		delta := float64(bytesTransferred - s.lastBytes)
		s.samples[s.next] = delta / elapsed
		s.next = (s.next + 1) % speedSampleWindow
		if s.count < speedSampleWindow {
			s.count++
		}
	}
	s.lastBytes = bytesTransferred
	s.lastTime = now
	return s.mean()
}

func (s *speedTracker) mean() float64 {
	if s.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < s.count; i++ {
		sum += s.samples[i]
	}
	return sum / float64(s.count)
}

// newProgress builds a Progress sample, computing ETA = remaining/mean_speed
// when speed is positive and total is known (spec.md §4.10).
func newProgress(transferred, total int64, speed float64) Progress {
	p := Progress{BytesTransferred: transferred, TotalBytes: total, SpeedBytesPerSec: speed}
	if total >= 0 && speed > 0 {
		remaining := total - transferred
		if remaining > 0 {
			p.ETA = time.Duration(float64(remaining) / speed * float64(time.Second))
		}
	}
	return p
}

// ProgressReporter converts a byte-count transport callback into a stream
// of Progress samples delivered to onProgress, tracking rolling speed
// internally. clockNow defaults to time.Now if nil.
type ProgressReporter struct {
	total      int64
	tracker    *speedTracker
	clockNow   func() time.Time
	onProgress func(Progress)
}

// NewProgressReporter constructs a reporter for a transfer of known total
// size (-1 if unknown).
func NewProgressReporter(total int64, onProgress func(Progress), clockNow func() time.Time) *ProgressReporter {
	if clockNow == nil {
		clockNow = time.Now
	}
	return &ProgressReporter{total: total, tracker: newSpeedTracker(), clockNow: clockNow, onProgress: onProgress}
}

// Observe reports a new cumulative byte count, matching transport.ProgressFunc's
// signature so a ProgressReporter can be wired directly as one.
func (r *ProgressReporter) Observe(transferred, total int64) {
	if total >= 0 {
		r.total = total
	}
	now := r.clockNow()
	speed := r.tracker.observe(transferred, now)
	if r.onProgress != nil {
		r.onProgress(newProgress(transferred, r.total, speed))
	}
}
