package speaking

import "time"

// Detector applies the hold rule: an id is speaking from the first sample
// at or above the threshold until hold has passed since the last one.
type Detector struct {
	threshold float64
	hold      time.Duration
	lastAbove map[string]time.Time
}

// NewDetector creates a detector; level and threshold share one scale.
func NewDetector(threshold float64, hold time.Duration) *Detector {
	return &Detector{threshold: threshold, hold: hold, lastAbove: make(map[string]time.Time)}
}

// Update records level for id at now and returns the speaking flag.
func (d *Detector) Update(id string, level float64, now time.Time) bool {
	if level >= d.threshold {
		d.lastAbove[id] = now
		return true
	}
	last, ok := d.lastAbove[id]
	if !ok {
		return false
	}
	if now.Sub(last) < d.hold {
		return true
	}
	delete(d.lastAbove, id)
	return false
}

// Forget drops the hold state for id.
func (d *Detector) Forget(id string) {
	delete(d.lastAbove, id)
}
