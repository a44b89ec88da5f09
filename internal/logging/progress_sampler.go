package logging

// ProgressSampler thins render progress logging. It lets an event through
// when the completion percentage enters a new bucket, or when another
// chapter has failed since the last emitted event.
type ProgressSampler struct {
	step       float64
	lastBucket int
	lastFailed int
}

// NewProgressSampler returns a sampler with buckets of step percent. A
// non-positive step falls back to 5.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step, lastBucket: -1}
}

// ShouldLog reports whether progress at percent with failed chapters so far
// is worth a log line. A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, failed int) bool {
	if s == nil {
		return true
	}
	emit := false
	if failed > s.lastFailed {
		s.lastFailed = failed
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if percent > 100 {
		percent = 100
	}
	if bucket := int(percent / s.step); bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}
