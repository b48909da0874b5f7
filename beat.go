package max30105

// beat detects heart beats as rising zero crossings of a filtered AC signal.
type beat struct {
	threshold float64
	armed     bool
	started   bool
	prev      float64
}

func newBeat(threshold float64) *beat {
	return &beat{
		threshold: threshold,
	}
}

// check receives the AC value of sample i and returns true on rising edges
// (positive zero crossings) that follow a trough below -threshold. The
// returned position is interpolated between samples.
func (b *beat) check(i int, ac float64) (float64, bool) {
	prev := b.prev
	rising := b.started && prev < 0 && ac >= 0
	b.prev = ac
	b.started = true

	if prev < -b.threshold {
		b.armed = true
	}
	if !rising || !b.armed {
		return 0, false
	}
	b.armed = false

	return float64(i-1) + -prev/(ac-prev), true
}
