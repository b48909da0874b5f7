package max30105

// tSeries is a fixed size ring buffer of normalized samples.
type tSeries struct {
	buffer []float64
	idx    int
	n      int
}

func newTSeries(size int) *tSeries {
	if size < 1 {
		size = 1
	}
	return &tSeries{
		buffer: make([]float64, size),
	}
}

func (t *tSeries) add(entries ...float64) {
	for _, e := range entries {
		t.buffer[t.idx] = e
		t.idx++
		t.idx %= len(t.buffer)
		if t.n < len(t.buffer) {
			t.n++
		}
	}
}

func (t *tSeries) size() int {
	return len(t.buffer)
}

// values returns the stored samples, oldest first.
func (t *tSeries) values() []float64 {
	v := make([]float64, 0, t.n)
	start := (t.idx - t.n + len(t.buffer)) % len(t.buffer)
	for i := 0; i < t.n; i++ {
		v = append(v, t.buffer[(start+i)%len(t.buffer)])
	}
	return v
}

func (t *tSeries) last() float64 {
	if t.n == 0 {
		return 0
	}
	return t.buffer[(t.idx-1+len(t.buffer))%len(t.buffer)]
}

func (t *tSeries) mean() float64 {
	return mean(t.values())
}

func (t *tSeries) minmax() (min, max float64) {
	for i, v := range t.values() {
		if i == 0 || v < min {
			min = v
		}
		if i == 0 || v > max {
			max = v
		}
	}
	return min, max
}

// acdc returns the ratio of the AC component (peak to peak) to the DC
// component (mean) of the series.
func (t *tSeries) acdc() float64 {
	dc := t.mean()
	if dc == 0 {
		return 0
	}
	min, max := t.minmax()

	return (max - min) / dc
}

func (t *tSeries) reset() {
	t.idx = 0
	t.n = 0
}

func mean(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}

	r := 0.0
	for _, v := range a {
		r += v
	}

	return r / float64(len(a))
}
