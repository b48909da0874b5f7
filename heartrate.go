package max30105

import (
	"context"
	"fmt"
	"math"
	"sort"
)

type dev struct {
	values []float64
}

func (d *dev) mean() float64 {
	return mean(d.values)
}

func (d *dev) median() float64 {
	if len(d.values) == 0 {
		return 0
	}
	s := append([]float64(nil), d.values...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 0 {
		return (s[m-1] + s[m]) / 2
	}
	return s[m]
}

// deviation returns the relative distance of n to ref.
func deviation(n, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return math.Abs(n/ref - 1)
}

func (d *dev) add(n float64) {
	d.values = append(d.values, n)
}

// HeartRate returns the current heart rate. Heart rate is expected to be
// between 10 to 250 beats per minute; beats outside that range are ignored.
// If no contact is detected on the sensor, this function returns 0 with an
// ErrNotDetected error. If the beats found in the window are not consistent,
// it returns 0 with an ErrTooNoisy error.
func (d *Device) HeartRate(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.window+timeoutMargin)
	defer cancel()

	if err := d.fill(ctx); err != nil {
		d.hr.reset()
		return 0, fmt.Errorf("max30105: could not get heart rate: %w", err)
	}

	ir := d.irLED.values()
	if mean(ir) < DetectionThreshold {
		d.hr.reset()
		return 0, fmt.Errorf("max30105: could not get heart rate: %w", ErrNotDetected)
	}

	bpm, err := estimateHeartRate(ir, d.sensor.SampleRate())
	if err != nil {
		d.hr.reset()
		return 0, fmt.Errorf("max30105: could not get heart rate: %w", err)
	}
	d.log.WithField("bpm", bpm).Debug("heart rate window")

	d.hr.add(bpm)

	return d.hr.mean, nil
}

// estimateHeartRate returns the beats per minute in a signal sampled at fs
// samples per second.
func estimateHeartRate(signal []float64, fs float64) (float64, error) {
	half := int(fs * dcSpan.Seconds() / 2)
	if len(signal) <= 2*half+firTaps {
		return 0, ErrTooNoisy
	}

	f := newFIR()
	ac := make([]float64, 0, len(signal)-2*half-firTaps)
	for i, v := range detrend(signal, half) {
		z := f.lowPass(v)
		if i >= firTaps { // skip until the filter is filled
			ac = append(ac, z)
		}
	}

	peak := 0.0
	for _, v := range ac {
		peak = math.Max(peak, math.Abs(v))
	}

	b := newBeat(peak * hysteresis)
	var beats []float64
	for i, v := range ac {
		if pos, ok := b.check(i, v); ok {
			beats = append(beats, pos)
		}
	}

	return bpmFromBeats(beats, fs)
}

// detrend subtracts from each sample the mean of the 2*half+1 samples
// centered on it. Samples closer than half to either end are dropped.
func detrend(signal []float64, half int) []float64 {
	sum := make([]float64, len(signal)+1)
	for i, v := range signal {
		sum[i+1] = sum[i] + v
	}

	n := float64(2*half + 1)
	out := make([]float64, 0, len(signal)-2*half)
	for i := half; i < len(signal)-half; i++ {
		out = append(out, signal[i]-(sum[i+half+1]-sum[i-half])/n)
	}
	return out
}

// bpmFromBeats converts beat positions, in samples, to beats per minute.
func bpmFromBeats(beats []float64, fs float64) (float64, error) {
	var spans dev
	for i := 1; i < len(beats); i++ {
		span := (beats[i] - beats[i-1]) / fs
		if span > 60.0/minBPM { // less than 10 bpm
			continue // invalid
		}
		if span < 60.0/maxBPM { // more than 250 bpm
			continue // invalid
		}
		spans.add(span)
	}
	if len(spans.values) < 2 {
		return 0, ErrTooNoisy
	}

	ref := spans.median()
	var kept dev
	for _, s := range spans.values {
		if deviation(s, ref) <= maxDeviation {
			kept.add(s)
		}
	}
	rejected := len(spans.values) - len(kept.values)
	if len(kept.values) < 2 || rejected > len(kept.values) {
		return 0, ErrTooNoisy
	}

	return 60 / kept.mean(), nil
}
