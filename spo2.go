package max30105

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// SpO2 returns the SpO2 value in 100%.
func (d *Device) SpO2(ctx context.Context) (float64, error) {
	r, err := d.rValue(ctx)
	if errors.Is(err, errLowValue) {
		d.spo2.reset()
		return 0, fmt.Errorf("max30105: could not get SpO2: %w", ErrNotDetected)
	} else if err != nil {
		d.spo2.reset()
		return 0, fmt.Errorf("max30105: could not get R value: %w", err)
	}

	spo2 := math.Max(0, math.Min(100, spo2A-spo2B*r))
	d.log.WithField("r", r).Debug("SpO2 window")

	d.spo2.add(spo2)

	return d.spo2.mean, nil
}

// rValue returns the ratio of ratios of the red and IR signals over the
// window.
func (d *Device) rValue(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.window+timeoutMargin)
	defer cancel()

	if err := d.fill(ctx); err != nil {
		return 0, err
	}

	if d.redLED.mean() < DetectionThreshold || d.irLED.mean() < DetectionThreshold {
		return 0, errLowValue
	}

	irACDC := d.irLED.acdc()
	if irACDC == 0 {
		return 0, ErrTooNoisy
	}

	return d.redLED.acdc() / irACDC, nil
}
