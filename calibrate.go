package max30105

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/max30105/driver"
)

// Calibrate auto-calibrates the current of the IR and red LEDs. Each current
// is raised in steps of 0.5mA until the LED reads at least 40% of the full
// scale, up to 5mA.
func (d *Device) Calibrate(ctx context.Context) error {
	for _, led := range []driver.LED{driver.IR, driver.Red} {
		amp, lvl, err := d.calibrateLED(ctx, led)
		if err != nil {
			return fmt.Errorf("max30105: could not calibrate sensor: %w", err)
		}
		d.log.WithFields(logrus.Fields{
			"led":        led,
			"current_mA": amp,
			"level":      lvl,
		}).Info("calibrated LED")
	}

	// samples taken while calibrating do not belong to any window
	d.redLED.reset()
	d.irLED.reset()

	return nil
}

func (d *Device) calibrateLED(ctx context.Context, led driver.LED) (amp, lvl float64, err error) {
	if err := d.sensor.SetPulseAmp(led, 0); err != nil {
		return 0, 0, err
	}

	for lvl < calibrationTarget {
		if amp >= calibrationMaxAmp {
			break
		}
		amp += calibrationStep

		if err := d.sensor.SetPulseAmp(led, amp); err != nil {
			return 0, 0, err
		}
		if err := sleep(ctx, d.settle); err != nil {
			return 0, 0, err
		}

		// drop what was sampled with the previous current
		if _, err := d.leds(ctx); err != nil {
			return 0, 0, err
		}
		samples, err := d.leds(ctx)
		if err != nil {
			return 0, 0, err
		}

		l := level(samples)
		switch led {
		case driver.IR:
			lvl = l.IR
		case driver.Red:
			lvl = l.Red
		}
	}

	return amp, lvl, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
