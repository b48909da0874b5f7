package driver

import (
	"context"
	"time"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/physic"
)

// senseTimeout bounds a temperature conversion started by Sense.
const senseTimeout = time.Second

// Sense reads the die temperature into e. Other fields are not modified.
func (d *Device) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrSensing
	}

	return d.sense(e)
}

func (d *Device) sense(e *physic.Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), senseTimeout)
	defer cancel()

	t, err := d.Temperature(ctx)
	if err != nil {
		return err
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(t*1000)*physic.MilliKelvin

	return nil
}

// SenseContinuous returns die temperature measurements on a continuous
// basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
func (d *Device) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)

	return sensing, nil
}

func (d *Device) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		e := physic.Env{}
		if err := d.sense(&e); err != nil {
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Precision implements physic.SenseEnv. The die temperature has a resolution
// of 0.0625°C.
func (d *Device) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// Halt stops continuous sensing started by SenseContinuous.
func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	d.wg.Wait()

	return nil
}

var _ conn.Resource = &Device{}
var _ physic.SenseEnv = &Device{}
