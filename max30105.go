// Package max30105 reads heart rate, SpO2 and particle levels from a MAX30105
// sensor. Low level access to the device is provided by the driver package.
package max30105

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/max30105/driver"
)

var (
	// ErrWrongDevice is thrown when trying to access the underlying
	// *driver.Device of a Device that is not backed by one.
	ErrWrongDevice = errors.New("wrong device")
	// ErrNotDetected is thrown when trying to read a heart rate or SpO2 level
	// and nothing is detected on the sensor (e.g. no finger is placed on the
	// sensor when the function is called).
	ErrNotDetected = errors.New("nothing detected on the sensor")
	// ErrTooNoisy is thrown when trying to read data and has too much
	// variation, therefore consistent measurements cannot be done (e.g.
	// ambient light, moving finger, etc.).
	ErrTooNoisy = errors.New("data has too much noise")

	errLowValue = errors.New("low value")
)

// Device defines a MAX30105 device.
type Device struct {
	sensor sensor
	redLED *tSeries
	irLED  *tSeries
	readCh chan struct{}

	hr   movingAverage
	spo2 movingAverage

	bus       string
	addr      uint16
	opts      *driver.Opts
	log       logrus.FieldLogger
	window    time.Duration
	calibrate bool
	settle    time.Duration

	// PartID is the byte part ID as set by the manufacturer (0x15).
	PartID byte
	RevID  byte
}

// sensor is the part of *driver.Device used to take measurements.
type sensor interface {
	Temperature(ctx context.Context) (float64, error)
	Samples(ctx context.Context) ([]driver.Sample, error)
	SampleRate() float64
	SetPulseAmp(led driver.LED, current float64) error

	Shutdown() error
	Startup() error

	Close() error
}

var _ sensor = (*driver.Device)(nil)

// Level holds normalized (0.0 - 1.0) LED readings.
type Level struct {
	Red   float64
	IR    float64
	Green float64
}

func newDefault() *Device {
	l := logrus.New()
	l.Out = io.Discard
	return &Device{
		log:    l,
		window: defaultWindow,
		settle: calibrationSettle,
	}
}

// New opens and returns a new MAX30105 device.
func New(options ...Option) (*Device, error) {
	d := newDefault()
	for _, opt := range options {
		opt(d)
	}

	opts := driver.DefaultOpts()
	if d.opts != nil {
		*opts = *d.opts
	}
	if d.addr != 0 {
		opts.Addr = d.addr
	}

	s, err := driver.Open(d.bus, opts)
	if err != nil {
		return nil, err
	}
	d.PartID = driver.PartID
	d.RevID = s.RevID()
	d.attach(s)

	d.log.WithFields(logrus.Fields{
		"device":      s.String(),
		"revision":    d.RevID,
		"sample_rate": s.SampleRate(),
	}).Debug("opened sensor")

	if d.calibrate {
		ctx, cancel := context.WithTimeout(context.Background(), calibrationTime)
		defer cancel()
		if err := d.Calibrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return d, nil
}

// newDevice returns a device reading from s.
func newDevice(s sensor, options ...Option) *Device {
	d := newDefault()
	for _, opt := range options {
		opt(d)
	}
	d.attach(s)
	return d
}

func (d *Device) attach(s sensor) {
	d.sensor = s
	d.readCh = make(chan struct{}, 1)
	d.readCh <- struct{}{}

	n := int(s.SampleRate() * d.window.Seconds())
	d.redLED = newTSeries(n)
	d.irLED = newTSeries(n)
}

// Close closes the devices and cleans after itself.
func (d *Device) Close() error {
	return d.sensor.Close()
}

// acquire takes exclusive access to the sensor.
func (d *Device) acquire(ctx context.Context) error {
	select {
	case <-d.readCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) release() {
	d.readCh <- struct{}{}
}

// Temperature returns the current temperature of the device.
func (d *Device) Temperature(ctx context.Context) (float64, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()

	return d.sensor.Temperature(ctx)
}

// Shutdown sets the device into power-save mode.
func (d *Device) Shutdown() error {
	return d.sensor.Shutdown()
}

// Startup wakes the device from power-save mode.
func (d *Device) Startup() error {
	return d.sensor.Startup()
}

// Driver returns the underlying driver to access low level functions. Check
// the package max30105/driver for detailed behavior.
func (d *Device) Driver() (*driver.Device, error) {
	device, ok := d.sensor.(*driver.Device)
	if !ok {
		return nil, ErrWrongDevice
	}

	return device, nil
}

func normalize(v uint32) float64 {
	return float64(v) / driver.MaxADC
}

// leds reads a burst of samples from the sensor and records the red and IR
// values.
func (d *Device) leds(ctx context.Context) ([]driver.Sample, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	samples, err := d.sensor.Samples(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get LEDs: %w", err)
	}
	for _, s := range samples {
		d.redLED.add(normalize(s.Red))
		d.irLED.add(normalize(s.IR))
	}

	return samples, nil
}

// fill reads samples until a whole window of fresh values is recorded.
func (d *Device) fill(ctx context.Context) error {
	for n := 0; n < d.irLED.size(); {
		samples, err := d.leds(ctx)
		if err != nil {
			return err
		}
		n += len(samples)
	}
	return nil
}

func level(samples []driver.Sample) Level {
	var l Level
	if len(samples) == 0 {
		return l
	}
	for _, s := range samples {
		l.Red += normalize(s.Red)
		l.IR += normalize(s.IR)
		l.Green += normalize(s.Green)
	}
	n := float64(len(samples))
	l.Red /= n
	l.IR /= n
	l.Green /= n

	return l
}

// Particles returns the mean LED levels of the samples currently in the
// sensor. The green channel is only sampled in multi-LED mode.
func (d *Device) Particles(ctx context.Context) (Level, error) {
	samples, err := d.leds(ctx)
	if err != nil {
		return Level{}, fmt.Errorf("max30105: could not get particle level: %w", err)
	}
	return level(samples), nil
}

// Detected returns true when something reflects enough IR light, e.g. a
// finger placed on the sensor.
func (d *Device) Detected(ctx context.Context) (bool, error) {
	l, err := d.Particles(ctx)
	if err != nil {
		return false, err
	}
	return l.IR >= DetectionThreshold, nil
}
