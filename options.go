package max30105

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/max30105/driver"
)

// An Option configures a device.
type Option func(d *Device) Option

// OnBus can be used to specify I²C bus name
// ("/dev/i2c-2", "I2C2", "2"). By default, the bus name is "", which selects
// the first available bus.
func OnBus(name string) Option {
	return func(d *Device) Option {
		old := d.bus
		d.bus = name
		return OnBus(old)
	}
}

// OnAddr can be used to specify an alternative I²C address.
// By default, the address is 0x57.
func OnAddr(addr uint16) Option {
	return func(d *Device) Option {
		old := d.addr
		d.addr = addr
		return OnAddr(old)
	}
}

// WithOpts sets the configuration written to the sensor when it is opened.
// By default, driver.DefaultOpts is used.
func WithOpts(opts *driver.Opts) Option {
	return func(d *Device) Option {
		old := d.opts
		d.opts = opts
		return WithOpts(old)
	}
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Device) Option {
		old := d.log
		d.log = l
		return WithLogger(old)
	}
}

// WithCalibration runs Calibrate when the device is opened.
func WithCalibration(on bool) Option {
	return func(d *Device) Option {
		old := d.calibrate
		d.calibrate = on
		return WithCalibration(old)
	}
}

// WithWindow sets how much signal is used for a heart rate or SpO2 reading.
// By default, the window is 5s.
func WithWindow(w time.Duration) Option {
	return func(d *Device) Option {
		old := d.window
		d.window = w
		return WithWindow(old)
	}
}
