// Package driver provides low level access to a MAX30105 particle and pulse
// oximetry sensor over I²C.
//
// Datasheet:
// https://datasheets.maximintegrated.com/en/ds/MAX30105.pdf
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

var (
	// ErrNotDevice is returned when the device part ID does not match a
	// MAX30105 signature (0x15).
	ErrNotDevice = errors.New("max30105: part ID does not match (0x15)")
	// ErrInvalidValue is returned when a setting has no register encoding.
	ErrInvalidValue = errors.New("max30105: invalid value")
	// ErrNoChannels is returned when reading the FIFO while no LED is active.
	ErrNoChannels = errors.New("max30105: no active LED channels")
	// ErrSensing is returned by Sense while continuous sensing is running.
	ErrSensing = errors.New("max30105: already sensing continuously")
)

const (
	defaultPoll  = 10 * time.Millisecond
	resetTimeout = time.Second
)

// configOrder is the order in which configuration registers are written.
var configOrder = []byte{
	FIFOCfg, ModeCfg, SpO2Cfg,
	Led1PA, Led2PA, Led3PA, PilotPA,
	MultiLedCtrl1, MultiLedCtrl2,
	ProxIntThresh,
	IntEna1, IntEna2,
}

// Device defines a MAX30105 device.
//
// Device is not safe for concurrent use, with the exception of Halt which
// may be called while SenseContinuous is running.
type Device struct {
	dev *i2c.Dev
	bus i2c.BusCloser // only set when the device owns the bus

	// regs shadows the configuration registers so that settings can be
	// changed without a read-modify-write on the bus.
	regs map[byte]byte
	poll time.Duration
	lost int
	rev  byte

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// Open initializes the host, opens the I²C bus by name ("/dev/i2c-2", "I2C2",
// "2") and returns the device on it. An empty busName selects the first
// available bus. The returned device owns the bus and closes it on Close.
func Open(busName string, opts *Opts) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("max30105: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("max30105: could not open I2C bus: %w", err)
	}

	d, err := New(bus, opts)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus

	return d, nil
}

// New returns a new MAX30105 device on bus. The device is checked against
// its part ID, reset and configured with opts. If opts is nil, DefaultOpts
// is used.
func New(bus i2c.Bus, opts *Opts) (*Device, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	regs, err := opts.registers()
	if err != nil {
		return nil, err
	}

	addr := opts.Addr
	if addr == 0 {
		addr = Addr
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPoll
	}

	d := &Device{
		dev:  &i2c.Dev{Addr: addr, Bus: bus},
		regs: regs,
		poll: poll,
	}

	rev, part, err := d.ChipID()
	if err != nil {
		return nil, err
	}
	if part != PartID {
		return nil, ErrNotDevice
	}
	d.rev = rev

	if err := d.Reset(); err != nil {
		return nil, err
	}

	return d, nil
}

// Close shuts the device down and, if the device owns it, closes the bus.
func (d *Device) Close() error {
	var result *multierror.Error
	if err := d.Halt(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.Shutdown(); err != nil {
		result = multierror.Append(result, err)
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("max30105: could not close bus: %w", err))
		}
	}

	return result.ErrorOrNil()
}

func (d *Device) String() string {
	return fmt.Sprintf("MAX30105{%s, %#x}", d.dev.Bus, d.dev.Addr)
}

// ChipID returns the revision and part ID of the device.
func (d *Device) ChipID() (rev, part byte, err error) {
	b, err := d.ReadBytes(RegRevID, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("max30105: could not get chip ID: %w", err)
	}
	return b[0], b[1], nil
}

// RevID returns the revision ID read when the device was opened.
func (d *Device) RevID() byte {
	return d.rev
}

// Read reads a single byte from a register.
func (d *Device) Read(reg byte) (byte, error) {
	b := make([]byte, 1)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return 0, fmt.Errorf("max30105: could not read byte from %#x: %w", reg, err)
	}

	return b[0], nil
}

// ReadBytes read n bytes starting at a register.
func (d *Device) ReadBytes(reg byte, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return nil, fmt.Errorf("max30105: could not read %d bytes from %#x: %w", n, reg, err)
	}

	return b, nil
}

// Write writes a byte to a register.
func (d *Device) Write(reg, data byte) error {
	n, err := d.dev.Write([]byte{reg, data})
	if err != nil {
		return fmt.Errorf("max30105: could not write %#x: %w", reg, err)
	}
	n-- // remove register write
	if n != 1 {
		return fmt.Errorf("max30105: wrong number of bytes written to %#x: want %d, got %d", reg, 1, n)
	}

	return nil
}

// update changes the masked bits of a configuration register and returns the
// previous masked value.
func (d *Device) update(reg, mask, value byte) (byte, error) {
	cfg := d.regs[reg]
	old := cfg & mask
	cfg = cfg&^mask | value&mask
	if err := d.Write(reg, cfg); err != nil {
		return 0, err
	}
	d.regs[reg] = cfg

	return old, nil
}

// apply writes the whole configuration and clears the FIFO.
func (d *Device) apply() error {
	for _, reg := range configOrder {
		if err := d.Write(reg, d.regs[reg]); err != nil {
			return fmt.Errorf("max30105: could not configure device: %w", err)
		}
	}

	return d.ClearFIFO()
}

// pollUntil calls cond every poll interval until it returns true, it fails
// or ctx is done. cond is always called at least once.
func (d *Device) pollUntil(ctx context.Context, cond func() (bool, error)) error {
	t := time.NewTicker(d.poll)
	defer t.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Reset resets the device and writes the current configuration back.
func (d *Device) Reset() error {
	if err := d.Write(ModeCfg, resetControl); err != nil {
		return fmt.Errorf("max30105: could not reset: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if err := d.pollUntil(ctx, func() (bool, error) {
		state, err := d.Read(ModeCfg)
		return state&resetControl == 0, err
	}); err != nil {
		return fmt.Errorf("max30105: could not reset: %w", err)
	}

	return d.apply()
}

// Shutdown sets the device into power-save mode.
func (d *Device) Shutdown() error {
	if _, err := d.update(ModeCfg, shutdownControl, shutdownControl); err != nil {
		return fmt.Errorf("max30105: could not shut down: %w", err)
	}
	return nil
}

// Startup wakes the device from power-save mode.
func (d *Device) Startup() error {
	if _, err := d.update(ModeCfg, shutdownControl, 0); err != nil {
		return fmt.Errorf("max30105: could not start up: %w", err)
	}
	return nil
}

// Interrupts reads and clears both interrupt status registers.
func (d *Device) Interrupts() (Interrupt, error) {
	b, err := d.ReadBytes(IntStat1, 2)
	if err != nil {
		return 0, fmt.Errorf("max30105: could not read interrupts: %w", err)
	}
	return Interrupt(b[1])<<8 | Interrupt(b[0]), nil
}

// WaitInterrupt blocks until any of the flags in i is raised. Only the
// status registers holding the requested flags are read, so other pending
// flags are left untouched.
func (d *Device) WaitInterrupt(ctx context.Context, i Interrupt) error {
	err := d.pollUntil(ctx, func() (bool, error) {
		var got Interrupt
		if i&0xFF != 0 {
			b, err := d.Read(IntStat1)
			if err != nil {
				return false, err
			}
			got |= Interrupt(b)
		}
		if i>>8 != 0 {
			b, err := d.Read(IntStat2)
			if err != nil {
				return false, err
			}
			got |= Interrupt(b) << 8
		}
		return got&i != 0, nil
	})
	if err != nil {
		return fmt.Errorf("max30105: could not wait for interrupt %#x: %w", uint16(i), err)
	}
	return nil
}

// SampleRate returns the effective number of samples per second stored in
// the FIFO, after averaging.
func (d *Device) SampleRate() float64 {
	sr := reverse(sampleRates, (d.regs[SpO2Cfg]&srMask)>>2)
	ave := reverse(sampleAverages, (d.regs[FIFOCfg]&smpAveMask)>>5)
	if ave == 0 {
		ave = 1
	}
	return float64(sr) / float64(ave)
}

// Mode returns the current operating mode.
func (d *Device) Mode() Mode {
	return Mode(d.regs[ModeCfg] & modeMask)
}

// Channels returns the LEDs sampled into each FIFO word, in order.
func (d *Device) Channels() []LED {
	switch d.Mode() {
	case ModeRed:
		return []LED{Red}
	case ModeRedIR:
		return []LED{Red, IR}
	case ModeMultiLed:
		slots := []SlotLED{
			SlotLED(d.regs[MultiLedCtrl1] & slotLowMask),
			SlotLED((d.regs[MultiLedCtrl1] & slotHighMask) >> 4),
			SlotLED(d.regs[MultiLedCtrl2] & slotLowMask),
			SlotLED((d.regs[MultiLedCtrl2] & slotHighMask) >> 4),
		}
		var leds []LED
		for _, s := range slots {
			led, ok := s.led()
			if !ok {
				break // a disabled slot disables the following ones
			}
			leds = append(leds, led)
		}
		return leds
	}
	return nil
}

// Temperature returns the die temperature in °C.
func (d *Device) Temperature(ctx context.Context) (float64, error) {
	ready := byte(DieTempReady >> 8)
	if d.regs[IntEna2]&ready == 0 {
		if _, err := d.update(IntEna2, ready, ready); err != nil {
			return 0, fmt.Errorf("max30105: could not enable temperature interrupt: %w", err)
		}
	}
	if err := d.Write(TempCfg, tempEna); err != nil {
		return 0, fmt.Errorf("max30105: could not enable temperature: %w", err)
	}
	if err := d.WaitInterrupt(ctx, DieTempReady); err != nil {
		return 0, err
	}

	b, err := d.ReadBytes(TempInt, 2)
	if err != nil {
		return 0, fmt.Errorf("max30105: could not read temperature: %w", err)
	}

	return decodeTemperature(b[0], b[1]), nil
}

func decodeTemperature(integer, fraction byte) float64 {
	return float64(int8(integer)) + float64(fraction&0x0F)*0.0625
}
