package driver

import (
	"fmt"
	"math"
	"time"
)

// Opts holds the configuration written to the device when it is opened.
type Opts struct {
	// Addr is the I²C address. 0 selects the default address 0x57.
	Addr uint16

	Mode Mode
	// SampleRate in samples per second: 50, 100, 200, 400, 800, 1000, 1600
	// or 3200.
	SampleRate int
	// PulseWidth in µs: 69, 118, 215 or 411. It also sets the ADC resolution
	// from 15 to 18 bits.
	PulseWidth int
	// ADCRange is the full scale in nA: 2048, 4096, 8192 or 16384.
	ADCRange int
	// SampleAverage is the number of samples averaged per FIFO word: 1, 2, 4,
	// 8, 16 or 32.
	SampleAverage int
	// Rollover lets the FIFO overwrite old samples when full.
	Rollover bool
	// AlmostFull is the number of free FIFO slots that raises the AlmostFull
	// interrupt, from 0 to 15.
	AlmostFull byte

	// LED currents in mA, from 0 to 51 in steps of 0.2.
	RedAmp   float64
	IRAmp    float64
	GreenAmp float64
	PilotAmp float64

	// Slots configures the multi-LED time slots 1 to 4.
	Slots [4]SlotLED

	Interrupts         Interrupt
	ProximityThreshold byte

	// PollInterval is the time between status reads while waiting on the
	// device.
	PollInterval time.Duration
}

// DefaultOpts returns the configuration used when none is given: red and IR
// sampled at 100 samples/s with a pulse width of 411µs, and all LEDs driven
// at 10mA.
func DefaultOpts() *Opts {
	return &Opts{
		Mode:          ModeRedIR,
		SampleRate:    100,
		PulseWidth:    411,
		ADCRange:      4096,
		SampleAverage: 1,
		Rollover:      true,
		AlmostFull:    0,
		RedAmp:        10,
		IRAmp:         10,
		GreenAmp:      10,
		Slots:         [4]SlotLED{SlotRed, SlotIR, SlotGreen, SlotOff},
		Interrupts:    AlmostFull | NewFIFOData | DieTempReady,
		PollInterval:  defaultPoll,
	}
}

func invalid(setting string, v interface{}) error {
	return fmt.Errorf("max30105: %s %v: %w", setting, v, ErrInvalidValue)
}

func validMode(m Mode) bool {
	return m == ModeRed || m == ModeRedIR || m == ModeMultiLed
}

// Validate checks that every setting has a register encoding.
func (o *Opts) Validate() error {
	_, err := o.registers()
	return err
}

// registers encodes the options into configuration register values.
func (o *Opts) registers() (map[byte]byte, error) {
	ave, ok := lookup(sampleAverages, o.SampleAverage)
	if !ok {
		return nil, invalid("sample average", o.SampleAverage)
	}
	sr, ok := lookup(sampleRates, o.SampleRate)
	if !ok {
		return nil, invalid("sample rate", o.SampleRate)
	}
	pw, ok := lookup(pulseWidths, o.PulseWidth)
	if !ok {
		return nil, invalid("pulse width", o.PulseWidth)
	}
	adc, ok := lookup(adcRanges, o.ADCRange)
	if !ok {
		return nil, invalid("ADC range", o.ADCRange)
	}
	if o.AlmostFull > fifoFullMask {
		return nil, invalid("almost full value", o.AlmostFull)
	}
	if !validMode(o.Mode) {
		return nil, invalid("mode", o.Mode)
	}
	for _, s := range o.Slots {
		if s > SlotPilotGreen {
			return nil, invalid("slot", s)
		}
	}

	var rollover byte
	if o.Rollover {
		rollover = rolloverMask
	}

	return map[byte]byte{
		FIFOCfg:       ave<<5 | rollover | o.AlmostFull,
		ModeCfg:       byte(o.Mode),
		SpO2Cfg:       adc<<5 | sr<<2 | pw,
		Led1PA:        encodeAmp(o.RedAmp),
		Led2PA:        encodeAmp(o.IRAmp),
		Led3PA:        encodeAmp(o.GreenAmp),
		PilotPA:       encodeAmp(o.PilotAmp),
		MultiLedCtrl1: byte(o.Slots[1])<<4 | byte(o.Slots[0]),
		MultiLedCtrl2: byte(o.Slots[3])<<4 | byte(o.Slots[2]),
		ProxIntThresh: o.ProximityThreshold,
		IntEna1:       byte(o.Interrupts) & 0xF0,
		IntEna2:       byte(o.Interrupts>>8) & byte(DieTempReady>>8),
	}, nil
}

// encodeAmp converts a current in mA to its register value. The current is
// clamped from 0 to 51mA and rounded down to the nearest multiple of 0.2mA.
func encodeAmp(current float64) byte {
	if current > maxPulseAmp {
		current = maxPulseAmp
	}
	if current < 0 {
		current = 0
	}
	return byte(math.Floor(current*5 + 1e-9))
}

func decodeAmp(b byte) float64 {
	return float64(b) / 5
}

// Option defines a functional option for the device.
type Option func(d *Device) (Option, error)

// Options set different configuration options and returns the previous value
// of the last option passed. If an option fails after writing part of its
// settings, the returned Option restores what it changed.
func (d *Device) Options(options ...Option) (Option, error) {
	var old Option
	var err error
	for _, opt := range options {
		old, err = opt(d)
		if err != nil {
			return old, err
		}
	}

	return old, nil
}

// SetMode sets the operation mode of the device. Changing the mode clears the
// FIFO, as the size of its words changes.
func SetMode(mode Mode) Option {
	return func(d *Device) (Option, error) {
		if !validMode(mode) {
			return nil, invalid("mode", mode)
		}
		old, err := d.update(ModeCfg, modeMask, byte(mode))
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure mode: %w", err)
		}
		if err := d.ClearFIFO(); err != nil {
			return SetMode(Mode(old)), fmt.Errorf("max30105: could not configure mode: %w", err)
		}

		return SetMode(Mode(old)), nil
	}
}

// SampleRate sets the number of samples per second.
func SampleRate(sps int) Option {
	return func(d *Device) (Option, error) {
		sr, ok := lookup(sampleRates, sps)
		if !ok {
			return nil, invalid("sample rate", sps)
		}
		old, err := d.update(SpO2Cfg, srMask, sr<<2)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure sample rate: %w", err)
		}

		return SampleRate(reverse(sampleRates, old>>2)), nil
	}
}

// PulseWidth sets the LED pulse width in µs.
func PulseWidth(us int) Option {
	return func(d *Device) (Option, error) {
		pw, ok := lookup(pulseWidths, us)
		if !ok {
			return nil, invalid("pulse width", us)
		}
		old, err := d.update(SpO2Cfg, pwMask, pw)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure pulse width: %w", err)
		}

		return PulseWidth(reverse(pulseWidths, old)), nil
	}
}

// ADCRange sets the ADC full scale in nA.
func ADCRange(nA int) Option {
	return func(d *Device) (Option, error) {
		adc, ok := lookup(adcRanges, nA)
		if !ok {
			return nil, invalid("ADC range", nA)
		}
		old, err := d.update(SpO2Cfg, adcMask, adc<<5)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure ADC range: %w", err)
		}

		return ADCRange(reverse(adcRanges, old>>5)), nil
	}
}

// SampleAverage sets how many samples are averaged into each FIFO word.
func SampleAverage(n int) Option {
	return func(d *Device) (Option, error) {
		ave, ok := lookup(sampleAverages, n)
		if !ok {
			return nil, invalid("sample average", n)
		}
		old, err := d.update(FIFOCfg, smpAveMask, ave<<5)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure sample average: %w", err)
		}

		return SampleAverage(reverse(sampleAverages, old>>5)), nil
	}
}

// FIFORollover enables or disables overwriting old samples on a full FIFO.
func FIFORollover(on bool) Option {
	return func(d *Device) (Option, error) {
		var v byte
		if on {
			v = rolloverMask
		}
		old, err := d.update(FIFOCfg, rolloverMask, v)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure FIFO rollover: %w", err)
		}

		return FIFORollover(old != 0), nil
	}
}

// AlmostFullValue sets when the AlmostFull interrupt should be triggered. It
// can take values from 0 to 15, the number of free slots left in the FIFO.
func AlmostFullValue(left byte) Option {
	return func(d *Device) (Option, error) {
		if left > fifoFullMask {
			return nil, invalid("almost full value", left)
		}
		old, err := d.update(FIFOCfg, fifoFullMask, left)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure almost full value to %d: %w", left, err)
		}

		return AlmostFullValue(old), nil
	}
}

var ledRegs = map[LED]byte{Red: Led1PA, IR: Led2PA, Green: Led3PA}

// PulseAmp sets the pulse amplitude of an LED. It accepts values from 0.0 to
// 51.0 mA and the value is rounded down to the nearest multiple of 0.2.
func PulseAmp(led LED, current float64) Option {
	return func(d *Device) (Option, error) {
		reg, ok := ledRegs[led]
		if !ok {
			return nil, invalid("LED", led)
		}
		old, err := d.update(reg, 0xFF, encodeAmp(current))
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure %v LED pulse amplitude: %w", led, err)
		}

		return PulseAmp(led, decodeAmp(old)), nil
	}
}

// PilotPulseAmp sets the pulse amplitude used by the pilot slots and by
// proximity detection.
func PilotPulseAmp(current float64) Option {
	return func(d *Device) (Option, error) {
		old, err := d.update(PilotPA, 0xFF, encodeAmp(current))
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure pilot pulse amplitude: %w", err)
		}

		return PilotPulseAmp(decodeAmp(old)), nil
	}
}

// Slot sets what a multi-LED time slot, from 1 to 4, samples.
func Slot(n int, led SlotLED) Option {
	return func(d *Device) (Option, error) {
		if n < 1 || n > 4 {
			return nil, invalid("slot number", n)
		}
		if led > SlotPilotGreen {
			return nil, invalid("slot", led)
		}
		reg := byte(MultiLedCtrl1)
		if n > 2 {
			reg = MultiLedCtrl2
		}
		mask, shift := slotLowMask, 0
		if n%2 == 0 {
			mask, shift = slotHighMask, 4
		}
		old, err := d.update(reg, mask, byte(led)<<shift)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure slot %d: %w", n, err)
		}

		return Slot(n, SlotLED(old>>shift)), nil
	}
}

// InterruptEnable sets the enabled interrupts. Flags not in i are disabled.
// PowerReady cannot be disabled and is ignored.
func InterruptEnable(i Interrupt) Option {
	return func(d *Device) (Option, error) {
		old1, err := d.update(IntEna1, 0xF0, byte(i))
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure interrupt flags: %w", err)
		}
		ready := byte(DieTempReady >> 8)
		old2, err := d.update(IntEna2, ready, byte(i>>8))
		if err != nil {
			undo := InterruptEnable(Interrupt(d.regs[IntEna2]&ready)<<8 | Interrupt(old1))
			return undo, fmt.Errorf("max30105: could not configure interrupt flags: %w", err)
		}

		return InterruptEnable(Interrupt(old2)<<8 | Interrupt(old1)), nil
	}
}

// ProximityThreshold sets the IR level that ends proximity mode and starts
// sampling.
func ProximityThreshold(level byte) Option {
	return func(d *Device) (Option, error) {
		old, err := d.update(ProxIntThresh, 0xFF, level)
		if err != nil {
			return nil, fmt.Errorf("max30105: could not configure proximity threshold: %w", err)
		}

		return ProximityThreshold(old), nil
	}
}

// SetPulseAmp sets the pulse amplitude of an LED in mA.
func (d *Device) SetPulseAmp(led LED, current float64) error {
	_, err := d.Options(PulseAmp(led, current))
	return err
}
