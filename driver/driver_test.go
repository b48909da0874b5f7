package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/i2c/i2ctest"
	"periph.io/x/periph/conn/physic"
)

func write(reg, data byte) i2ctest.IO {
	return i2ctest.IO{Addr: Addr, W: []byte{reg, data}}
}

func read(reg byte, data ...byte) i2ctest.IO {
	return i2ctest.IO{Addr: Addr, W: []byte{reg}, R: data}
}

// initOps is the transcript of New with DefaultOpts.
func initOps() []i2ctest.IO {
	return []i2ctest.IO{
		read(RegRevID, 0x03, PartID),
		write(ModeCfg, 0x40),
		read(ModeCfg, 0x00),
		write(FIFOCfg, 0x10),
		write(ModeCfg, 0x03),
		write(SpO2Cfg, 0x27),
		write(Led1PA, 0x32),
		write(Led2PA, 0x32),
		write(Led3PA, 0x32),
		write(PilotPA, 0x00),
		write(MultiLedCtrl1, 0x21),
		write(MultiLedCtrl2, 0x03),
		write(ProxIntThresh, 0x00),
		write(IntEna1, 0xC0),
		write(IntEna2, 0x02),
		write(FIFOWrPtr, 0),
		write(OvfCount, 0),
		write(FIFORdPtr, 0),
	}
}

func newTestDevice(t *testing.T, ops ...i2ctest.IO) (*Device, *i2ctest.Playback) {
	t.Helper()
	bus := &i2ctest.Playback{
		Ops:       append(initOps(), ops...),
		DontPanic: true,
	}
	opts := DefaultOpts()
	opts.PollInterval = time.Millisecond
	d, err := New(bus, opts)
	require.NoError(t, err)
	return d, bus
}

func TestNew(t *testing.T) {
	d, bus := newTestDevice(t)
	require.NoError(t, bus.Close())

	assert.Equal(t, byte(0x03), d.RevID())
	assert.Equal(t, ModeRedIR, d.Mode())
	assert.Equal(t, 100.0, d.SampleRate())
	assert.Equal(t, []LED{Red, IR}, d.Channels())
}

func TestNewWrongPart(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{read(RegRevID, 0x01, 0x11)},
		DontPanic: true,
	}
	_, err := New(bus, nil)
	assert.True(t, errors.Is(err, ErrNotDevice))
}

func TestNewInvalidOpts(t *testing.T) {
	for name, mod := range map[string]func(o *Opts){
		"sample rate":    func(o *Opts) { o.SampleRate = 123 },
		"pulse width":    func(o *Opts) { o.PulseWidth = 100 },
		"ADC range":      func(o *Opts) { o.ADCRange = 1000 },
		"sample average": func(o *Opts) { o.SampleAverage = 3 },
		"almost full":    func(o *Opts) { o.AlmostFull = 16 },
		"mode":           func(o *Opts) { o.Mode = 0 },
		"slot":           func(o *Opts) { o.Slots[2] = 9 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOpts()
			mod(opts)
			// no bus traffic is expected
			_, err := New(&i2ctest.Playback{DontPanic: true}, opts)
			assert.True(t, errors.Is(err, ErrInvalidValue), "got %v", err)
		})
	}
}

func TestOptsRegisters(t *testing.T) {
	opts := &Opts{
		Mode:          ModeMultiLed,
		SampleRate:    3200,
		PulseWidth:    69,
		ADCRange:      16384,
		SampleAverage: 32,
		AlmostFull:    15,
		RedAmp:        51,
		IRAmp:         60,
		GreenAmp:      0.5,
		PilotAmp:      25.5,
		Slots:         [4]SlotLED{SlotGreen, SlotPilotIR, SlotNone, SlotRed},
		Interrupts:    AlmostFull | Proximity | PowerReady | DieTempReady,
	}
	regs, err := opts.registers()
	require.NoError(t, err)

	want := map[byte]byte{
		FIFOCfg:       0b1010_1111,
		ModeCfg:       0b0000_0111,
		SpO2Cfg:       0b0111_1100,
		Led1PA:        255,
		Led2PA:        255,
		Led3PA:        2,
		PilotPA:       127,
		MultiLedCtrl1: 0x63,
		MultiLedCtrl2: 0x14,
		ProxIntThresh: 0,
		IntEna1:       0x90,
		IntEna2:       0x02,
	}
	if diff := cmp.Diff(want, regs); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeAmp(t *testing.T) {
	tests := []struct {
		mA   float64
		want byte
	}{
		{0, 0},
		{-1, 0},
		{0.2, 1},
		{0.3, 1},
		{10, 50},
		{6.4, 32},
		{51, 255},
		{100, 255},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeAmp(tt.mA), "encodeAmp(%v)", tt.mA)
	}
	assert.InDelta(t, 10.0, decodeAmp(50), 1e-9)
}

func TestOptionsUndo(t *testing.T) {
	d, bus := newTestDevice(t,
		write(SpO2Cfg, 0x2F), // 400sps
		write(SpO2Cfg, 0x27), // back to 100sps
		write(Led3PA, 0x00),
		write(Led3PA, 0x32),
	)

	undo, err := d.Options(SampleRate(400))
	require.NoError(t, err)
	assert.Equal(t, 400.0, d.SampleRate())
	_, err = d.Options(undo)
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.SampleRate())

	undo, err = d.Options(PulseAmp(Green, 0))
	require.NoError(t, err)
	_, err = d.Options(undo)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
}

func TestOptionsInvalid(t *testing.T) {
	d, bus := newTestDevice(t)

	for _, opt := range []Option{
		SampleRate(60),
		PulseWidth(1),
		ADCRange(1),
		SampleAverage(7),
		AlmostFullValue(16),
		SetMode(Mode(1)),
		PulseAmp(LED(7), 1),
		Slot(0, SlotRed),
		Slot(5, SlotRed),
		Slot(1, SlotLED(8)),
	} {
		_, err := d.Options(opt)
		assert.True(t, errors.Is(err, ErrInvalidValue), "got %v", err)
	}

	require.NoError(t, bus.Close())
}

func TestSlotsAndChannels(t *testing.T) {
	d, bus := newTestDevice(t,
		write(ModeCfg, 0x07),
		write(FIFOWrPtr, 0),
		write(OvfCount, 0),
		write(FIFORdPtr, 0),
		write(MultiLedCtrl2, 0x53), // slot 4 pilot red
		write(MultiLedCtrl1, 0x23), // slot 1 green
		write(MultiLedCtrl2, 0x54), // slot 3 none
	)

	_, err := d.Options(SetMode(ModeMultiLed))
	require.NoError(t, err)
	assert.Equal(t, []LED{Red, IR, Green}, d.Channels())

	_, err = d.Options(Slot(4, SlotPilotRed), Slot(1, SlotGreen))
	require.NoError(t, err)
	assert.Equal(t, []LED{Green, IR, Green, Red}, d.Channels())

	undo, err := d.Options(Slot(3, SlotNone))
	require.NoError(t, err)
	assert.Equal(t, []LED{Green, IR}, d.Channels())
	assert.NotNil(t, undo)

	require.NoError(t, bus.Close())
}

func TestInterruptEnable(t *testing.T) {
	d, bus := newTestDevice(t,
		write(IntEna1, 0x10),
		write(IntEna2, 0x00),
		write(IntEna1, 0xC0),
		write(IntEna2, 0x02),
	)

	undo, err := d.Options(InterruptEnable(Proximity | PowerReady))
	require.NoError(t, err)
	_, err = d.Options(undo)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
}

func TestPartialOptionUndo(t *testing.T) {
	// the FIFO clear after the mode change fails
	d, bus := newTestDevice(t,
		write(ModeCfg, 0x07),
	)
	undo, err := d.Options(SetMode(ModeMultiLed))
	assert.Error(t, err)
	require.NotNil(t, undo)

	bus.Ops = append(bus.Ops,
		write(ModeCfg, 0x03),
		write(FIFOWrPtr, 0),
		write(OvfCount, 0),
		write(FIFORdPtr, 0),
	)
	_, err = d.Options(undo)
	require.NoError(t, err)
	assert.Equal(t, ModeRedIR, d.Mode())
	require.NoError(t, bus.Close())

	// the second interrupt enable register fails
	d, bus = newTestDevice(t,
		write(IntEna1, 0x10),
	)
	undo, err = d.Options(InterruptEnable(Proximity | PowerReady))
	assert.Error(t, err)
	require.NotNil(t, undo)

	bus.Ops = append(bus.Ops,
		write(IntEna1, 0xC0),
		write(IntEna2, 0x02),
	)
	_, err = d.Options(undo)
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}

func TestInterrupts(t *testing.T) {
	d, bus := newTestDevice(t,
		read(IntStat1, 0xC1, 0x02),
	)

	i, err := d.Interrupts()
	require.NoError(t, err)
	assert.Equal(t, AlmostFull|NewFIFOData|PowerReady|DieTempReady, i)

	require.NoError(t, bus.Close())
}

func TestWaitInterrupt(t *testing.T) {
	d, bus := newTestDevice(t,
		read(IntStat1, 0x00),
		read(IntStat1, 0x40),
	)

	require.NoError(t, d.WaitInterrupt(context.Background(), NewFIFOData))
	require.NoError(t, bus.Close())
}

func TestWaitInterruptCanceled(t *testing.T) {
	d, _ := newTestDevice(t,
		read(IntStat2, 0x00),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.WaitInterrupt(ctx, DieTempReady)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTemperature(t *testing.T) {
	d, bus := newTestDevice(t,
		write(TempCfg, 0x01),
		read(IntStat2, 0x00),
		read(IntStat2, 0x02),
		read(TempInt, 0x18, 0x04),
	)

	temp, err := d.Temperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 24.25, temp, 1e-9)

	require.NoError(t, bus.Close())
}

func TestTemperatureEnablesInterrupt(t *testing.T) {
	opts := DefaultOpts()
	opts.Interrupts = 0
	ops := initOps()
	ops[13] = write(IntEna1, 0x00)
	ops[14] = write(IntEna2, 0x00)
	bus := &i2ctest.Playback{
		Ops: append(ops,
			write(IntEna2, 0x02),
			write(TempCfg, 0x01),
			read(IntStat2, 0x02),
			read(TempInt, 0xF6, 0x08),
		),
		DontPanic: true,
	}
	d, err := New(bus, opts)
	require.NoError(t, err)

	temp, err := d.Temperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -9.5, temp, 1e-9)

	require.NoError(t, bus.Close())
}

func TestDecodeTemperature(t *testing.T) {
	assert.InDelta(t, 0.0, decodeTemperature(0, 0), 1e-9)
	assert.InDelta(t, 127.9375, decodeTemperature(0x7F, 0x0F), 1e-9)
	assert.InDelta(t, -128.0, decodeTemperature(0x80, 0), 1e-9)
	// only the low nibble holds the fraction
	assert.InDelta(t, 1.0625, decodeTemperature(1, 0xF1), 1e-9)
}

func TestShutdownStartup(t *testing.T) {
	d, bus := newTestDevice(t,
		write(ModeCfg, 0x83),
		write(ModeCfg, 0x03),
	)

	require.NoError(t, d.Shutdown())
	require.NoError(t, d.Startup())
	require.NoError(t, bus.Close())
}

func TestClose(t *testing.T) {
	d, bus := newTestDevice(t,
		write(ModeCfg, 0x83),
	)

	require.NoError(t, d.Close())
	require.NoError(t, bus.Close())
}

func TestCloseError(t *testing.T) {
	d, _ := newTestDevice(t)

	// the playback is empty, so the shutdown write fails
	assert.Error(t, d.Close())
}

func TestSense(t *testing.T) {
	d, bus := newTestDevice(t,
		write(TempCfg, 0x01),
		read(IntStat2, 0x02),
		read(TempInt, 0x19, 0x08),
	)

	var e physic.Env
	require.NoError(t, d.Sense(&e))
	assert.Equal(t, physic.Temperature(25500)*physic.MilliKelvin, e.Temperature-physic.ZeroCelsius)

	var p physic.Env
	d.Precision(&p)
	assert.Equal(t, physic.Kelvin/16, p.Temperature)

	require.NoError(t, bus.Close())
}

func TestSenseContinuous(t *testing.T) {
	d, _ := newTestDevice(t,
		write(TempCfg, 0x01),
		read(IntStat2, 0x02),
		read(TempInt, 0x20, 0x00),
	)

	ch, err := d.SenseContinuous(time.Hour)
	require.NoError(t, err)

	e := <-ch
	assert.Equal(t, physic.Temperature(32000)*physic.MilliKelvin, e.Temperature-physic.ZeroCelsius)

	var other physic.Env
	assert.True(t, errors.Is(d.Sense(&other), ErrSensing))

	require.NoError(t, d.Halt())
	_, open := <-ch
	assert.False(t, open)
}

func TestOptsValidate(t *testing.T) {
	assert.NoError(t, DefaultOpts().Validate())

	opts := DefaultOpts()
	opts.SampleRate = 99
	assert.True(t, errors.Is(opts.Validate(), ErrInvalidValue))
}
