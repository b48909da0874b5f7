package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/i2c/i2ctest"
)

func TestAvailable(t *testing.T) {
	tests := []struct {
		name        string
		wr, rd, ovf byte
		want        int
	}{
		{"empty", 5, 5, 0, 0},
		{"full", 5, 5, 3, 32},
		{"simple", 10, 4, 0, 6},
		{"wraparound", 2, 30, 0, 4},
		{"one behind", 30, 31, 0, 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, available(tt.wr, tt.rd, tt.ovf))
		})
	}
}

func TestDecodeSamples(t *testing.T) {
	b := []byte{
		0x01, 0x02, 0x03, 0xFF, 0xFF, 0xFF,
		0x03, 0xFF, 0xFF, 0x00, 0x00, 0x01,
		0xAA, // trailing partial word is ignored
	}
	got := decodeSamples(b, []LED{Red, IR})
	assert.Equal(t, []Sample{
		{Red: 0x010203, IR: MaxADC},
		{Red: MaxADC, IR: 1},
	}, got)

	got = decodeSamples([]byte{0x00, 0x10, 0x00}, []LED{Green})
	assert.Equal(t, []Sample{{Green: 0x1000}}, got)
	assert.Equal(t, uint32(0x1000), got[0].Value(Green))
	assert.Equal(t, uint32(0), got[0].Value(Red))
}

func TestReadFIFO(t *testing.T) {
	d, bus := newTestDevice(t,
		read(FIFOWrPtr, 0x02, 0x00, 0x1F),
		read(FIFOData,
			0x00, 0x00, 0x10, 0x00, 0x00, 0x20,
			0x00, 0x00, 0x11, 0x00, 0x00, 0x21,
			0x00, 0x00, 0x12, 0x00, 0x00, 0x22,
		),
	)

	samples, err := d.ReadFIFO()
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Red: 0x10, IR: 0x20},
		{Red: 0x11, IR: 0x21},
		{Red: 0x12, IR: 0x22},
	}, samples)
	assert.Equal(t, 0, d.Lost())

	require.NoError(t, bus.Close())
}

func TestReadFIFOEmpty(t *testing.T) {
	d, bus := newTestDevice(t,
		read(FIFOWrPtr, 0x07, 0x00, 0x07),
	)

	samples, err := d.ReadFIFO()
	require.NoError(t, err)
	assert.Empty(t, samples)

	require.NoError(t, bus.Close())
}

func TestReadFIFOOverflow(t *testing.T) {
	data := make([]byte, FIFODepth*3)
	d, bus := newTestDevice(t,
		write(ModeCfg, 0x02),
		write(FIFOWrPtr, 0),
		write(OvfCount, 0),
		write(FIFORdPtr, 0),
		read(FIFOWrPtr, 0x09, 0x04, 0x09),
		read(FIFOData, data...),
	)

	_, err := d.Options(SetMode(ModeRed))
	require.NoError(t, err)

	samples, err := d.ReadFIFO()
	require.NoError(t, err)
	assert.Len(t, samples, FIFODepth)
	assert.Equal(t, 4, d.Lost())

	require.NoError(t, bus.Close())
}

func TestSamples(t *testing.T) {
	d, bus := newTestDevice(t,
		read(FIFOWrPtr, 0x00, 0x00, 0x00),
		read(FIFOWrPtr, 0x01, 0x00, 0x00),
		read(FIFOData, 0x00, 0x01, 0x00, 0x00, 0x02, 0x00),
	)

	samples, err := d.Samples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Red: 0x100, IR: 0x200}}, samples)

	require.NoError(t, bus.Close())
}

func TestStream(t *testing.T) {
	d, bus := newTestDevice(t,
		read(FIFOWrPtr, 0x01, 0x00, 0x00),
		read(FIFOData, 0x00, 0x00, 0x01, 0x00, 0x00, 0x02),
		read(FIFOWrPtr, 0x03, 0x00, 0x01),
		read(FIFOData,
			0x00, 0x00, 0x03, 0x00, 0x00, 0x04,
			0x00, 0x00, 0x05, 0x00, 0x00, 0x06,
		),
	)

	errDone := errors.New("done")
	var got []Sample
	err := d.Stream(context.Background(), func(s []Sample) error {
		got = append(got, s...)
		if len(got) >= 3 {
			return errDone
		}
		return nil
	})
	assert.True(t, errors.Is(err, errDone))
	assert.Equal(t, []Sample{
		{Red: 1, IR: 2},
		{Red: 3, IR: 4},
		{Red: 5, IR: 6},
	}, got)

	require.NoError(t, bus.Close())
}

func TestStreamCanceled(t *testing.T) {
	d, _ := newTestDevice(t,
		read(FIFOWrPtr, 0x00, 0x00, 0x00),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Stream(ctx, func([]Sample) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestReadFIFONoChannels(t *testing.T) {
	opts := DefaultOpts()
	opts.Mode = ModeMultiLed
	opts.Slots = [4]SlotLED{SlotNone, SlotRed, SlotIR, SlotGreen}
	ops := initOps()
	ops[4] = write(ModeCfg, 0x07)
	ops[10] = write(MultiLedCtrl1, 0x14)
	ops[11] = write(MultiLedCtrl2, 0x32)
	bus := &i2ctest.Playback{
		Ops:       append(ops, read(FIFOWrPtr, 0x01, 0x00, 0x00)),
		DontPanic: true,
	}
	d, err := New(bus, opts)
	require.NoError(t, err)
	assert.Empty(t, d.Channels())

	_, err = d.ReadFIFO()
	assert.True(t, errors.Is(err, ErrNoChannels))
	assert.Equal(t, 0, d.Lost())
}

func TestReadFIFOLostOnlyCountedOnce(t *testing.T) {
	d, bus := newTestDevice(t,
		read(FIFOWrPtr, 0x09, 0x04, 0x09),
		// the burst read fails, the overflow counter is left as is
		i2ctest.IO{Addr: Addr, W: []byte{FIFOData}, R: make([]byte, 2)},
		read(FIFOWrPtr, 0x09, 0x04, 0x09),
		read(FIFOData, make([]byte, FIFODepth*2*3)...),
	)

	_, err := d.ReadFIFO()
	assert.Error(t, err)
	assert.Equal(t, 0, d.Lost())
	bus.Count++ // playback does not consume failed transactions

	samples, err := d.ReadFIFO()
	require.NoError(t, err)
	assert.Len(t, samples, FIFODepth)
	assert.Equal(t, 4, d.Lost())

	require.NoError(t, bus.Close())
}
