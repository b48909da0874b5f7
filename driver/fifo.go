package driver

import (
	"context"
	"fmt"
)

// Sample holds one FIFO word. LEDs that are not sampled are left at 0.
type Sample struct {
	Red   uint32 `json:"red"`
	IR    uint32 `json:"ir"`
	Green uint32 `json:"green,omitempty"`
}

// Value returns the value read for led.
func (s Sample) Value(led LED) uint32 {
	switch led {
	case Red:
		return s.Red
	case IR:
		return s.IR
	case Green:
		return s.Green
	}
	return 0
}

func (s *Sample) set(led LED, v uint32) {
	switch led {
	case Red:
		s.Red = v
	case IR:
		s.IR = v
	case Green:
		s.Green = v
	}
}

// ClearFIFO resets the FIFO pointers and the overflow counter.
func (d *Device) ClearFIFO() error {
	for _, reg := range []byte{FIFOWrPtr, OvfCount, FIFORdPtr} {
		if err := d.Write(reg, 0); err != nil {
			return fmt.Errorf("max30105: could not clear FIFO: %w", err)
		}
	}
	return nil
}

// Available returns the number of unread samples in the FIFO.
func (d *Device) Available() (int, error) {
	n, _, err := d.pointers()
	return n, err
}

// pointers returns the number of unread samples and the overflow counter.
func (d *Device) pointers() (n int, ovf byte, err error) {
	// write pointer, overflow counter and read pointer are contiguous
	b, err := d.ReadBytes(FIFOWrPtr, 3)
	if err != nil {
		return 0, 0, fmt.Errorf("max30105: could not read FIFO pointers: %w", err)
	}
	wr, ovf, rd := b[0]&ptrMask, b[1]&ptrMask, b[2]&ptrMask

	return available(wr, rd, ovf), ovf, nil
}

// available returns the number of samples between the read and write
// pointers. Equal pointers mean an empty FIFO, unless samples have been
// lost, in which case the FIFO is full.
func available(wr, rd, ovf byte) int {
	if wr == rd {
		if ovf > 0 {
			return FIFODepth
		}
		return 0
	}
	return (int(wr) + FIFODepth - int(rd)) % FIFODepth
}

// Lost returns the number of samples lost to FIFO overflows since the
// device was opened, as reported by successful ReadFIFO calls.
func (d *Device) Lost() int {
	return d.lost
}

// ReadFIFO drains all the samples currently in the FIFO. It returns an empty
// slice if there are none.
func (d *Device) ReadFIFO() ([]Sample, error) {
	n, ovf, err := d.pointers()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	leds := d.Channels()
	if len(leds) == 0 {
		return nil, ErrNoChannels
	}

	b, err := d.ReadBytes(FIFOData, n*len(leds)*3)
	if err != nil {
		return nil, fmt.Errorf("max30105: could not read FIFO: %w", err)
	}
	// the overflow counter is cleared once the FIFO is read
	d.lost += int(ovf)

	return decodeSamples(b, leds), nil
}

// decodeSamples splits a FIFO burst into samples. Each channel is a 3-byte
// big-endian word holding an 18-bit value.
func decodeSamples(b []byte, leds []LED) []Sample {
	size := len(leds) * 3
	samples := make([]Sample, 0, len(b)/size)
	for off := 0; off+size <= len(b); off += size {
		var s Sample
		for i, led := range leds {
			w := b[off+i*3 : off+i*3+3]
			v := (uint32(w[0])<<16 | uint32(w[1])<<8 | uint32(w[2])) & MaxADC
			s.set(led, v)
		}
		samples = append(samples, s)
	}
	return samples
}

// Samples blocks until at least one sample is available and returns all the
// samples in the FIFO.
func (d *Device) Samples(ctx context.Context) ([]Sample, error) {
	var samples []Sample
	err := d.pollUntil(ctx, func() (bool, error) {
		var err error
		samples, err = d.ReadFIFO()
		return len(samples) > 0, err
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Stream reads samples until ctx is done or fn returns an error. fn is called
// with every non-empty burst read from the FIFO.
func (d *Device) Stream(ctx context.Context, fn func([]Sample) error) error {
	for {
		samples, err := d.Samples(ctx)
		if err != nil {
			return err
		}
		if err := fn(samples); err != nil {
			return err
		}
	}
}
