package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/maruel/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/max30105"
	"github.com/cgxeiji/max30105/driver"
)

var cmdInfo = &subcommands.Command{
	UsageLine: "info [options...]",
	ShortDesc: "Print the sensor revision",
	CommandRun: func() subcommands.CommandRun {
		c := &infoRun{}
		c.init()
		return c
	},
}

type infoRun struct {
	commonFlags
}

func (c *infoRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return c.run(a, func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error {
		fmt.Fprintf(a.GetOut(), "MAX30105 rev.%d detected\n", d.RevID)
		return nil
	})
}

var cmdTemp = &subcommands.Command{
	UsageLine: "temp [options...]",
	ShortDesc: "Print the die temperature",
	LongDesc:  "Print the die temperature in °C. With -every, keep printing until interrupted.",
	CommandRun: func() subcommands.CommandRun {
		c := &tempRun{}
		c.init()
		c.Flags.DurationVar(&c.every, "every", 0, "Interval between readings.")
		return c
	},
}

type tempRun struct {
	commonFlags
	every time.Duration
}

func (c *tempRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return c.run(a, func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error {
		return repeat(ctx, c.every, func() error {
			t, err := d.Temperature(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.GetOut(), "%.4f°C\n", t)
			return nil
		})
	})
}

var cmdRead = &subcommands.Command{
	UsageLine: "read [options...]",
	ShortDesc: "Stream raw FIFO samples as JSON lines",
	CommandRun: func() subcommands.CommandRun {
		c := &readRun{}
		c.init()
		c.Flags.IntVar(&c.count, "n", 0, "Number of samples to read, 0 reads until interrupted.")
		return c
	},
}

type readRun struct {
	commonFlags
	count int
}

// errDone stops a stream once enough samples are written.
var errDone = errors.New("done")

func (c *readRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return c.run(a, func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error {
		drv, err := d.Driver()
		if err != nil {
			return err
		}
		err = writeSamples(ctx, drv, a.GetOut(), c.count)
		if lost := drv.Lost(); lost > 0 {
			log.WithField("lost", lost).Warn("FIFO overflowed")
		}
		return err
	})
}

type streamer interface {
	Stream(ctx context.Context, fn func([]driver.Sample) error) error
}

// writeSamples writes up to n samples from s to w, one JSON object per line.
func writeSamples(ctx context.Context, s streamer, w io.Writer, n int) error {
	enc := json.NewEncoder(w)
	written := 0
	err := s.Stream(ctx, func(samples []driver.Sample) error {
		for _, v := range samples {
			if err := enc.Encode(v); err != nil {
				return err
			}
			written++
			if n > 0 && written >= n {
				return errDone
			}
		}
		return nil
	})
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

var cmdHeartRate = &subcommands.Command{
	UsageLine: "hr [options...]",
	ShortDesc: "Print the heart rate until interrupted",
	CommandRun: func() subcommands.CommandRun {
		c := &measureRun{name: "heart rate", unit: "bpm"}
		c.init()
		return c
	},
}

var cmdSpO2 = &subcommands.Command{
	UsageLine: "spo2 [options...]",
	ShortDesc: "Print the SpO2 level until interrupted",
	CommandRun: func() subcommands.CommandRun {
		c := &measureRun{name: "SpO2", unit: "%", spo2: true}
		c.init()
		return c
	},
}

type measureRun struct {
	commonFlags
	name string
	unit string
	spo2 bool
}

func (c *measureRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return c.run(a, func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error {
		measure := d.HeartRate
		if c.spo2 {
			measure = d.SpO2
		}
		for ctx.Err() == nil {
			v, err := measure(ctx)
			switch {
			case errors.Is(err, max30105.ErrNotDetected):
				log.Warn("place your finger on the sensor")
			case errors.Is(err, max30105.ErrTooNoisy):
				log.Warn("keep your finger still")
			case err != nil:
				return err
			default:
				fmt.Fprintf(a.GetOut(), "%s: %.1f%s\n", c.name, v, c.unit)
			}
		}
		return nil
	})
}

// repeat calls fn once, then every interval until ctx is done. A zero
// interval calls fn only once.
func repeat(ctx context.Context, every time.Duration, fn func() error) error {
	if err := fn(); err != nil || every <= 0 {
		return err
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}
