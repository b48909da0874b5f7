// Command max30105 reads a MAX30105 sensor from the command line and can
// export its measurements to Prometheus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/max30105"
)

func getApplication() *subcommands.DefaultApplication {
	return &subcommands.DefaultApplication{
		Name:  "max30105",
		Title: "Read heart rate, SpO2 and particle levels from a MAX30105 sensor.",
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdInfo,
			cmdTemp,
			cmdRead,
			cmdHeartRate,
			cmdSpO2,
			cmdServe,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(getApplication(), nil))
}

// commonFlags are the flags shared by every command.
type commonFlags struct {
	subcommands.CommandRunBase

	config   string
	bus      string
	addr     uint
	logLevel string
}

func (c *commonFlags) init() {
	c.Flags.StringVar(&c.config, "config", "", "Path to a YAML configuration file.")
	c.Flags.StringVar(&c.bus, "bus", "", "I²C bus name, overrides the configuration file.")
	c.Flags.UintVar(&c.addr, "addr", 0, "I²C address, overrides the configuration file.")
	c.Flags.StringVar(&c.logLevel, "log-level", "", "Log level, overrides the configuration file.")
}

// load returns the configuration with the command line overrides applied.
func (c *commonFlags) load() (*Config, *logrus.Logger, error) {
	cfg, err := LoadConfig(c.config)
	if err != nil {
		return nil, nil, err
	}
	if c.bus != "" {
		cfg.Bus = c.bus
	}
	if c.addr != 0 {
		cfg.Address = uint16(c.addr)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// open opens the sensor described by cfg.
func open(cfg *Config, log logrus.FieldLogger) (*max30105.Device, error) {
	opts, err := cfg.Opts()
	if err != nil {
		return nil, err
	}

	return max30105.New(
		max30105.OnBus(cfg.Bus),
		max30105.WithOpts(opts),
		max30105.WithLogger(log),
		max30105.WithWindow(cfg.Window),
		max30105.WithCalibration(cfg.Calibrate),
	)
}

// run loads the configuration, opens the sensor and calls fn with a context
// that is canceled on SIGINT or SIGTERM.
func (c *commonFlags) run(a subcommands.Application, fn func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error) int {
	cfg, log, err := c.load()
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}

	d, err := open(cfg, log)
	if err != nil {
		log.WithError(err).Error("could not open sensor")
		return 1
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.WithError(err).Warn("could not close sensor")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, cfg, log, d); err != nil && ctx.Err() == nil {
		log.WithError(err).Error(a.GetName())
		return 1
	}
	return 0
}
