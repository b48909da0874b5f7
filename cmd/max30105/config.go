package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cgxeiji/max30105/driver"
)

// Config is the configuration file of the max30105 tool.
type Config struct {
	Bus       string        `yaml:"bus"`
	Address   uint16        `yaml:"address"`
	Calibrate bool          `yaml:"calibrate"`
	Window    time.Duration `yaml:"window"`

	Sensor   SensorConfig   `yaml:"sensor"`
	Log      LogConfig      `yaml:"log"`
	Exporter ExporterConfig `yaml:"exporter"`
}

// SensorConfig overrides the default sensor settings. Zero values keep the
// defaults.
type SensorConfig struct {
	// Mode is one of "red", "red+ir" or "multi-led".
	Mode          string `yaml:"mode"`
	SampleRate    int    `yaml:"sample_rate"`
	PulseWidth    int    `yaml:"pulse_width"`
	ADCRange      int    `yaml:"adc_range"`
	SampleAverage int    `yaml:"sample_average"`

	// LED currents in mA.
	Red   *float64 `yaml:"red_current"`
	IR    *float64 `yaml:"ir_current"`
	Green *float64 `yaml:"green_current"`
	Pilot *float64 `yaml:"pilot_current"`

	// Slots lists what the multi-LED slots sample, e.g. [red, ir, green].
	Slots []string `yaml:"slots"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExporterConfig configures the Prometheus exporter.
type ExporterConfig struct {
	Address  string        `yaml:"address"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Window: 5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Exporter: ExporterConfig{
			Address:  "127.0.0.1:9105",
			Interval: 30 * time.Second,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	if _, err := cfg.Opts(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

var modes = map[string]driver.Mode{
	"red":       driver.ModeRed,
	"red+ir":    driver.ModeRedIR,
	"multi-led": driver.ModeMultiLed,
}

var slots = map[string]driver.SlotLED{
	"off":         driver.SlotOff,
	"red":         driver.SlotRed,
	"ir":          driver.SlotIR,
	"green":       driver.SlotGreen,
	"none":        driver.SlotNone,
	"pilot-red":   driver.SlotPilotRed,
	"pilot-ir":    driver.SlotPilotIR,
	"pilot-green": driver.SlotPilotGreen,
}

// Opts returns the sensor settings as driver options.
func (c *Config) Opts() (*driver.Opts, error) {
	opts := driver.DefaultOpts()
	opts.Addr = c.Address
	s := c.Sensor

	if s.Mode != "" {
		m, ok := modes[strings.ToLower(s.Mode)]
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", s.Mode)
		}
		opts.Mode = m
	}
	if s.SampleRate != 0 {
		opts.SampleRate = s.SampleRate
	}
	if s.PulseWidth != 0 {
		opts.PulseWidth = s.PulseWidth
	}
	if s.ADCRange != 0 {
		opts.ADCRange = s.ADCRange
	}
	if s.SampleAverage != 0 {
		opts.SampleAverage = s.SampleAverage
	}
	for _, amp := range []struct {
		from *float64
		to   *float64
	}{
		{s.Red, &opts.RedAmp},
		{s.IR, &opts.IRAmp},
		{s.Green, &opts.GreenAmp},
		{s.Pilot, &opts.PilotAmp},
	} {
		if amp.from != nil {
			*amp.to = *amp.from
		}
	}

	if len(s.Slots) > len(opts.Slots) {
		return nil, fmt.Errorf("too many slots: %d", len(s.Slots))
	}
	if len(s.Slots) > 0 {
		opts.Slots = [4]driver.SlotLED{}
		for i, name := range s.Slots {
			led, ok := slots[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("unknown slot %q", name)
			}
			opts.Slots[i] = led
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Logger returns a logger configured by c.
func (c LogConfig) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	switch strings.ToLower(c.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	return l, nil
}
