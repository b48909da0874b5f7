package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/maruel/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cgxeiji/max30105"
	"github.com/cgxeiji/max30105/driver"
)

const (
	shutdownGracePeriod = 5 * time.Second
	// probeMargin bounds the time taken by a probe besides the sample
	// windows of heart rate and SpO2.
	probeMargin = 2 * time.Second
)

var cmdServe = &subcommands.Command{
	UsageLine: "serve [options...]",
	ShortDesc: "Export measurements as Prometheus metrics",
	LongDesc: `Probe the sensor every interval and serve the results on /metrics.
/healthz fails when no probe succeeded in the last three intervals, or in the
time two sample windows take when that is longer.

The green LED level is only measured in multi-LED mode with a green slot.`,
	CommandRun: func() subcommands.CommandRun {
		c := &serveRun{}
		c.init()
		c.Flags.StringVar(&c.address, "address", "", "Address of the metrics server, overrides the configuration file.")
		c.Flags.DurationVar(&c.interval, "interval", 0, "Time between probes, overrides the configuration file.")
		return c
	},
}

type serveRun struct {
	commonFlags
	address  string
	interval time.Duration
}

func (c *serveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return c.run(a, func(ctx context.Context, cfg *Config, log *logrus.Logger, d *max30105.Device) error {
		if c.address != "" {
			cfg.Exporter.Address = c.address
		}
		if c.interval != 0 {
			cfg.Exporter.Interval = c.interval
		}
		if cfg.Exporter.Address == "" {
			return errors.New("no exporter address")
		}
		if drv, err := d.Driver(); err == nil && !hasGreen(drv.Channels()) {
			log.WithField("mode", drv.Mode()).Warn("green LED is not sampled, max30105_led_level{led=\"green\"} stays 0")
		}
		return newExporter(d, log).serve(ctx, cfg.Exporter, cfg.Window)
	})
}

// reader is the part of *max30105.Device probed by the exporter.
type reader interface {
	Temperature(ctx context.Context) (float64, error)
	HeartRate(ctx context.Context) (float64, error)
	SpO2(ctx context.Context) (float64, error)
	Particles(ctx context.Context) (max30105.Level, error)
}

type exporter struct {
	r   reader
	log logrus.FieldLogger
	reg *prometheus.Registry
	now func() time.Time

	temperature prometheus.Gauge
	heartRate   prometheus.Gauge
	spo2        prometheus.Gauge
	level       *prometheus.GaugeVec
	contact     prometheus.Gauge
	errors      *prometheus.CounterVec

	mu   sync.Mutex
	last time.Time
}

func newExporter(r reader, log logrus.FieldLogger) *exporter {
	e := &exporter{
		r:   r,
		log: log,
		reg: prometheus.NewRegistry(),
		now: time.Now,
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max30105_temperature_celsius",
			Help: "Die temperature of the sensor.",
		}),
		heartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max30105_heart_rate_bpm",
			Help: "Last heart rate measured.",
		}),
		spo2: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max30105_spo2_percent",
			Help: "Last SpO2 level measured.",
		}),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "max30105_led_level",
			Help: "Normalized mean level of each LED channel.",
		}, []string{"led"}),
		contact: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max30105_contact",
			Help: "1 when something is placed on the sensor.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "max30105_probe_errors_total",
			Help: "Failed measurements.",
		}, []string{"measurement", "reason"}),
	}
	e.reg.MustRegister(e.temperature, e.heartRate, e.spo2, e.level, e.contact, e.errors)
	return e
}

// reason returns the error label of err.
func reason(err error) string {
	switch {
	case errors.Is(err, max30105.ErrNotDetected):
		return "not_detected"
	case errors.Is(err, max30105.ErrTooNoisy):
		return "too_noisy"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "sensor"
}

func (e *exporter) failed(measurement string, err error) {
	e.errors.WithLabelValues(measurement, reason(err)).Inc()
	e.log.WithError(err).WithField("measurement", measurement).Warn("probe failed")
}

// probe takes one round of measurements. Heart rate and SpO2 are only
// measured when something is on the sensor.
func (e *exporter) probe(ctx context.Context) error {
	t, err := e.r.Temperature(ctx)
	if err != nil {
		e.failed("temperature", err)
		return err
	}
	e.temperature.Set(t)

	l, err := e.r.Particles(ctx)
	if err != nil {
		e.failed("particles", err)
		return err
	}
	e.level.WithLabelValues("red").Set(l.Red)
	e.level.WithLabelValues("ir").Set(l.IR)
	e.level.WithLabelValues("green").Set(l.Green)
	e.mark()

	if l.IR < max30105.DetectionThreshold {
		e.contact.Set(0)
		return nil
	}
	e.contact.Set(1)

	if bpm, err := e.r.HeartRate(ctx); err != nil {
		e.failed("heart_rate", err)
	} else {
		e.heartRate.Set(bpm)
	}
	if spo2, err := e.r.SpO2(ctx); err != nil {
		e.failed("spo2", err)
	} else {
		e.spo2.Set(spo2)
	}

	return ctx.Err()
}

func (e *exporter) mark() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = e.now()
}

// healthy reports whether a probe succeeded within maxAge.
func (e *exporter) healthy(maxAge time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.last.IsZero() && e.now().Sub(e.last) <= maxAge
}

// hasGreen reports whether leds samples the green LED.
func hasGreen(leds []driver.LED) bool {
	for _, l := range leds {
		if l == driver.Green {
			return true
		}
	}
	return false
}

// staleAfter returns how long /healthz accepts the last successful probe.
// A probe measuring heart rate and SpO2 reads two sample windows.
func staleAfter(interval, window time.Duration) time.Duration {
	return max(3*interval, interval+2*(window+probeMargin)+probeMargin)
}

func (e *exporter) handler(maxAge time.Duration) http.Handler {
	r := httprouter.New()
	r.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	r.GET("/healthz", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if !e.healthy(maxAge) {
			http.Error(w, "no recent measurement", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return r
}

// startProber probes every interval until ctx is done.
func (e *exporter) startProber(ctx context.Context, interval time.Duration) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := e.probe(ctx); err != nil && ctx.Err() == nil {
				e.log.WithError(err).Debug("probe incomplete")
			}
			t.Reset(interval)
		case <-ctx.Done():
			return nil
		}
	}
}

// serve runs the prober and the metrics server until ctx is done.
func (e *exporter) serve(ctx context.Context, cfg ExporterConfig, window time.Duration) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("invalid probe interval %s", cfg.Interval)
	}

	svr := &http.Server{
		Addr:    cfg.Address,
		Handler: e.handler(staleAfter(cfg.Interval, window)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.WithField("address", cfg.Address).Info("serving Prometheus metrics")
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return e.startProber(ctx, cfg.Interval)
	})
	g.Go(func() error {
		<-ctx.Done()
		e.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return svr.Shutdown(sctx)
	})

	return g.Wait()
}
