// cmd/buttond/main.go
//
// buttond wires the pieces together on a host: the in-process bus, the
// button service on a GPIO backend, the WebSocket bridge and the
// telemetry heartbeat.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pushbutton-go/bus"
	"pushbutton-go/pinio"
	"pushbutton-go/platform"
	"pushbutton-go/services/bridge"
	"pushbutton-go/services/buttons"
	"pushbutton-go/services/heartbeat"

	"gopkg.in/yaml.v3"
)

type pinsConfig struct {
	// Backend is "fake" or "gpiochip".
	Backend string `yaml:"backend"`
	Chip    string `yaml:"chip"`
	Pull    string `yaml:"pull"`
}

type heartbeatConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type appConfig struct {
	LogLevel  string          `yaml:"log_level"`
	Pins      pinsConfig      `yaml:"pins"`
	Buttons   buttons.Config  `yaml:"buttons"`
	Bridge    bridge.Config   `yaml:"bridge"`
	Heartbeat heartbeatConfig `yaml:"heartbeat"`
}

func main() {
	cfgPath := flag.String("config", "buttond.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", *cfgPath, "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pins, err := newPinFactory(cfg.Pins)
	if err != nil {
		log.Error("pin backend init failed", "backend", cfg.Pins.Backend, "err", err)
		os.Exit(1)
	}

	b := bus.NewBus(32)

	btnSvc := buttons.New(cfg.Buttons, pins)
	if err := btnSvc.Start(ctx, b.NewConnection("buttons")); err != nil {
		log.Error("button service start failed", "err", err)
		os.Exit(1)
	}
	log.Info("button service started",
		"mode", cfg.Buttons.Mode,
		"buttons", len(cfg.Buttons.Buttons),
		"menu_count", cfg.Buttons.MenuCount)

	brSvc := bridge.New(cfg.Bridge)
	if err := brSvc.Start(ctx, b.NewConnection("bridge")); err != nil {
		log.Error("bridge start failed", "err", err)
		os.Exit(1)
	}
	log.Info("bridge listening", "addr", brSvc.Addr())

	hb := &heartbeat.Service{
		Interval: time.Duration(cfg.Heartbeat.IntervalMS) * time.Millisecond,
	}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		log.Error("heartbeat start failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	// Give service loops a moment to publish their stopped states.
	time.Sleep(100 * time.Millisecond)
}

func loadConfig(path string) (appConfig, error) {
	var cfg appConfig
	cfg.Buttons = buttons.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Buttons.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newPinFactory(cfg pinsConfig) (pinio.PinFactory, error) {
	switch cfg.Backend {
	case "", "fake":
		return platform.NewHostPinFactory(), nil
	case "gpiochip":
		return platform.NewChipPinFactory(cfg.Chip, pinio.ParsePull(cfg.Pull))
	default:
		return nil, &unknownBackendError{name: cfg.Backend}
	}
}

type unknownBackendError struct{ name string }

func (e *unknownBackendError) Error() string { return "unknown pin backend: " + e.name }
