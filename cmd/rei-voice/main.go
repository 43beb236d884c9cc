package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
	"github.com/helppeople411-create/rei-voice-pro/internal/config"
	"github.com/helppeople411-create/rei-voice-pro/internal/device"
	"github.com/helppeople411-create/rei-voice-pro/internal/events"
	"github.com/helppeople411-create/rei-voice-pro/internal/gemini"
	"github.com/helppeople411-create/rei-voice-pro/internal/metrics"
	"github.com/helppeople411-create/rei-voice-pro/internal/record"
	"github.com/helppeople411-create/rei-voice-pro/internal/server"
	"github.com/helppeople411-create/rei-voice-pro/internal/session"
	"github.com/helppeople411-create/rei-voice-pro/internal/storage"
	"github.com/helppeople411-create/rei-voice-pro/internal/tools"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "rei-voice-pro"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := pflag.StringP("config", "c", defaultConfigPath, "Path to configuration file")
	envFile := pflag.StringP("env", "e", ".env", "Env file path")
	logLevel := pflag.StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")
	autoConnect := pflag.Bool("connect", false, "Connect to the service at startup")
	noAudio := pflag.Bool("no-audio", false, "Run without microphone and speaker")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *noAudio {
		cfg.Audio.Capture = device.BackendNone
		cfg.Audio.Playback = device.BackendNone
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without the API key
	logger.Info("Configuration loaded",
		slog.String("model", cfg.Gemini.Model),
		slog.String("voice", cfg.Gemini.Voice),
		slog.Bool("api_key_set", cfg.Gemini.APIKey != ""),
		slog.String("capture", cfg.Audio.Capture),
		slog.String("playback", cfg.Audio.Playback),
		slog.Int("input_sample_rate", cfg.Audio.InputSampleRate),
		slog.Int("output_sample_rate", cfg.Audio.OutputSampleRate),
		slog.Int("max_retries", cfg.Session.MaxRetries),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	instruction, err := cfg.Gemini.LoadSystemInstruction()
	if err != nil {
		logger.Error("Failed to load system instruction", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	bus := events.NewBus()
	defer bus.Close()

	kv, err := storage.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open record storage",
			slog.String("backend", cfg.Store.Backend),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer kv.Close()

	store := record.NewStore(kv, logger)
	store.OnPersist(appMetrics.RecordStoreWrite)
	store.OnChange(func(kind record.Kind) {
		switch kind {
		case record.KindLeads:
			bus.Publish(events.TypeLeads, store.Leads())
		case record.KindOffers:
			bus.Publish(events.TypeOffers, store.Offers())
		}
	})
	if err := store.Load(); err != nil {
		logger.Warn("Some records could not be loaded", slog.String("error", err.Error()))
	}
	logger.Info("Record store initialized",
		slog.Int("leads", len(store.Leads())),
		slog.Int("offers", len(store.Offers())),
	)

	dispatcher := tools.NewDispatcher(store, logger)
	dispatcher.OnCall(appMetrics.RecordToolCall)

	dialer := gemini.NewDialer(gemini.Config{
		APIKey:            cfg.Gemini.APIKey,
		Model:             cfg.Gemini.Model,
		Voice:             cfg.Gemini.Voice,
		SystemInstruction: instruction,
		InputSampleRate:   cfg.Audio.InputSampleRate,
		Tools:             tools.Tools(),
	}, logger)

	devices, err := device.NewFactory(device.Config{
		Capture:          cfg.Audio.Capture,
		Playback:         cfg.Audio.Playback,
		InputSampleRate:  cfg.Audio.InputSampleRate,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		FrameSize:        cfg.Audio.FrameSize,
	}, logger)
	if err != nil {
		logger.Error("Failed to create audio devices", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessionConfig := session.Config{
		Backoff: session.Backoff{
			Base:       cfg.Session.GetBaseDelayDuration(),
			Multiplier: cfg.Session.Multiplier,
			MaxRetries: cfg.Session.MaxRetries,
			MaxDelay:   cfg.Session.GetMaxDelayDuration(),
		},
		Capture: audio.CaptureConfig{
			FrameSize:   cfg.Audio.FrameSize,
			SampleRate:  cfg.Audio.InputSampleRate,
			Gain:        cfg.Audio.InputGain,
			Sensitivity: cfg.Audio.LevelSensitivity,
		},
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		RecordPath:       cfg.Audio.RecordPath,
	}

	manager, err := session.NewManager(sessionConfig, session.Deps{
		Dialer:  dialer,
		Audio:   devices,
		Tools:   dispatcher,
		Bus:     bus,
		Metrics: appMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("base_delay", sessionConfig.Backoff.Base),
		slog.Int("max_retries", sessionConfig.Backoff.MaxRetries),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, manager, store, bus, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *autoConnect || cfg.Session.AutoConnect {
		if err := manager.Connect(); err != nil {
			logger.Error("Failed to connect", slog.String("error", err.Error()))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", cfg.HTTP.ListenAddress()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Tear down the live session and release audio devices
	manager.Close()

	logger.Info("Final session statistics",
		slog.Int("turns", len(manager.Transcript())),
		slog.Int("leads", len(store.Leads())),
		slog.Int("offers", len(store.Offers())),
	)

	logger.Info("Service stopped")
}

// initLogger creates the structured logger based on configuration. The
// returned closer releases a log file if one was opened.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	level := cfg.SlogLevel()

	var output io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
			closer = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		})
	case "console":
		handler = tint.NewHandler(output, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		})
	}

	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
