package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/doobs/internal/audio"
	"github.com/sjawhar/doobs/internal/config"
	"github.com/sjawhar/doobs/internal/deepgram"
	"github.com/sjawhar/doobs/internal/journal"
	"github.com/sjawhar/doobs/internal/recognition"
	"github.com/sjawhar/doobs/internal/server"
	"github.com/sjawhar/doobs/internal/telemetry"
)

//go:embed static/*
var staticFiles embed.FS

const shutdownTimeout = 5 * time.Second

type rootFlags struct {
	configPath string
	addr       string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "doobs",
		Short: "Doobs - speech to text",
		Long:  "Doobs listens to the microphone, transcribes speech live and serves the transcript to an installable web app.",
		Example: `  doobs
  doobs --config ./doobs.yaml
  doobs --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, cmd.ErrOrStderr())
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	defaultConfig := os.Getenv(config.EnvPrefix + "CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", defaultConfig, "Path to the YAML config file")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "HTTP listen address (overrides listen_addr)")

	return cmd
}

func run(ctx context.Context, flags rootFlags, stderr io.Writer) error {
	cfg, warnings, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.addr != "" {
		cfg.ListenAddr = flags.addr
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets init failed: %w", err)
	}

	hub := server.NewHub(logger)
	sinks := []recognition.EventSink{hub}
	opts := server.Options{
		Warnings: func() []string { return warnings },
		Logger:   logger,
	}

	if j, err := journal.Open(cfg.JournalPath, cfg.JournalKeep, logger); err != nil {
		logger.Warn("diagnostics journal disabled", slog.String("error", err.Error()))
	} else {
		defer func() { _ = j.Close() }()
		sinks = append(sinks, j)
		opts.Diagnostics = j
	}

	if cfg.MetricsEnabled {
		tel, err := telemetry.New("doobs", logger)
		if err != nil {
			logger.Warn("metrics disabled", slog.String("error", err.Error()))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			sinks = append(sinks, tel)
			opts.Metrics = tel.Handler()
		}
	}

	var recognizer recognition.Recognizer
	if err := audio.Initialize(); err != nil {
		logger.Warn("audio unavailable, speech recognition disabled", slog.String("error", err.Error()))
	} else {
		defer func() { _ = audio.Terminate() }()
		recognizer = deepgram.New(deepgram.Config{
			APIKey:          cfg.DeepgramAPIKey,
			Model:           cfg.DeepgramModel,
			SmartFormat:     cfg.DeepgramSmartFormat,
			SampleRates:     cfg.SampleRateCandidates(),
			NoSpeechTimeout: cfg.ParsedNoSpeechTimeout(),
			Logger:          logger,
		})
	}

	controller := recognition.NewController(recognizer, recognition.MultiSink(sinks...), recognition.Config{
		Settings: cfg.Settings(),
		Policy:   cfg.RestartPolicy(),
		Logger:   logger,
	})
	defer func() { _ = controller.Close() }()
	opts.Controls = controller

	handler, err := server.Handler(assets, hub, opts)
	if err != nil {
		return fmt.Errorf("build http handler failed: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(hub.Close)

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("doobs: web UI ready", slog.String("addr", cfg.ListenAddr))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("doobs: shutting down")
	if err := controller.Close(); err != nil {
		logger.Warn("stop recognition failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}
