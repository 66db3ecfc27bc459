package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"lancast/internal/core/services"
	"lancast/internal/infrastructure/sink"
	"lancast/internal/infrastructure/token"
	"lancast/pkg/config"
	"lancast/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path")
		streamTok  = flag.String("token", "", "stream token identifying the expected stream")
		sinkKind   = flag.String("sink", "", "decoder sink: ffplay, file or none (overrides config)")
	)
	flag.Parse()

	cfg := loadConfig(*configPath)
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *streamTok == "" {
		log.Fatal("missing -token; the receiver filters on the token-derived stream id")
	}

	resolver := token.NewJWTResolver(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	resolved, err := resolver.Resolve(*streamTok)
	if err != nil {
		log.Fatalw("token rejected", "error", err)
	}
	log.Infow("expecting stream", "stream_id", resolved.StreamID)

	kind := cfg.Receiver.Sink
	if *sinkKind != "" {
		kind = *sinkKind
	}
	decoderSink, err := sink.New(sink.Kind(kind), cfg.Receiver.SinkPath, log)
	if err != nil {
		log.Fatalw("failed to build decoder sink", "error", err)
	}

	receiver, err := services.NewReceiver(services.ReceiverConfig{
		BindAddr:         cfg.Receiver.BindAddress,
		ExpectedStreamID: token.WireStreamID(resolved.StreamID),
		Scope: services.ControlScope{
			Token:     *streamTok,
			SessionID: resolved.SessionID,
			StreamID:  resolved.StreamID,
		},
		MaxFrameAge:      cfg.Receiver.MaxFrameAge,
		MaxPendingFrames: cfg.Receiver.MaxPendingFrames,
		SweepInterval:    cfg.Receiver.SweepInterval,
		StatsInterval:    cfg.Receiver.StatsInterval,
		FeedbackInterval: cfg.Receiver.FeedbackInterval,
	}, decoderSink, nil, log)
	if err != nil {
		log.Fatalw("failed to build receiver", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting receiver",
		"bind", cfg.Receiver.BindAddress,
		"sink", kind,
	)
	if err := receiver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("receiver exited with error", "error", err)
	}
	log.Info("receiver stopped")
}

func loadConfig(explicit string) *config.Config {
	paths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/lancast/config.yaml",
		"config.yaml",
	}
	if explicit != "" {
		paths = []string{explicit}
	}

	for _, path := range paths {
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}
