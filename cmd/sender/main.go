package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"lancast/internal/core/domain"
	"lancast/internal/core/services"
	"lancast/internal/infrastructure/encoder"
	"lancast/internal/infrastructure/token"
	"lancast/pkg/config"
	"lancast/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path")
		dest       = flag.String("dest", "", "receiver address (host:port)")
		streamTok  = flag.String("token", "", "stream token; minted locally when empty")
		sessionID  = flag.String("session", "", "session id for locally minted tokens")
	)
	flag.Parse()

	cfg := loadConfig(*configPath)
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *dest == "" {
		log.Fatal("missing -dest receiver address")
	}

	resolver := token.NewJWTResolver(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)

	// Without an externally issued token, mint one so sender and
	// receiver can still agree on a stream id for local runs.
	tok := *streamTok
	if tok == "" {
		sid := *sessionID
		if sid == "" {
			sid = uuid.NewString()
		}
		var err error
		tok, err = resolver.Issue(domain.SessionID(sid), "local-host", domain.RoleHost)
		if err != nil {
			log.Fatalw("failed to mint local token", "error", err)
		}
		log.Infow("minted local stream token", "session_id", sid)
	}

	resolved, err := resolver.Resolve(tok)
	if err != nil {
		log.Fatalw("token rejected", "error", err)
	}
	log.Infow("stream id derived", "stream_id", resolved.StreamID)

	sender, err := services.NewSender(services.SenderConfig{
		StreamID: token.WireStreamID(resolved.StreamID),
		Scope: services.ControlScope{
			Token:     tok,
			SessionID: resolved.SessionID,
			StreamID:  resolved.StreamID,
		},
		DestAddr:        *dest,
		BindAddr:        cfg.Sender.BindAddress,
		Fps:             cfg.Sender.Fps,
		MaxPayloadBytes: cfg.Sender.MaxPayloadBytes,
		PacingHeadroom:  cfg.Sender.PacingHeadroom,
		MaxDuration:     cfg.Sender.MaxStreamDuration,
		Control: services.BitrateControllerConfig{
			StartBitrateKbps: cfg.Sender.StartBitrateKbps,
			MinBitrateKbps:   cfg.Sender.MinBitrateKbps,
			MaxBitrateKbps:   cfg.Sender.StartBitrateKbps,
			Step:             cfg.Sender.BitrateStep,
			BitrateCooldown:  cfg.Sender.BitrateCooldown,
			KeyframeCooldown: cfg.Sender.KeyframeCooldown,
			RecoverAfter:     cfg.Sender.RecoverAfter,
		},
	}, encoder.NewSyntheticFactory(cfg.Sender.Fps), log)
	if err != nil {
		log.Fatalw("failed to build sender", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting sender",
		"dest", *dest,
		"fps", cfg.Sender.Fps,
		"start_bitrate_kbps", cfg.Sender.StartBitrateKbps,
	)
	err = sender.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatalw("sender exited with error", "error", err)
	}
	log.Info("sender stopped")
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
