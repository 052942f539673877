package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/penguintechinc/marchproxy-control/internal/dataplane"
	"github.com/penguintechinc/marchproxy-control/pkg/proxyclient"
	"github.com/penguintechinc/marchproxy-control/pkg/serviceauth"
)

func main() {
	cfg, err := dataplane.Load()
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("loading agent config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("proxy", cfg.ProxyName).Logger()

	client := proxyclient.New(proxyclient.Config{
		BaseURL:       cfg.ControlPlaneURL,
		ClusterAPIKey: cfg.ClusterAPIKey,
		ProxyName:     cfg.ProxyName,
		Logger:        logger,
	})

	authn, err := serviceauth.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing service authenticator")
	}

	agent := dataplane.New(cfg, client, authn, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := agent.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("agent exited")
	}
}
