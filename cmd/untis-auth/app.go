package main

import (
	"fmt"

	"github.com/and161185/untis-auth/internal/config"
	"github.com/and161185/untis-auth/internal/keychain"
	"github.com/and161185/untis-auth/internal/limiter"
	"github.com/and161185/untis-auth/internal/logger"
	"github.com/and161185/untis-auth/internal/service"
	"github.com/and161185/untis-auth/internal/transport"
	"go.uber.org/zap"
)

// keychainFactory allows injecting a mock keychain in tests.
var keychainFactory = func() keychain.Keychain { return keychain.System{} }

// app is the wiring shared by all commands.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	tr     *transport.Client
	broker *service.AuthServiceImpl
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.ResolveSecrets(keychainFactory()); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	tr := transport.New(log.Named("transport"), transport.Options{
		Scheme:          cfg.HTTP.Scheme,
		ProtocolTimeout: cfg.HTTP.ProtocolTimeout,
		MetadataTimeout: cfg.HTTP.MetadataTimeout,
	})
	lim := limiter.NewMemory(limiter.MemoryConfig{
		Every:    cfg.Limiter.Every,
		Burst:    cfg.Limiter.Burst,
		Window:   cfg.Limiter.Window,
		MaxFails: cfg.Limiter.MaxFails,
		BlockFor: cfg.Limiter.BlockFor,
	})
	broker := service.NewAuthService(tr, lim, log.Named("auth"), service.Config{
		TTL:                      cfg.Cache.TTL,
		RefreshMargin:            cfg.Cache.RefreshMargin,
		CookieValidationInterval: cfg.Cache.CookieValidationInterval,
		KeepRawAppData:           cfg.Cache.KeepRawAppData,
	})

	log.Debug("untis-auth initialized",
		zap.String("version", version),
		zap.Int("students", len(cfg.Students)),
	)
	return &app{cfg: cfg, log: log, tr: tr, broker: broker}, nil
}

func (a *app) close() { _ = a.log.Sync() }
