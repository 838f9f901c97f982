package main

import (
	"context"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/playcapsa/capsa-server/cmd/capsa/shared"
	"github.com/playcapsa/capsa-server/internal/config"
	"github.com/playcapsa/capsa-server/internal/directory"
	"github.com/playcapsa/capsa-server/internal/session"
	"github.com/playcapsa/capsa-server/internal/transport/httpapi"
	"github.com/playcapsa/capsa-server/internal/transport/tcp"
	"github.com/playcapsa/capsa-server/internal/transport/ws"
)

// ServerCmd runs the game engine with its configured transports
type ServerCmd struct {
	Config    string `kong:"default='capsa.hcl',help='Path to HCL configuration file'"`
	Debug     bool   `kong:"help='Enable debug logging'"`
	TCPAddr   string `kong:"help='Override TCP listener address'"`
	HTTPAddr  string `kong:"help='Override HTTP listener address'"`
	WSAddr    string `kong:"help='Override WebSocket listener address'"`
	RedisAddr string `kong:"help='Override Redis address for the shared session directory'"`
	NoRedis   bool   `kong:"help='Disable the shared session directory'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.TCPAddr != "" {
		cfg.Server.TCPAddress = c.TCPAddr
	}
	if c.HTTPAddr != "" {
		cfg.Server.HTTPAddress = c.HTTPAddr
	}
	if c.WSAddr != "" {
		cfg.Server.WSAddress = c.WSAddr
	}
	if c.RedisAddr != "" {
		cfg.Redis = &config.RedisSettings{Address: c.RedisAddr}
	}
	if c.NoRedis {
		cfg.Redis = nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := shared.SetupLogger(cfg.Server.LogLevel, c.Debug)
	ctx := shared.SetupSignalHandlerWithLogger(logger)

	var dir directory.Directory = directory.Noop{}
	if cfg.Redis != nil {
		redisDir, err := directory.NewRedis(ctx, directory.RedisConfig{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = redisDir.Close() }()
		dir = redisDir
		logger.Info("shared session directory enabled", "addr", cfg.Redis.Address)
	}

	manager := session.NewManager(dir, quartz.NewReal(), logger, session.Config{
		BotDelay:     cfg.BotDelay(),
		RestartDelay: cfg.RestartDelay(),
		IdleTimeout:  cfg.IdleTimeout(),
		FinishedTTL:  cfg.FinishedTTL(),
	})

	logger.Info("starting capsa server",
		"tcp", cfg.Server.TCPAddress,
		"http", cfg.Server.HTTPAddress,
		"ws", cfg.Server.WSAddress)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.TCPAddress != "" {
		srv := tcp.NewServer(cfg.Server.TCPAddress, manager, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.Server.HTTPAddress != "" {
		srv := httpapi.NewServer(cfg.Server.HTTPAddress, manager, cfg.IdleTimeout(), logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.Server.WSAddress != "" {
		srv := ws.NewServer(cfg.Server.WSAddress, manager, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return manager.RunIdleSweeper(gctx) })

	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Info("server stopped")
	return nil
}
