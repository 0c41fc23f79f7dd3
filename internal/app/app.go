package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/codesync/internal/bus/redisbus"
	"github.com/vovakirdan/codesync/internal/config"
	"github.com/vovakirdan/codesync/internal/core"
	transporthttp "github.com/vovakirdan/codesync/internal/transport/http"
	"github.com/vovakirdan/codesync/internal/utils"
)

const redisPingTimeout = 5 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	nodeID := utils.NewID()

	var (
		bus         core.Bus
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}

		bus = redisbus.New(redisClient, cfg.Redis.Channel, logger)
		logger.Info().Str("redis_addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("cross-instance bus enabled")
	}

	hub := core.NewHub(core.NewRoomStore(), bus, core.HubConfig{
		RequireJoin:  cfg.RequireJoin,
		PingInterval: cfg.PingInterval,
		NodeID:       nodeID,
	}, logger)
	server := transporthttp.NewServer(hub, cfg, logger)

	logger.Info().
		Str("node_id", nodeID).
		Bool("require_join", cfg.RequireJoin).
		Bool("jwt_required", cfg.JWTRequired).
		Dur("ping_interval", cfg.PingInterval).
		Msg("relay configured")

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		redis:           redisClient,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the redis client and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		} else {
			a.log.Info().Msg("redis client closed")
		}
	}
}
