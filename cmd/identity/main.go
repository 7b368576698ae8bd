package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/keystonehq/identity/internal/adapter/cache"
	"github.com/keystonehq/identity/internal/bootstrap"
	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/cors"
	httptransport "github.com/keystonehq/identity/internal/http"
	"github.com/keystonehq/identity/internal/http/handler"
	httpmiddleware "github.com/keystonehq/identity/internal/http/middleware"
	"github.com/keystonehq/identity/internal/mail"
	apimiddleware "github.com/keystonehq/identity/internal/middleware"
	"github.com/keystonehq/identity/internal/password"
	"github.com/keystonehq/identity/internal/repository"
	"github.com/keystonehq/identity/internal/server"
	"github.com/keystonehq/identity/internal/service"
	"github.com/keystonehq/identity/internal/telemetry"
	"github.com/keystonehq/identity/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newRefreshTokenRepository,
			newOriginRepository,
			newAuditLogRepository,
			newMfaStateStore,
			newTokenCodec,
			newPasswordHasher,
			newMailer,
			newRateLimiter,
			newOriginCache,
			service.NewAuthService,
			service.NewUserService,
			handler.NewAuthHandler,
			handler.NewUserHandler,
			handler.NewCorsHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, warmOriginCache, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newRefreshTokenRepository(pool *pgxpool.Pool) repository.RefreshTokenRepository {
	return repository.NewPostgresRefreshTokenRepo(pool)
}

func newOriginRepository(pool *pgxpool.Pool) repository.OriginRepository {
	return repository.NewPostgresOriginRepo(pool)
}

func newAuditLogRepository(pool *pgxpool.Pool) repository.AuditLogRepository {
	return repository.NewPostgresAuditLogRepo(pool)
}

// newMfaStateStore prefers Redis; with REDIS_ADDR explicitly blank it
// falls back to the in-process store.
func newMfaStateStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.MfaStateStore, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis not configured, using in-memory mfa state store")
		return cacheadapter.NewMemoryMfaStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisMfaStore(client), nil
}

func newTokenCodec(cfg config.Config) *token.Codec {
	return token.NewCodec(cfg.AppName, cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

func newPasswordHasher(cfg config.Config) *password.Hasher {
	return password.NewHasher(cfg.BcryptCost)
}

func newMailer(cfg config.Config, logger *zap.Logger) mail.Dispatcher {
	return mail.NewSMTPDispatcher(cfg)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxRequests)
}

func newOriginCache(repo repository.OriginRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *cors.Cache {
	return cors.NewCache(repo, node, logger, cfg.IsDevelopment())
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

// warmOriginCache loads the origin allow-list before the server accepts traffic.
func warmOriginCache(lc fx.Lifecycle, cache *cors.Cache) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return cache.Refresh(ctx)
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
