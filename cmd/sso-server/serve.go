package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/internal/config"
	"github.com/smnsjas/go-negotiate/internal/listener"
	logpkg "github.com/smnsjas/go-negotiate/internal/log"
	"github.com/smnsjas/go-negotiate/session"
	"github.com/smnsjas/go-negotiate/sso"
)

var (
	flagAddr     string
	flagKeytab   string
	flagRedis    string
	flagLogLevel string
	flagLogFile  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SSO server",
	Long: `Starts the HTTP server. Routes:

  GET  /healthz   liveness, unauthenticated
  GET  /whoami    authenticated identity as JSON
  POST /logout    drops the cached identity`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, closer, err := logpkg.New(logpkg.Config{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON})
		if err != nil {
			return err
		}
		defer closer.Close()
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address: host:port, pipe:<name> or hvsock:<guid> (SSO_ADDR)")
	serveCmd.Flags().StringVar(&flagKeytab, "keytab", "", "Service keytab for Kerberos where SSPI is unavailable (SSO_KEYTAB)")
	serveCmd.Flags().StringVar(&flagRedis, "redis", "", "Redis address for the identity cache (SSO_REDIS_ADDR)")
	serveCmd.Flags().StringVar(&flagLogLevel, "loglevel", "", "Log level: debug, info, warn, error (SSO_LOG_LEVEL)")
	serveCmd.Flags().StringVar(&flagLogFile, "logfile", "", "Log file, rotated by size (SSO_LOG_FILE)")
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Addr = flagAddr
	}
	if cmd.Flags().Changed("keytab") {
		cfg.Keytab = flagKeytab
	}
	if cmd.Flags().Changed("redis") {
		cfg.RedisAddr = flagRedis
	}
	if cmd.Flags().Changed("loglevel") {
		cfg.LogLevel = flagLogLevel
	}
	if cmd.Flags().Changed("logfile") {
		cfg.LogFile = flagLogFile
	}
}

// newAcceptor prefers SSPI and falls back to the keytab Kerberos acceptor
// where SSPI is not available.
func newAcceptor(cfg *config.Config, logger *slog.Logger) (auth.Acceptor, error) {
	acceptor, err := auth.NewSSPIAcceptor(auth.SSPIConfig{PrincipalName: cfg.Principal})
	if err == nil {
		return acceptor, nil
	}
	if !errors.Is(err, auth.ErrNotSupported) {
		return nil, err
	}
	if cfg.Keytab == "" {
		return nil, &auth.ConfigurationError{Field: "SSO_KEYTAB", Reason: "a service keytab is required without SSPI"}
	}
	logger.Info("SSPI unavailable, using keytab Kerberos acceptor", "keytab", cfg.Keytab, "principal", cfg.Principal)
	return auth.NewKerberosAcceptor(auth.KerberosAcceptorConfig{
		KeytabPath:    cfg.Keytab,
		PrincipalName: cfg.Principal,
	})
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	acceptor, err := newAcceptor(cfg, logger)
	if err != nil {
		return err
	}

	cache, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	options := []sso.Option{sso.WithCache(cache), sso.WithLogger(logger)}
	if cfg.UseSession() {
		store, err := session.NewSecureCookieStore[*sso.Object](cfg.HashKey, cfg.BlockKey, session.CookieConfig{
			MaxAge: cfg.CookieTTL,
			Secure: cfg.CookieSecure,
		})
		if err != nil {
			return &auth.ConfigurationError{Field: "SSO_HASH_KEY", Reason: err.Error()}
		}
		options = append(options, sso.WithStore(store))
	}

	mw, err := sso.New(acceptor, cfg.Options(), options...)
	if err != nil {
		return err
	}
	defer mw.Close()

	l, addr, err := listener.Listen(ctx, cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           newRouter(mw, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("SSO server listening", "addr", addr.String(), "network", addr.Network)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down SSO server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newCache returns the Redis cache when an address is configured, otherwise
// the in-memory cache.
func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Cache[*sso.Identity], func(), error) {
	if cfg.RedisAddr == "" {
		c, err := session.NewMemoryCache[*sso.Identity](cfg.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using in-memory identity cache", "size", cfg.CacheSize)
		return c, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using Redis identity cache", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
	cache := session.NewBreakerCache[*sso.Identity](session.NewRedisCache[*sso.Identity](rdb, cfg.RedisPrefix), session.BreakerPolicy{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerReset,
		OnStateChange:    session.LogStateChanges(logger),
	})
	return cache, closeFn, nil
}
