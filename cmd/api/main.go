package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"adops.io/internal/adops"
	"adops.io/internal/auth"
	"adops.io/internal/config"
	"adops.io/internal/httpapi"
	"adops.io/internal/migrate"
	"adops.io/internal/obs"
	"adops.io/internal/privacy"
	"adops.io/internal/store/mem"
	"adops.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is everything the services need from storage.
type backend interface {
	auth.IdentityStore
	auth.RefreshTokenStore
	auth.CredentialStore
	auth.AdminStore
	adops.Store
}

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("adops-api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger.Info("starting adops-api", zap.String("version", version), zap.Stringer("config", cfg))

	st, probe, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	policy := cfg.AdminPolicy()
	tokens, err := auth.NewTokenService(st, cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret,
		auth.WithAccessTTL(cfg.Tokens.AccessTTL),
		auth.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		return err
	}
	resolver, err := auth.NewIdentityResolver(st)
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(tokens, resolver)
	if err != nil {
		return err
	}
	login, err := auth.NewLoginService(st, resolver, tokens)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(st, st, policy)
	if err != nil {
		return err
	}
	ads, err := adops.NewService(st, privacy.NewPolicy(policy))
	if err != nil {
		return err
	}

	trusted, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}
	api, err := httpapi.New(httpapi.Deps{
		Authenticator:  authn,
		Login:          login,
		RBAC:           rbac,
		Ads:            ads,
		Ready:          probe,
		Logger:         logger,
		Version:        version,
		Development:    cfg.Development(),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateBurst:      cfg.Limits.RateBurst,
		RatePerSec:     cfg.Limits.RatePerSecond,
		TrustedProxies: trusted,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return err
		}
		grpcSrv = httpapi.NewGRPCServer(authn, probe, logger)
		grpcSrv.CheckReadiness(ctx)
		go watchReadiness(ctx, grpcSrv)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Address))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	// graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func watchReadiness(ctx context.Context, s *httpapi.GRPCServer) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckReadiness(ctx)
		}
	}
}

// openStore selects PostgreSQL when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, httpapi.ReadyProbe, func(), error) {
	var hash string
	if cfg.Bootstrap.AdminPassword != "" {
		h, err := auth.HashPassword(cfg.Bootstrap.AdminPassword)
		if err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		hash = h
	}

	if cfg.DB.URL == "" {
		logger.Warn("DATABASE_URL is empty, using in-memory store")
		st := mem.New()
		username := ""
		if hash != "" {
			username = cfg.Bootstrap.AdminUsername
		}
		if err := st.Seed(ctx, username, hash); err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		return st, httpapi.ReadyProbe{}, func() {}, nil
	}

	st, err := pg.Open(cfg.DB.URL, cfg.DB.MaxOpenConns)
	if err != nil {
		return nil, httpapi.ReadyProbe{}, nil, err
	}
	closeFn := func() {
		if err := st.Close(); err != nil {
			logger.Warn("close db", zap.Error(err))
		}
	}
	if cfg.DB.AutoMigrate {
		mgr := migrate.NewManager(st.DB())
		applied, err := mgr.Up(ctx)
		if err != nil {
			closeFn()
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		seeded, err := mgr.Seed(ctx)
		if err != nil {
			closeFn()
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		logger.Info("schema up to date", zap.Strings("migrations", applied), zap.Strings("seeds", seeded))
	}
	if hash != "" {
		created, err := st.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.AdminUsername, hash)
		if err != nil {
			closeFn()
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("username", cfg.Bootstrap.AdminUsername))
		}
	}
	return st, httpapi.ReadyProbe{Ping: st.Ping}, closeFn, nil
}
