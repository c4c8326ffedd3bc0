// Command zann-server starts the Zann HTTP API server.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zann-project/zann/internal/access"
	"github.com/zann-project/zann/internal/config"
	pkgcrypto "github.com/zann-project/zann/internal/crypto"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/httpapi"
	"github.com/zann-project/zann/internal/limiter"
	"github.com/zann-project/zann/internal/migrate"
	"github.com/zann-project/zann/internal/repository/postgres"
	"github.com/zann-project/zann/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server.
// Exit codes follow spec.md §6: 2 for invalid configuration, 3 for a
// missing preflight secret, 1 for any other startup failure.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", zap.Error(err))
		var e *errs.Error
		if errors.As(err, &e) && e.Kind == errs.KindMasterKeyMissing {
			os.Exit(3)
		}
		os.Exit(2)
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Error("migrate up", zap.Error(err))
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		logger.Error("pgxpool.New", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	deviceRepo := postgres.NewDeviceRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	serviceAccountRepo := postgres.NewServiceAccountRepo(db)
	vaultRepo := postgres.NewVaultRepo(db)
	memberRepo := postgres.NewMemberRepo(db)
	itemRepo := postgres.NewItemRepo(db)

	lim := limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)

	passwordPepper := []byte(cfg.Secrets.PasswordPepper)
	tokenPepper := []byte(cfg.Secrets.TokenPepper)
	serviceAccountSign := []byte(cfg.Server.MasterKey)

	authSvc := service.NewAuthService(
		userRepo, deviceRepo, sessionRepo, serviceAccountRepo, lim,
		passwordPepper, tokenPepper, serviceAccountSign,
		cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL, cfg.Tokens.ServiceAccountTTL,
	)
	itemSvc := service.NewItemService(itemRepo, cfg.Retention.HistoryTail*2)
	accessEval := access.New(memberRepo, serviceAccountRepo)

	authenticator := httpapi.NewAuthenticator(sessionRepo, tokenPepper, serviceAccountSign, cfg.Server.TrustedProxies)

	fingerprint := pkgcrypto.ServerFingerprint(tokenPepper, []byte(cfg.Server.MasterKey))
	authMethods := []string{}
	if cfg.Auth.Mode == config.AuthModeInternal || cfg.Auth.Mode == config.AuthModeBoth {
		authMethods = append(authMethods, "internal")
	}
	if cfg.Auth.Mode == config.AuthModeOIDC || cfg.Auth.Mode == config.AuthModeBoth {
		authMethods = append(authMethods, "oidc")
	}

	var oidcVerifier *service.OIDCVerifier
	if cfg.Auth.Mode == config.AuthModeOIDC || cfg.Auth.Mode == config.AuthModeBoth {
		oidcCfg := service.OIDCConfig{
			Issuer: cfg.Auth.OIDCIssuer, Audience: cfg.Auth.OIDCAudience,
			JWKSURL: cfg.Auth.OIDCJWKSURL, JWKSFile: cfg.Auth.OIDCJWKSFile,
			AutoProvision: cfg.Auth.OIDCAutoProvision,
		}
		v, err := service.NewOIDCVerifier(ctx, oidcCfg, userRepo)
		if err != nil {
			logger.Error("oidc verifier setup", zap.Error(err))
			os.Exit(3)
		}
		oidcVerifier = v
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Log: logger, Auth: authSvc, Items: itemSvc, Access: accessEval,
		Vaults: vaultRepo, Members: memberRepo, Authenticator: authenticator,
		OIDC:         oidcVerifier,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		SystemInfo: httpapi.SystemInfo{
			ServerFingerprint: hex.EncodeToString(fingerprint),
			APIVersion:        "1",
			AuthMethods:       authMethods,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
