// Command adminapi serves the admin dashboard auth API.
//
//	adminapi --store fs --data-dir ./data --seed-email ops@example.com --seed-password secret123
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	oa "github.com/panyam/adminauth"
	authgrpc "github.com/panyam/adminauth/grpc"
)

type options struct {
	Addr     string `long:"addr" env:"ADMINAPI_ADDR" default:":5000" description:"HTTP listen address"`
	GRPCAddr string `long:"grpc-addr" env:"ADMINAPI_GRPC_ADDR" description:"gRPC listen address (disabled when empty)"`

	Store         string `long:"store" env:"ADMINAPI_STORE" default:"memory" choice:"memory" choice:"fs" choice:"gorm" choice:"datastore" description:"admin and token store"`
	DataDir       string `long:"data-dir" env:"ADMINAPI_DATA_DIR" default:"./data" description:"directory for the fs store"`
	DSN           string `long:"dsn" env:"ADMINAPI_DSN" default:"adminauth.db" description:"SQLite DSN for the gorm store"`
	GCPProject    string `long:"gcp-project" env:"DATASTORE_PROJECT_ID" description:"Cloud Datastore project"`
	GCPNamespace  string `long:"gcp-namespace" env:"ADMINAPI_DATASTORE_NAMESPACE" description:"Cloud Datastore namespace"`
	JWTSecret     string `long:"jwt-secret" env:"ADMINAUTH_JWT_SECRET_KEY" description:"HMAC key for access tokens"`
	JWTIssuer     string `long:"jwt-issuer" env:"ADMINAPI_JWT_ISSUER" description:"iss claim for access tokens"`
	AccessTTL     time.Duration `long:"access-ttl" default:"15m" description:"access token lifetime"`
	RefreshTTL    time.Duration `long:"refresh-ttl" default:"168h" description:"refresh token lifetime"`
	RememberTTL   time.Duration `long:"remember-ttl" default:"720h" description:"refresh token lifetime with remember me"`
	LoginBurst    int           `long:"login-burst" default:"5" description:"login attempts allowed per IP and email before throttling"`
	LoginInterval time.Duration `long:"login-interval" default:"1m" description:"interval at which throttled login attempts refill"`
	CleanupEvery  time.Duration `long:"cleanup-every" default:"1h" description:"interval between expired token sweeps"`

	SeedEmail    string `long:"seed-email" env:"ADMINAPI_SEED_EMAIL" description:"create this admin on startup if missing"`
	SeedPassword string `long:"seed-password" env:"ADMINAPI_SEED_PASSWORD" description:"password for the seeded admin"`
	SeedName     string `long:"seed-name" default:"Administrator" description:"name for the seeded admin"`

	LogLevel string `long:"log-level" env:"ADMINAPI_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &opts, logger); err != nil {
		logger.Error("adminapi failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	stores, err := openStores(ctx, opts)
	if err != nil {
		return err
	}
	defer stores.close()

	if opts.SeedEmail != "" {
		if err := seedAdmin(stores.admins, opts); err != nil {
			return err
		}
	}

	auth := &oa.APIAuth{
		AdminStore:         stores.admins,
		RefreshTokenStore:  stores.tokens,
		JWTSecretKey:       opts.JWTSecret,
		JWTIssuer:          opts.JWTIssuer,
		AccessTokenExpiry:  opts.AccessTTL,
		RefreshTokenExpiry: opts.RefreshTTL,
		RememberMeExpiry:   opts.RememberTTL,
		RateLimiter:        oa.NewKeyedRateLimiter(opts.LoginInterval, opts.LoginBurst),
		Logger:             logger,
		OnLoginFailure: func(email string, r *http.Request, err error) {
			logger.Warn("admin login failed", "email", email, "remote", r.RemoteAddr, "error", err)
		},
	}

	router := oa.NewRouter(oa.RouterConfig{Auth: auth, Logger: logger})
	registerDashboardRoutes(router)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("admin API listening", "addr", opts.Addr, "store", opts.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var gs *grpc.Server
	if opts.GRPCAddr != "" {
		gs, err = serveGRPC(opts.GRPCAddr, auth, logger, errc)
		if err != nil {
			return err
		}
	}

	go sweepTokens(ctx, stores.tokens, opts.CleanupEvery, logger)

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	return srv.Shutdown(shutdownCtx)
}

// serveGRPC exposes the health service behind the admin auth interceptors.
// Check is public; Watch needs an access token.
func serveGRPC(addr string, auth *oa.APIAuth, logger *slog.Logger, errc chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	config := authgrpc.NewPublicMethodsConfig(auth.VerifyTokenFunc(), healthpb.Health_Check_FullMethodName)
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(config)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(config)),
	)
	healthpb.RegisterHealthServer(gs, health.NewServer())

	go func() {
		logger.Info("admin gRPC listening", "addr", addr)
		if err := gs.Serve(lis); err != nil {
			errc <- err
		}
	}()
	return gs, nil
}

func sweepTokens(ctx context.Context, tokens oa.RefreshTokenStore, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tokens.CleanupExpiredTokens(); err != nil {
				logger.Warn("token cleanup failed", "error", err)
			}
		}
	}
}

func seedAdmin(admins oa.AdminStore, opts *options) error {
	if _, err := admins.GetAdminByEmail(opts.SeedEmail); err == nil {
		return nil
	}
	create := oa.NewCreateAdminFunc(admins, nil)
	_, err := create(&oa.AdminCredentials{
		Email:    opts.SeedEmail,
		Name:     opts.SeedName,
		Role:     "owner",
		Password: opts.SeedPassword,
		Scopes:   oa.AllBuiltinScopes(),
	})
	if errors.Is(err, oa.ErrAdminExists) {
		return nil
	}
	return err
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
