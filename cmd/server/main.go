// server runs the claim verification gRPC service and the ops/admin HTTP surface.
package main

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"company-claims/backend/internal/audit"
	auditrepo "company-claims/backend/internal/audit/repository"
	claimhandler "company-claims/backend/internal/claim/handler"
	claimrepo "company-claims/backend/internal/claim/repository"
	claimservice "company-claims/backend/internal/claim/service"
	companyrepo "company-claims/backend/internal/company/repository"
	"company-claims/backend/internal/config"
	"company-claims/backend/internal/db"
	"company-claims/backend/internal/devotp"
	"company-claims/backend/internal/events"
	healthcheck "company-claims/backend/internal/health"
	"company-claims/backend/internal/httpapi"
	"company-claims/backend/internal/logging"
	"company-claims/backend/internal/mail"
	otprepo "company-claims/backend/internal/otp/repository"
	otpservice "company-claims/backend/internal/otp/service"
	"company-claims/backend/internal/policy/engine"
	"company-claims/backend/internal/ratelimit"
	"company-claims/backend/internal/security"
	"company-claims/backend/internal/server"
	"company-claims/backend/internal/server/interceptors"
	"company-claims/backend/internal/telemetry/otel"
)

const (
	serviceName   = "company-claims"
	shutdownDrain = 10 * time.Second
	healthEvery   = 10 * time.Second
)

type stores struct {
	claims    claimrepo.Repository
	companies companyrepo.Repository
	otp       otprepo.Repository
	audit     auditrepo.Repository
	conn      *sql.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	providers, err := otel.Setup(ctx, otel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.conn != nil {
		defer st.conn.Close()
	}
	checker := healthcheck.NewChecker()
	if st.conn != nil {
		checker.AddPinger("database", st.conn)
	}

	limits := engine.Limits{
		MaxAttempts:    cfg.OTPMaxAttempts,
		MaxCodes:       cfg.OTPMaxCodes,
		ResendCooldown: cfg.ResendCooldown(),
	}
	policySrc, err := engine.LoadPolicyFile(cfg.ClaimPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, policySrc, limits, logger)
	if err != nil {
		return err
	}
	checker.AddPolicy("policy", policy)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, serviceName)
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	publisher, closeEvents, err := newPublisher(cfg, providers, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	var devCodes devotp.Store
	if cfg.OTPReturnToClient {
		devCodes = devotp.NewMemoryStore()
		logger.Warn("dev OTP mode enabled: codes are readable at /dev/claims/{id}/otp")
	}

	svc := claimservice.NewService(claimservice.Deps{
		Claims:    st.claims,
		Companies: st.companies,
		Codes:     otpservice.NewService(st.otp, cfg.CodeTTL(), cfg.OTPMaxAttempts),
		Policy:    policy,
		Mailer:    mail.NewDispatcher(cfg.MailFrom, newSender(cfg, logger)),
		Limiter:   limiter,
		Events:    publisher,
		DevCodes:  devCodes,
		Logger:    logger,
	})

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		return err
	}
	if tokens == nil {
		logger.Warn("JWT_PUBLIC_KEY not set: every claim RPC will be rejected as unauthenticated")
	}
	auditLogger := audit.NewLogger(st.audit, interceptors.ClientIP, logger)

	hs := health.NewServer()
	grpcServer := server.NewGRPCServer(server.Options{Tokens: tokens, Audit: auditLogger, Logger: logger})
	server.RegisterServices(grpcServer, server.Deps{Claims: svc, Health: hs})
	go healthcheck.Watch(ctx, checker, hs, healthEvery, logger, claimhandler.ServiceName)

	router := httpapi.Deps{
		Claims:    svc,
		Health:    checker,
		AdminKeys: security.NewAPIKeyChecker(cfg.AdminAPIKeyHash),
		Audit:     auditLogger,
		Logger:    logger,
	}
	if devCodes != nil {
		router.DevOTP = devotp.Handler(devCodes)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down")
	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	_ = httpServer.Shutdown(sctx)
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-sctx.Done():
		grpcServer.Stop()
	}
	logger.Info("server stopped")
	return serveErr
}

// openStores connects to Postgres, or falls back to in-memory stores seeded with the
// sample companies when DATABASE_URL is empty.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set: using in-memory stores")
		return &stores{
			claims:    claimrepo.NewMemoryRepository(),
			companies: companyrepo.NewMemoryRepository(companyrepo.SampleCompanies()...),
			otp:       otprepo.NewMemoryRepository(),
			audit:     auditrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{
		claims:    claimrepo.NewPostgresRepository(conn),
		companies: companyrepo.NewPostgresRepository(conn),
		otp:       otprepo.NewPostgresRepository(conn),
		audit:     auditrepo.NewPostgresRepository(conn),
		conn:      conn,
	}, nil
}

// newPublisher fans events out to Kafka (when configured) and OTel, off the request path.
func newPublisher(cfg *config.Config, providers *otel.Providers, logger *zap.Logger) (events.Publisher, func(), error) {
	var sinks events.Multi
	var kp *events.KafkaPublisher
	if kp = events.NewKafkaPublisher(cfg.KafkaBrokersList(), cfg.ClaimEventsTopic); kp != nil {
		sinks = append(sinks, kp)
	}
	op, err := events.NewOTelPublisher(providers.LoggerProvider, providers.MeterProvider)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, op)
	async := &events.Async{Next: sinks, Logger: logger}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), events.ShutdownDrainDuration)
		defer cancel()
		if err := async.Wait(ctx); err != nil {
			logger.Warn("claim events not drained before shutdown", zap.Error(err))
		}
		if kp != nil {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka writer close", zap.Error(err))
			}
		}
	}
	return async, closeFn, nil
}

func newSender(cfg *config.Config, logger *zap.Logger) mail.Sender {
	switch cfg.MailDriver {
	case "smtp":
		return mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	case "http":
		return mail.NewHTTPSender(cfg.MailHTTPURL, cfg.MailHTTPAPIKey)
	default:
		return mail.LogSender{Logger: logger}
	}
}

// newTokenProvider returns nil when no key is configured.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPublicKey == "" && cfg.JWTPrivateKey == "" {
		return nil, nil
	}
	var priv crypto.Signer
	if cfg.JWTPrivateKey != "" && !cfg.IsProduction() {
		k, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, err
		}
		priv = k
	}
	var pub crypto.PublicKey
	if cfg.JWTPublicKey != "" {
		k, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		pub = k
	}
	if pub == nil && priv == nil {
		return nil, nil
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, 0), nil
}
