// Worker purges dead OTP challenges on SWEEP_INTERVAL and, when KAFKA_BROKERS and LOKI_URL
// are set, forwards claim events from Kafka to Loki.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"company-claims/backend/internal/config"
	"company-claims/backend/internal/db"
	"company-claims/backend/internal/logging"
	otprepo "company-claims/backend/internal/otp/repository"
	otpservice "company-claims/backend/internal/otp/service"
	"company-claims/backend/internal/telemetry/loki"
)

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

	var wg sync.WaitGroup
	started := 0

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open", zap.Error(err))
		}
		defer conn.Close()
		codes := otpservice.NewService(otprepo.NewPostgresRepository(conn), cfg.CodeTTL(), cfg.OTPMaxAttempts)
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweep(ctx, codes, cfg.SweepEvery(), cfg.Retention(), logger)
		}()
	} else {
		logger.Info("DATABASE_URL not set: challenge purge disabled")
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		client, err := loki.NewClient(cfg.LokiURL, nil)
		if err != nil {
			logger.Fatal("loki client", zap.Error(err))
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.ClaimEventsTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, reader, client, logger)
		}()
	} else {
		logger.Info("KAFKA_BROKERS or LOKI_URL not set: event forwarding disabled")
	}

	if started == 0 {
		logger.Fatal("worker has nothing to do: set DATABASE_URL and/or KAFKA_BROKERS with LOKI_URL")
	}
	wg.Wait()
	logger.Info("worker stopped")
}

// sweep deletes challenges whose expiry is older than retention, once per interval.
func sweep(ctx context.Context, codes *otpservice.Service, every, retention time.Duration, logger *zap.Logger) {
	logger.Info("challenge purge started", zap.Duration("interval", every), zap.Duration("retention", retention))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := codes.Purge(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("challenge purge failed", zap.Error(err))
		case n > 0:
			logger.Info("purged challenges", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func forward(ctx context.Context, reader *kafka.Reader, client *loki.Client, logger *zap.Logger) {
	cfg := reader.Config()
	logger.Info("forwarding claim events to loki", zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID))
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read", zap.Error(err))
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("loki push", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
		cancel()
	}
}
