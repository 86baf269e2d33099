package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-seats/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/showtime-seats/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/showtime-seats/internal/adapters/redis"
	"github.com/robertarktes/showtime-seats/internal/booking"
	"github.com/robertarktes/showtime-seats/internal/config"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seats-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)

	svc := booking.NewService(repo, redisCache, redisCache, mongoadapter.NewCatalogRepository(mongoDB, logger),
		mongoadapter.NewAuditLogger(mongoDB, logger), booking.Options{HoldTTL: cfg.HoldTTL, Logger: logger})

	worker := NewExpiryWorker(svc, clock.New(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.ExpiryInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

type HoldExpirer interface {
	ExpireHolds(ctx context.Context, limit int) (int, error)
}

type ExpiryWorker struct {
	svc    HoldExpirer
	clock  clock.Clock
	logger observability.Logger
}

func NewExpiryWorker(svc HoldExpirer, clk clock.Clock, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{svc: svc, clock: clk, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := w.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("failed to expire holds after retries", err)
			}
		}
	}
}

// sweep drains every lapsed hold, one batch per transaction.
func (w *ExpiryWorker) sweep(ctx context.Context) error {
	for {
		n, err := w.expireWithRetry(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			w.logger.WithField("count", n).Info("expired holds")
		}
		if n < booking.DefaultExpiryBatch {
			return nil
		}
	}
}

func (w *ExpiryWorker) expireWithRetry(ctx context.Context) (int, error) {
	maxRetries := 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		n, err := w.svc.ExpireHolds(ctx, booking.DefaultExpiryBatch)
		if err == nil {
			return n, nil
		}
		lastErr = err
		w.logger.WithError(err).Warn("expire holds attempt failed")
		if i+1 == maxRetries {
			break
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.clock.After(backoff):
		}
	}
	return 0, errors.Wrapf(lastErr, "failed after %d retries", maxRetries)
}
