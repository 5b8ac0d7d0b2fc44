// README: Entry point; loads config, wires the booking engine, dispatch and HTTP server under one errgroup.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ridebook/internal/config"
	httptransport "ridebook/internal/http"
	"ridebook/internal/http/handlers"
	"ridebook/internal/infra"
	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/dispatch"
	"ridebook/internal/modules/matching"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := infra.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ridebook-api stopped", zap.Error(err))
	}
	logger.Info("ridebook-api stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	durable, closeDurable, err := newDurable(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDurable()

	redisOpts := infra.RedisOptions{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

	var (
		pool     matching.Pool = matching.NewStaticPool(matching.DefaultDrivers)
		registry handlers.DriverRegistry
	)
	if cfg.DriverPool.Source == "redis" {
		rdb := infra.NewRedis(redisOpts)
		defer rdb.Close()
		driverStore, err := newDriverStore(ctx, rdb)
		if err != nil {
			return err
		}
		pool, registry = driverStore, driverStore
	}

	store := booking.NewStore(durable)
	svc := booking.NewService(store, pool, matching.RandomSelector{}, logger.Named("booking"))

	if len(cfg.Kafka.Brokers) > 0 {
		writer := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		svc.Subscribe(booking.NewKafkaPublisher(writer, logger.Named("kafka")).Listen)
	}

	g, gctx := errgroup.WithContext(ctx)

	opts := dispatch.Options{Window: cfg.Dispatch.Window, MaxAttempts: cfg.Dispatch.MaxAttempts}
	dispatchLog := logger.Named("dispatch")
	var arming dispatch.Arming
	switch cfg.Dispatch.Mode {
	case "queue":
		redisOpt := redisOpts.AsynqOpt()
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		inspector := asynq.NewInspector(redisOpt)
		defer inspector.Close()
		arming = dispatch.NewQueueScheduler(client, inspector, opts, dispatchLog)

		worker := infra.NewQueueServer(redisOpt, cfg.Dispatch.Window, logger)
		mux := dispatch.NewServeMux(dispatch.NewHandler(svc, dispatchLog))
		g.Go(func() error {
			if err := worker.Start(mux); err != nil {
				return fmt.Errorf("dispatch worker: %w", err)
			}
			<-gctx.Done()
			worker.Shutdown()
			return nil
		})
	default:
		scheduler := dispatch.NewScheduler(svc, opts, dispatchLog)
		defer scheduler.Stop()
		arming = scheduler
	}
	detach := dispatch.Attach(svc, arming)
	defer detach()

	reconciler := dispatch.NewReconciler(store, arming, cfg.Dispatch.Window, cfg.Dispatch.SweepInterval, dispatchLog)
	g.Go(func() error { return reconciler.Run(gctx) })

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Booking:  svc,
		Drivers:  registry,
		Verifier: verifier,
		Log:      logger.Named("http"),
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, logger)
	g.Go(func() error { return server.Run(gctx) })

	logger.Info("ridebook-api started",
		zap.String("store", cfg.Store.Backend),
		zap.String("driverpool", cfg.DriverPool.Source),
		zap.String("dispatch", cfg.Dispatch.Mode),
		zap.Duration("window", cfg.Dispatch.Window),
	)
	return g.Wait()
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "jwt" {
		return infra.NewJWTVerifier(cfg.JWT.Secret), nil
	}
	if cfg.Firebase.ProjectID == "" {
		return nil, fmt.Errorf("RIDEBOOK_FIREBASE_PROJECT_ID is required when auth.mode is firebase")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return verifier, nil
}

func newDurable(ctx context.Context, cfg config.Config) (booking.Durable, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return booking.NewMemoryDurable(), func() {}, nil
	case "mongo":
		client, err := infra.NewMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		d := booking.NewMongoDurable(client.Database(cfg.Mongo.Database))
		if err := d.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return d, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, err
		}
		return booking.NewPostgresDurable(db), db.Close, nil
	}
}

// newDriverStore seeds an empty Redis pool with the demo drivers.
func newDriverStore(ctx context.Context, rdb *redis.Client) (*matching.Store, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := matching.NewStore(rdb)
	if err := s.Seed(ctx, matching.DefaultDrivers); err != nil {
		return nil, fmt.Errorf("seed driver pool: %w", err)
	}
	return s, nil
}
