package main

import (
	"context"
	"fmt"
	"time"

	"github.com/FlightHunter/FareWatch/config"
	"github.com/FlightHunter/FareWatch/internal/broker/kafka"
	"github.com/FlightHunter/FareWatch/internal/cache/rediscache"
	"github.com/FlightHunter/FareWatch/internal/integrations/flights"
	"github.com/FlightHunter/FareWatch/internal/integrations/flights/amadeusv2"
	"github.com/FlightHunter/FareWatch/internal/integrations/flights/synthetic"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/FlightHunter/FareWatch/internal/notify"
	"github.com/FlightHunter/FareWatch/internal/services/monitor"
	"github.com/FlightHunter/FareWatch/internal/storage/pgwatch"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo monitor.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) monitor.Producer
	newRateLimiter   func(cfg *config.Config) monitor.RateLimiter
	newFlightsClient func(cfg *config.Config, secrets *config.Secrets) flights.Client
	newNotifier      func(secrets *config.Secrets) monitor.Notifier
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (monitor.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgwatch.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) monitor.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) monitor.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newFlightsClient: func(cfg *config.Config, secrets *config.Secrets) flights.Client {
			// Без креденшелов клиент сам деградирует в синтетику, так что
			// конструируем его всегда одинаково.
			return amadeusv2.New(cfg.FareWatch.AmadeusBaseURL,
				secrets.AmadeusClientID, secrets.AmadeusClientSecret, synthetic.New())
		},
		newNotifier: func(secrets *config.Secrets) monitor.Notifier {
			return notify.NewDispatcher().
				Register(models.ChannelEmail, notify.NewEmailSender(secrets.SendGridAPIKey, secrets.SendGridFromEmail)).
				Register(models.ChannelTelegram, notify.NewTelegramSender(secrets.TelegramBotToken))
		},
	}
}

func newEngine(cfg *config.Config, secrets *config.Secrets, f workerFactories) (*monitor.Engine, func(), error) {
	topic := cfg.Kafka.AlertDispatchedTopicName
	if topic == "" {
		topic = "alerts.dispatched"
	}

	sweepInterval := time.Duration(cfg.FareWatch.WorkerSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	cleanupInterval := time.Duration(cfg.FareWatch.WorkerCleanupIntervalSeconds) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = 1 * time.Hour
	}
	concurrency := cfg.FareWatch.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	dedupWindow := time.Duration(cfg.FareWatch.DedupWindowHours) * time.Hour
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	cacheTTL := time.Duration(cfg.FareWatch.PriceCacheTTLHours) * time.Hour
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	rlPerMin := int64(cfg.FareWatch.WorkerSearchRateLimitPerMin)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	e := monitor.New(repo, f.newFlightsClient(cfg, secrets), f.newNotifier(secrets),
		f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(sweepInterval, cleanupInterval, concurrency, dedupWindow, cacheTTL, rlPerMin)
	return e, closeFn, nil
}

func RunFareWorker(ctx context.Context, cfg *config.Config, secrets *config.Secrets, f workerFactories, swaggerPath string) error {
	e, closeFn, err := newEngine(cfg, secrets, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.FareWatch.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			engine:      e,
			cfg:         cfg,
		})
	}()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- e.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-engineErr:
		return err
	case err := <-httpErr:
		return err
	}
}
