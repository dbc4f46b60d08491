package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FlightHunter/FareWatch/config"
	"github.com/FlightHunter/FareWatch/internal/broker/kafka"
	"github.com/FlightHunter/FareWatch/internal/cache/rediscache"
	"github.com/FlightHunter/FareWatch/internal/services/billing"
	"github.com/FlightHunter/FareWatch/internal/services/watchlists"
	"github.com/FlightHunter/FareWatch/internal/storage/pgwatch"
)

type fareAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   fareAPIOpts

	svc        *watchlists.Service
	billingSvc *billing.Service
	producer   *kafka.Producer

	billingConsumer *kafka.Consumer
	alertConsumer   *kafka.Consumer
	closeDB         func()
}

func mustBootstrapFareAPI() *fareAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = "docs/swagger.json"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		panic(fmt.Sprintf("ошибка чтения секретов, %v", err))
	}

	httpAddr := cfg.FareWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.FareWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "fare-api"
	}
	billingTopic := cfg.Kafka.BillingEventsTopicName
	if billingTopic == "" {
		billingTopic = "billing.events"
	}
	alertTopic := cfg.Kafka.AlertDispatchedTopicName
	if alertTopic == "" {
		alertTopic = "alerts.dispatched"
	}

	listTTL := time.Duration(cfg.FareWatch.WatchlistsTTLSeconds) * time.Second
	if listTTL <= 0 {
		listTTL = 5 * time.Minute
	}
	lastAlertTTL := time.Duration(cfg.FareWatch.LastAlertTTLSeconds) * time.Second
	if lastAlertTTL <= 0 {
		lastAlertTTL = 24 * time.Hour
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	svc := watchlists.New(st, rc, listTTL, lastAlertTTL)
	billingSvc := billing.New(st)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	billingConsumer := kafka.NewConsumer(brokers, billingTopic, consumerGroup+"-billing")
	alertConsumer := kafka.NewConsumer(brokers, alertTopic, consumerGroup+"-alerts")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fareAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fareAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			billingTopic:  billingTopic,
			alertTopic:    alertTopic,
			consumerGroup: consumerGroup,
			webhookSecret: secrets.StripeWebhookSecret,
		},
		svc:             svc,
		billingSvc:      billingSvc,
		producer:        producer,
		billingConsumer: billingConsumer,
		alertConsumer:   alertConsumer,
		closeDB:         st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgwatch.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgwatch.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *fareAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.billingConsumer != nil {
		_ = a.billingConsumer.Close()
	}
	if a.alertConsumer != nil {
		_ = a.alertConsumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *fareAPIApp) Run() error {
	return runFareAPI(a.ctx, a.opts, a.svc, a.billingSvc, a.producer, a.billingConsumer, a.alertConsumer)
}
