package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	watchapi "github.com/FlightHunter/FareWatch/internal/api/watch_api"
	"github.com/FlightHunter/FareWatch/internal/broker/messages"
	"github.com/FlightHunter/FareWatch/internal/services/billing"
	"github.com/FlightHunter/FareWatch/internal/services/watchlists"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type fareAPIOpts struct {
	httpAddr    string
	swaggerPath string

	billingTopic  string
	alertTopic    string
	consumerGroup string
	webhookSecret string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runFareAPI(ctx context.Context, opts fareAPIOpts, svc *watchlists.Service, billingSvc *billing.Service, producer watchapi.Producer, billingConsumer, alertConsumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	webhook := watchapi.NewBillingWebhook(opts.webhookSecret, producer, opts.billingTopic)
	if webhook == nil {
		slog.Warn("billing webhook secret not configured, webhook route disabled")
	}
	watchapi.New(svc, webhook).Routes(r)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	if billingConsumer != nil {
		go func() {
			slog.Info("billing consumer started", "topic", opts.billingTopic, "group", opts.consumerGroup)
			consumeLoop(ctx, billingConsumer, func(_key, value []byte) error {
				var m messages.BillingEvent
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				return billingSvc.Apply(ctx, m)
			})
		}()
	}

	if alertConsumer != nil {
		go func() {
			slog.Info("alert consumer started", "topic", opts.alertTopic, "group", opts.consumerGroup)
			consumeLoop(ctx, alertConsumer, func(_key, value []byte) error {
				var m messages.AlertDispatched
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				return svc.ApplyAlertDispatched(ctx, m)
			})
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

// consumeLoop перезапускает консьюмер после ошибки: упавший хендлер не
// должен навсегда останавливать обработку топика.
func consumeLoop(ctx context.Context, c kafkaConsumer, handler func(key, value []byte) error) {
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("kafka consume", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}
