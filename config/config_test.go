package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  billing_events_topic_name: "billing.events"
  alert_dispatched_topic_name: "alerts.dispatched"
redis:
  host: "localhost"
  port: 6379
farewatch:
  http_addr: ":8080"
  kafka_consumer_group: "fare-api"
  watchlists_ttl_seconds: 600
  dedup_window_hours: 24
  price_cache_ttl_hours: 24
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "billing.events", cfg.Kafka.BillingEventsTopicName)
	require.Equal(t, "alerts.dispatched", cfg.Kafka.AlertDispatchedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.FareWatch.HTTPAddr)
	require.Equal(t, 24, cfg.FareWatch.DedupWindowHours)
}

func TestLoadSecrets_EnvOverrides(t *testing.T) {
	t.Setenv("AMADEUS_CLIENT_ID", "id-123")
	t.Setenv("SENDGRID_API_KEY", "sg-key")

	s, err := LoadSecrets()
	require.NoError(t, err)
	require.Equal(t, "id-123", s.AmadeusClientID)
	require.Equal(t, "sg-key", s.SendGridAPIKey)
	// default applies when unset
	require.NotEmpty(t, s.SendGridFromEmail)
}
