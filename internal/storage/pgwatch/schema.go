package pgwatch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  plan TEXT NOT NULL DEFAULT 'FREE',
  stripe_customer_id TEXT NULL,
  tg_chat_id TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id)`,
		`
CREATE TABLE IF NOT EXISTS watchlist (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  origin TEXT NOT NULL,
  destination TEXT NOT NULL,
  date_from DATE NOT NULL,
  date_to DATE NOT NULL,
  flex_days INT NOT NULL DEFAULT 0,
  price_target DOUBLE PRECISION NOT NULL CHECK (price_target > 0),
  pax INT NOT NULL DEFAULT 1,
  cabin_class TEXT NOT NULL DEFAULT 'ECONOMY',
  channel TEXT NOT NULL,
  tg_chat_id TEXT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_user_id ON watchlist(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_is_active ON watchlist(is_active)`,
		`
CREATE TABLE IF NOT EXISTS price_cache (
  id BIGSERIAL PRIMARY KEY,
  watchlist_id BIGINT NOT NULL REFERENCES watchlist(id) ON DELETE CASCADE,
  offer_id TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL CHECK (price > 0),
  currency TEXT NOT NULL DEFAULT 'BRL',
  airlines TEXT NOT NULL DEFAULT '',
  stops INT NOT NULL DEFAULT 0,
  duration TEXT NOT NULL DEFAULT '',
  offer_data JSONB NULL,
  fetched_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NULL
)`,
		// offer_id намеренно не уникален: одно и то же предложение может
		// повторяться между фетчами, кэш — журнал наблюдений.
		`CREATE INDEX IF NOT EXISTS idx_price_cache_offer_id ON price_cache(offer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_price_cache_watchlist_id ON price_cache(watchlist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_price_cache_expires_at ON price_cache(expires_at)`,
		`
CREATE TABLE IF NOT EXISTS alerts (
  id BIGSERIAL PRIMARY KEY,
  watchlist_id BIGINT NOT NULL REFERENCES watchlist(id) ON DELETE CASCADE,
  price_cache_id BIGINT NOT NULL REFERENCES price_cache(id) ON DELETE CASCADE,
  price DOUBLE PRECISION NOT NULL,
  currency TEXT NOT NULL DEFAULT 'BRL',
  channel TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  sent_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  error_message TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_watchlist_created ON alerts(watchlist_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
