package pgwatch

import (
	"context"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// InsertPriceCache always inserts a new row. The cache is an observation log:
// the same offer re-observed on a later fetch gets another row, deduplication
// of notifications lives in the alert ledger.
func (s *Storage) InsertPriceCache(ctx context.Context, watchlistID uint64, sum models.OfferSummary, now time.Time, ttl time.Duration) (*models.PriceCacheEntry, error) {
	expiresAt := now.UTC().Add(ttl)

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO price_cache (
  watchlist_id, offer_id, price, currency, airlines, stops, duration,
  offer_data, fetched_at, expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, watchlistID, sum.OfferID, sum.Price, sum.Currency, sum.Airlines, sum.Stops,
		sum.Duration, nullableJSON(sum.RawJSON), now.UTC(), expiresAt).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert price cache")
	}

	return &models.PriceCacheEntry{
		ID:          id,
		WatchlistID: watchlistID,
		OfferID:     sum.OfferID,
		Price:       sum.Price,
		Currency:    sum.Currency,
		Airlines:    sum.Airlines,
		Stops:       sum.Stops,
		Duration:    sum.Duration,
		OfferJSON:   sum.RawJSON,
		FetchedAt:   now.UTC(),
		ExpiresAt:   &expiresAt,
	}, nil
}

// SweepExpiredPrices deletes entries whose expires_at has passed. Repeated
// sweeps at the same instant delete nothing further.
func (s *Storage) SweepExpiredPrices(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM price_cache WHERE expires_at IS NOT NULL AND expires_at < $1`, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "sweep expired prices")
	}
	return tag.RowsAffected(), nil
}

func nullableJSON(s string) any {
	if s == "" {
		return nil
	}
	return s
}
