package pgwatch

import (
	"context"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// RecentSentAlertExists is the deduplication gate: true iff a SENT alert for
// this (watchlist, offer) pair was created within the trailing window. It
// keys on offer_id, not price, so a further price drop on the same offer is
// still suppressed inside the window.
func (s *Storage) RecentSentAlertExists(ctx context.Context, watchlistID uint64, offerID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)

	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1
  FROM alerts a
  JOIN price_cache pc ON pc.id = a.price_cache_id
  WHERE a.watchlist_id = $1
    AND pc.offer_id = $2
    AND a.status = $3
    AND a.created_at > $4
)
`, watchlistID, offerID, models.AlertStatusSent, cutoff).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check recent alert")
	}
	return exists, nil
}

func (s *Storage) CreateAlert(ctx context.Context, watchlistID, priceCacheID uint64, price float64, currency, channel string) (*models.Alert, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO alerts (watchlist_id, price_cache_id, price, currency, channel, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, watchlistID, priceCacheID, price, currency, channel, models.AlertStatusPending, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert alert")
	}

	return &models.Alert{
		ID:           id,
		WatchlistID:  watchlistID,
		PriceCacheID: priceCacheID,
		Price:        price,
		Currency:     currency,
		Channel:      channel,
		Status:       models.AlertStatusPending,
		CreatedAt:    now,
	}, nil
}

// MarkAlertSent: PENDING -> SENT. Guarded by status so the transition fires
// at most once even under a concurrent finalize.
func (s *Storage) MarkAlertSent(ctx context.Context, alertID uint64, sentAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE alerts SET status = $2, sent_at = $3
WHERE id = $1 AND status = $4
`, alertID, models.AlertStatusSent, sentAt.UTC(), models.AlertStatusPending)
	return errors.Wrap(err, "mark alert sent")
}

// MarkAlertFailed: PENDING -> FAILED, terminal.
func (s *Storage) MarkAlertFailed(ctx context.Context, alertID uint64, errMsg string) error {
	_, err := s.db.Exec(ctx, `
UPDATE alerts SET status = $2, error_message = $3
WHERE id = $1 AND status = $4
`, alertID, models.AlertStatusFailed, errMsg, models.AlertStatusPending)
	return errors.Wrap(err, "mark alert failed")
}

func (s *Storage) ListAlertsByWatchlist(ctx context.Context, watchlistID uint64, limit int) ([]*models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT id, watchlist_id, price_cache_id, price, currency, channel, status, sent_at, created_at, error_message
FROM alerts
WHERE watchlist_id = $1
ORDER BY created_at DESC
LIMIT $2
`, watchlistID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		var a models.Alert
		var sentAt *time.Time
		var errMsg *string
		if err := rows.Scan(
			&a.ID, &a.WatchlistID, &a.PriceCacheID, &a.Price, &a.Currency,
			&a.Channel, &a.Status, &sentAt, &a.CreatedAt, &errMsg,
		); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		a.SentAt = sentAt
		a.ErrorMessage = errMsg
		out = append(out, &a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
