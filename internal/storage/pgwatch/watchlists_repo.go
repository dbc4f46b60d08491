package pgwatch

import (
	"context"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const watchlistColumns = `
  id, user_id, origin, destination,
  date_from, date_to, flex_days,
  price_target, pax, cabin_class,
  channel, tg_chat_id, is_active, created_at`

func (s *Storage) CreateWatchlist(ctx context.Context, userID uint64, in models.WatchlistCreateInput) (*models.Watchlist, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO watchlist (
  user_id, origin, destination, date_from, date_to, flex_days,
  price_target, pax, cabin_class, channel, tg_chat_id, is_active, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,TRUE,$12)
RETURNING id
`, userID, in.Origin, in.Destination, in.DateFrom, in.DateTo, in.FlexDays,
		in.PriceTarget, in.Pax, in.CabinClass, in.Channel, in.TgChatID, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert watchlist")
	}

	return s.GetWatchlistByID(ctx, id)
}

func (s *Storage) GetWatchlistByID(ctx context.Context, id uint64) (*models.Watchlist, error) {
	row := s.db.QueryRow(ctx, `SELECT `+watchlistColumns+` FROM watchlist WHERE id = $1`, id)
	w, err := scanWatchlist(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *Storage) ListWatchlistsByUser(ctx context.Context, userID uint64) ([]*models.Watchlist, error) {
	rows, err := s.db.Query(ctx, `SELECT `+watchlistColumns+` FROM watchlist WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select watchlists by user")
	}
	defer rows.Close()
	return collectWatchlists(rows)
}

func (s *Storage) CountActiveWatchlistsByUser(ctx context.Context, userID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM watchlist WHERE user_id = $1 AND is_active`, userID).Scan(&n)
	return n, errors.Wrap(err, "count active watchlists")
}

// ListActiveWatchlists возвращает все вотчлисты, подлежащие мониторингу.
func (s *Storage) ListActiveWatchlists(ctx context.Context) ([]*models.Watchlist, error) {
	rows, err := s.db.Query(ctx, `SELECT `+watchlistColumns+` FROM watchlist WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select active watchlists")
	}
	defer rows.Close()
	return collectWatchlists(rows)
}

func (s *Storage) UpdateWatchlist(ctx context.Context, id uint64, in models.WatchlistUpdateInput) (*models.Watchlist, error) {
	if in.PriceTarget != nil {
		if _, err := s.db.Exec(ctx, `UPDATE watchlist SET price_target = $2 WHERE id = $1`, id, *in.PriceTarget); err != nil {
			return nil, errors.Wrap(err, "update price target")
		}
	}
	if in.IsActive != nil {
		if _, err := s.db.Exec(ctx, `UPDATE watchlist SET is_active = $2 WHERE id = $1`, id, *in.IsActive); err != nil {
			return nil, errors.Wrap(err, "update is_active")
		}
	}
	return s.GetWatchlistByID(ctx, id)
}

func (s *Storage) DeleteWatchlist(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM watchlist WHERE id = $1`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete watchlist")
	}
	return tag.RowsAffected() > 0, nil
}

func scanWatchlist(row pgx.Row) (*models.Watchlist, error) {
	var w models.Watchlist
	var tgChatID *string
	if err := row.Scan(
		&w.ID, &w.UserID, &w.Origin, &w.Destination,
		&w.DateFrom, &w.DateTo, &w.FlexDays,
		&w.PriceTarget, &w.Pax, &w.CabinClass,
		&w.Channel, &tgChatID, &w.IsActive, &w.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, errors.Wrap(err, "scan watchlist")
	}
	w.TgChatID = tgChatID
	return &w, nil
}

func collectWatchlists(rows pgx.Rows) ([]*models.Watchlist, error) {
	out := []*models.Watchlist{}
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
