package pgwatch

import (
	"context"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const userColumns = `id, email, plan, stripe_customer_id, tg_chat_id, created_at, updated_at`

// ErrEmailTaken — почта уже зарегистрирована; наружу уходит как 400.
var ErrEmailTaken = errors.New("email already registered")

func (s *Storage) CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO users (email, plan, tg_chat_id, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO NOTHING
RETURNING id
`, in.Email, models.PlanFree, in.TgChatID, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert user")
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID возвращает (nil, nil) для несуществующего пользователя — тот же
// контракт, что и у GetUserByStripeCustomerID.
func (s *Storage) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Storage) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Storage) UpdateUserPlan(ctx context.Context, userID uint64, plan string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET plan = $2, updated_at = now() WHERE id = $1`, userID, plan)
	return errors.Wrap(err, "update user plan")
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var stripeID, tgChatID *string
	var updatedAt *time.Time
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &stripeID, &tgChatID, &u.CreatedAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, errors.Wrap(err, "scan user")
	}
	u.StripeCustomerID = stripeID
	u.TgChatID = tgChatID
	u.UpdatedAt = updatedAt
	return &u, nil
}
