package billing

import (
	"context"
	"log/slog"

	"github.com/FlightHunter/FareWatch/internal/broker/messages"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	UpdateUserPlan(ctx context.Context, userID uint64, plan string) error
}

// Service maps payment-provider subscription events onto user plans.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// planFor resolves the target plan for an event, or "" when the event does
// not change the plan.
func planFor(msg messages.BillingEvent) string {
	switch msg.Type {
	case messages.BillingSubscriptionCreated:
		return models.PlanPro
	case messages.BillingSubscriptionDeleted:
		return models.PlanFree
	case messages.BillingSubscriptionUpdated:
		switch msg.Status {
		case "active", "trialing":
			return models.PlanPro
		case "canceled", "unpaid", "past_due", "incomplete_expired":
			return models.PlanFree
		}
	}
	// Платёжные события (payment_succeeded/failed) план не меняют: провайдер
	// пришлёт отдельное subscription-событие, когда статус реально сменится.
	return ""
}

// Apply is idempotent: повторная доставка того же события из брокера просто
// переустановит тот же план.
func (s *Service) Apply(ctx context.Context, msg messages.BillingEvent) error {
	if msg.CustomerID == "" {
		return errors.New("customer_id is required")
	}

	plan := planFor(msg)
	if plan == "" {
		slog.Info("billing event ignored", "type", msg.Type, "status", msg.Status)
		return nil
	}

	user, err := s.repo.GetUserByStripeCustomerID(ctx, msg.CustomerID)
	if err != nil {
		return errors.Wrap(err, "load user by customer id")
	}
	if user == nil {
		// Вебхук мог прийти раньше, чем мы привязали customer_id к юзеру.
		slog.Warn("billing event for unknown customer", "customer_id", msg.CustomerID, "type", msg.Type)
		return nil
	}
	if user.Plan == plan {
		return nil
	}

	if err := s.repo.UpdateUserPlan(ctx, user.ID, plan); err != nil {
		return errors.Wrap(err, "update user plan")
	}
	slog.Info("user plan changed", "user_id", user.ID, "plan", plan, "event_type", msg.Type)
	return nil
}
