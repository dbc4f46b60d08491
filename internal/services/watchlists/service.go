package watchlists

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FlightHunter/FareWatch/internal/broker/messages"
	"github.com/FlightHunter/FareWatch/internal/cache"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error)
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	CreateWatchlist(ctx context.Context, userID uint64, in models.WatchlistCreateInput) (*models.Watchlist, error)
	GetWatchlistByID(ctx context.Context, id uint64) (*models.Watchlist, error)
	ListWatchlistsByUser(ctx context.Context, userID uint64) ([]*models.Watchlist, error)
	CountActiveWatchlistsByUser(ctx context.Context, userID uint64) (int, error)
	UpdateWatchlist(ctx context.Context, id uint64, in models.WatchlistUpdateInput) (*models.Watchlist, error)
	DeleteWatchlist(ctx context.Context, id uint64) (bool, error)
	ListAlertsByWatchlist(ctx context.Context, watchlistID uint64, limit int) ([]*models.Alert, error)
}

type Service struct {
	repo Repository

	cache        cache.BytesCache
	listTTL      time.Duration
	lastAlertTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, listTTL, lastAlertTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, listTTL: listTTL, lastAlertTTL: lastAlertTTL}
}

// ErrPlanLimit is returned when a FREE user already has the maximum number of
// active watchlists.
var ErrPlanLimit = errors.Errorf("free plan allows at most %d active watchlists", models.FreePlanWatchlistLimit)

var ErrNotFound = errors.New("watchlist not found")

func (s *Service) CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error) {
	if !validEmail(in.Email) {
		return nil, errors.New("email is invalid")
	}
	return s.repo.CreateUser(ctx, in)
}

func (s *Service) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	if id == 0 {
		return nil, errors.New("userId is required")
	}
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, userID uint64, in models.WatchlistCreateInput) (*models.Watchlist, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user not found")
	}
	if user.Plan == models.PlanFree {
		n, err := s.repo.CountActiveWatchlistsByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if n >= models.FreePlanWatchlistLimit {
			return nil, ErrPlanLimit
		}
	}

	w, err := s.repo.CreateWatchlist(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	s.invalidateList(ctx, userID)
	return w, nil
}

func (s *Service) Get(ctx context.Context, userID, id uint64) (*models.Watchlist, error) {
	w, err := s.repo.GetWatchlistByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil || w.UserID != userID {
		return nil, ErrNotFound
	}
	return w, nil
}

// List reads through the cache: список вотчлистов пользователя меняется
// редко, а дёргается на каждый заход в дашборд.
func (s *Service) List(ctx context.Context, userID uint64) ([]*models.Watchlist, error) {
	key := listKey(userID)
	if s.cache != nil && s.listTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var out []*models.Watchlist
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := s.repo.ListWatchlistsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.listTTL > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, key, b, s.listTTL)
		}
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, userID, id uint64, in models.WatchlistUpdateInput) (*models.Watchlist, error) {
	if in.PriceTarget == nil && in.IsActive == nil {
		return nil, errors.New("nothing to update")
	}
	if in.PriceTarget != nil && *in.PriceTarget <= 0 {
		return nil, errors.New("priceTarget must be positive")
	}

	cur, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	// Re-activation counts against the FREE cap the same way creation does.
	if in.IsActive != nil && *in.IsActive && !cur.IsActive {
		user, err := s.repo.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user != nil && user.Plan == models.PlanFree {
			n, err := s.repo.CountActiveWatchlistsByUser(ctx, userID)
			if err != nil {
				return nil, err
			}
			if n >= models.FreePlanWatchlistLimit {
				return nil, ErrPlanLimit
			}
		}
	}

	w, err := s.repo.UpdateWatchlist(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.invalidateList(ctx, userID)
	return w, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uint64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	ok, err := s.repo.DeleteWatchlist(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.invalidateList(ctx, userID)
	s.invalidateLastAlert(ctx, id)
	return nil
}

func (s *Service) ListAlerts(ctx context.Context, userID, id uint64, limit int) ([]*models.Alert, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListAlertsByWatchlist(ctx, id, limit)
}

// LatestAlert returns the cached last dispatched alert for a watchlist, if
// the worker has published one recently. Cache-only: нет записи — нет ответа.
func (s *Service) LatestAlert(ctx context.Context, userID, id uint64) (*messages.AlertDispatched, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if s.cache == nil {
		return nil, nil
	}
	b, ok, err := s.cache.Get(ctx, lastAlertKey(id))
	if err != nil || !ok {
		return nil, nil
	}
	var msg messages.AlertDispatched
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, nil
	}
	return &msg, nil
}

// ApplyAlertDispatched consumes the worker's broker message and warms the
// last-alert cache.
func (s *Service) ApplyAlertDispatched(ctx context.Context, msg messages.AlertDispatched) error {
	if msg.WatchlistID == 0 {
		return errors.New("watchlist_id is required")
	}
	if s.cache == nil || s.lastAlertTTL <= 0 {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal alert dispatched")
	}
	return s.cache.Set(ctx, lastAlertKey(msg.WatchlistID), b, s.lastAlertTTL)
}

func (s *Service) invalidateList(ctx context.Context, userID uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, listKey(userID))
}

func (s *Service) invalidateLastAlert(ctx context.Context, watchlistID uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, lastAlertKey(watchlistID))
}

func listKey(userID uint64) string {
	return fmt.Sprintf("user:%d:watchlists", userID)
}

func lastAlertKey(watchlistID uint64) string {
	return fmt.Sprintf("watchlist:%d:last_alert", watchlistID)
}

func validateCreate(in models.WatchlistCreateInput) error {
	if !validIATA(in.Origin) {
		return errors.New("origin must be a 3-letter IATA code")
	}
	if !validIATA(in.Destination) {
		return errors.New("destination must be a 3-letter IATA code")
	}
	if in.Origin == in.Destination {
		return errors.New("origin and destination must differ")
	}
	if in.DateFrom.IsZero() || in.DateTo.IsZero() {
		return errors.New("dateFrom and dateTo are required")
	}
	if in.DateTo.Before(in.DateFrom) {
		return errors.New("dateTo must not precede dateFrom")
	}
	if in.FlexDays < 0 || in.FlexDays > 7 {
		return errors.New("flexDays must be between 0 and 7")
	}
	if in.PriceTarget <= 0 {
		return errors.New("priceTarget must be positive")
	}
	if in.Pax < 1 || in.Pax > 9 {
		return errors.New("pax must be between 1 and 9")
	}
	switch in.CabinClass {
	case models.CabinEconomy, models.CabinPremiumEconomy, models.CabinBusiness:
	default:
		return errors.Errorf("unsupported cabin class %q", in.CabinClass)
	}
	switch in.Channel {
	case models.ChannelEmail:
	case models.ChannelTelegram:
		// chat id может прийти позже (с профиля пользователя), поэтому тут
		// его не требуем.
	default:
		return errors.Errorf("unsupported channel %q", in.Channel)
	}
	return nil
}

func validIATA(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func validEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	at := -1
	for i, c := range email {
		if c == '@' {
			if at >= 0 {
				return false
			}
			at = i
		}
	}
	return at > 0 && at < len(email)-1
}
