package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FlightHunter/FareWatch/internal/broker/messages"
	"github.com/FlightHunter/FareWatch/internal/cache/rediscache"
	"github.com/FlightHunter/FareWatch/internal/integrations/flights"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/FlightHunter/FareWatch/internal/notify"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActiveWatchlists(ctx context.Context) ([]*models.Watchlist, error)
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	InsertPriceCache(ctx context.Context, watchlistID uint64, sum models.OfferSummary, now time.Time, ttl time.Duration) (*models.PriceCacheEntry, error)
	RecentSentAlertExists(ctx context.Context, watchlistID uint64, offerID string, window time.Duration) (bool, error)
	CreateAlert(ctx context.Context, watchlistID, priceCacheID uint64, price float64, currency, channel string) (*models.Alert, error)
	MarkAlertSent(ctx context.Context, alertID uint64, sentAt time.Time) error
	MarkAlertFailed(ctx context.Context, alertID uint64, errMsg string) error
	SweepExpiredPrices(ctx context.Context, now time.Time) (int64, error)
}

type Notifier interface {
	Deliver(ctx context.Context, a notify.Alert) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Engine runs the watch-fetch-filter-dedupe-alert cycle. Stateless between
// sweeps except through the persistent stores.
type Engine struct {
	repo     Repository
	source   flights.Client
	notifier Notifier
	producer Producer
	rl       RateLimiter

	topic string

	sweepInterval      time.Duration
	cleanupInterval    time.Duration
	concurrency        int
	dedupWindow        time.Duration
	cacheTTL           time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalWatchlists     atomic.Int64
	totalAlertsSent     atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, source flights.Client, notifier Notifier, producer Producer, rl RateLimiter, topic string) *Engine {
	return &Engine{
		repo: repo, source: source, notifier: notifier, producer: producer, rl: rl, topic: topic,
		sweepInterval:      5 * time.Minute,
		cleanupInterval:    1 * time.Hour,
		concurrency:        4,
		dedupWindow:        24 * time.Hour,
		cacheTTL:           24 * time.Hour,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (e *Engine) WithSettings(sweepInterval, cleanupInterval time.Duration, concurrency int, dedupWindow, cacheTTL time.Duration, rlPerMin int64) *Engine {
	if sweepInterval > 0 {
		e.sweepInterval = sweepInterval
	}
	if cleanupInterval > 0 {
		e.cleanupInterval = cleanupInterval
	}
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	if dedupWindow > 0 {
		e.dedupWindow = dedupWindow
	}
	if cacheTTL > 0 {
		e.cacheTTL = cacheTTL
	}
	if rlPerMin > 0 {
		e.rateLimitPerMinute = rlPerMin
	}
	return e
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (e *Engine) Trigger() {
	e.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastSweepAt     *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalWatchlists int64      `json:"totalWatchlists"`
	TotalAlertsSent int64      `json:"totalAlertsSent"`
	TotalErrors     int64      `json:"totalErrors"`
	InFlight        int64      `json:"inFlight"`
	LastError       string     `json:"lastError,omitempty"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, e.startedAtUnixNano).UTC(),
		TotalWatchlists: e.totalWatchlists.Load(),
		TotalAlertsSent: e.totalAlertsSent.Load(),
		TotalErrors:     e.totalErrors.Load(),
		InFlight:        e.inFlight.Load(),
	}
	if n := e.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := e.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

func (e *Engine) Run(ctx context.Context) error {
	sweep := time.NewTicker(e.sweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			e.runSweep(ctx)
		case <-e.triggerCh:
			e.runSweep(ctx)
		case <-cleanup.C:
			if _, err := e.CleanupExpiredPrices(ctx, time.Now().UTC()); err != nil {
				slog.Error("cleanup expired prices", "error", err.Error())
			}
		}
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	now := time.Now().UTC()
	e.lastSweepUnixNano.Store(now.UnixNano())

	items, err := e.repo.ListActiveWatchlists(ctx)
	if err != nil {
		slog.Error("list active watchlists", "error", err.Error())
		e.recordError(err)
		return
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, w := range items {
		sem <- struct{}{}
		wg.Add(1)
		wCopy := w
		e.inFlight.Add(1)
		go func() {
			defer func() {
				e.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			e.Monitor(ctx, wCopy)
			e.totalWatchlists.Add(1)
		}()
	}
	wg.Wait()
}

// Monitor processes one watchlist. Any error inside is caught at this
// boundary: one watchlist's failure never aborts the rest of the sweep.
func (e *Engine) Monitor(ctx context.Context, w *models.Watchlist) bool {
	ok, err := e.monitorOne(ctx, w)
	if err != nil {
		slog.Error("monitor watchlist", "watchlist_id", w.ID, "error", err.Error())
		e.recordError(err)
		return false
	}
	return ok
}

func (e *Engine) monitorOne(ctx context.Context, w *models.Watchlist) (bool, error) {
	now := time.Now().UTC()

	if e.rl != nil && e.rateLimitPerMinute > 0 {
		allowed, n, err := e.rl.Allow(ctx, rediscache.SearchMinuteKey(now), e.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return false, err
		}
		if !allowed {
			// Слишком много поисков в минуту: подождём немного, чтобы
			// разгрузить провайдера.
			slog.Warn("search rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, err := e.source.Search(ctx, flights.SearchRequest{
		Origin:        w.Origin,
		Destination:   w.Destination,
		DepartureDate: w.DateFrom,
		Pax:           w.Pax,
		CabinClass:    w.CabinClass,
	})
	if err != nil {
		return false, errors.Wrap(err, "search offers")
	}
	if len(res.Offers) == 0 {
		// Пустая выдача — не ошибка, но делать нечего.
		slog.Warn("no flight offers found", "watchlist_id", w.ID, "source", res.Source)
		return false, nil
	}

	user, err := e.repo.GetUserByID(ctx, w.UserID)
	if err != nil {
		return false, errors.Wrap(err, "load watchlist owner")
	}

	alertsSent := 0
	for _, raw := range res.Offers {
		sum, err := flights.Normalize(raw)
		if err != nil {
			slog.Warn("skip malformed offer", "watchlist_id", w.ID, "error", err.Error())
			continue
		}
		if sum.Price > w.PriceTarget {
			slog.Debug("offer above target",
				"watchlist_id", w.ID, "offer_id", sum.OfferID,
				"price", sum.Price, "target", w.PriceTarget)
			continue
		}

		// The cache is an observation log: insert even when the alert below
		// gets suppressed as a duplicate.
		pc, err := e.repo.InsertPriceCache(ctx, w.ID, sum, now, e.cacheTTL)
		if err != nil {
			return false, errors.Wrap(err, "insert price cache")
		}

		exists, err := e.repo.RecentSentAlertExists(ctx, w.ID, sum.OfferID, e.dedupWindow)
		if err != nil {
			return false, errors.Wrap(err, "check recent alert")
		}
		if exists {
			slog.Info("duplicate alert suppressed", "watchlist_id", w.ID, "offer_id", sum.OfferID)
			continue
		}

		alert, err := e.repo.CreateAlert(ctx, w.ID, pc.ID, sum.Price, sum.Currency, w.Channel)
		if err != nil {
			return false, errors.Wrap(err, "create alert")
		}

		sent, err := e.dispatch(ctx, w, user, alert, sum)
		if err != nil {
			return false, err
		}
		if sent {
			alertsSent++
			e.totalAlertsSent.Add(1)
		}
	}

	slog.Info("watchlist processed", "watchlist_id", w.ID,
		"offers", len(res.Offers), "alerts_sent", alertsSent, "source", res.Source)
	return true, nil
}

// dispatch delivers one alert and finalizes its record exactly once:
// PENDING -> SENT on success, PENDING -> FAILED otherwise. Delivery failure
// is a durable outcome, not an error — failed alerts are not requeued.
func (e *Engine) dispatch(ctx context.Context, w *models.Watchlist, user *models.User, alert *models.Alert, sum models.OfferSummary) (bool, error) {
	na := notify.Alert{
		Channel:     w.Channel,
		To:          resolveDestination(w, user),
		Origin:      w.Origin,
		Destination: w.Destination,
		TravelDate:  w.DateFrom.Format("2006-01-02"),
		PriceTarget: w.PriceTarget,
		Pax:         w.Pax,
		Offer:       sum,
	}

	deliverErr := e.notifier.Deliver(ctx, na)

	now := time.Now().UTC()
	msg := messages.AlertDispatched{
		AlertID:     alert.ID,
		WatchlistID: w.ID,
		OfferID:     sum.OfferID,
		Price:       sum.Price,
		Currency:    sum.Currency,
		Channel:     w.Channel,
	}

	if deliverErr != nil {
		slog.Warn("alert delivery failed", "alert_id", alert.ID, "channel", w.Channel, "error", deliverErr.Error())
		if err := e.repo.MarkAlertFailed(ctx, alert.ID, deliverErr.Error()); err != nil {
			return false, err
		}
		msg.Status = models.AlertStatusFailed
		errText := deliverErr.Error()
		msg.Error = &errText
	} else {
		if err := e.repo.MarkAlertSent(ctx, alert.ID, now); err != nil {
			return false, err
		}
		msg.Status = models.AlertStatusSent
		msg.SentAt = &now
	}

	e.publishDispatched(ctx, msg)
	return deliverErr == nil, nil
}

// publishDispatched is best-effort: the alert record is already durable in
// Postgres, the broker only feeds the read-side cache.
func (e *Engine) publishDispatched(ctx context.Context, msg messages.AlertDispatched) {
	if e.producer == nil || e.topic == "" {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal alert dispatched", "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", msg.WatchlistID))
	if err := e.producer.Publish(ctx, e.topic, key, b); err != nil {
		slog.Warn("publish alert dispatched", "alert_id", msg.AlertID, "error", err.Error())
	}
}

// CleanupExpiredPrices runs on its own cadence, independent of the sweep.
func (e *Engine) CleanupExpiredPrices(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.repo.SweepExpiredPrices(ctx, now)
	if err != nil {
		return 0, err
	}
	slog.Info("cleaned up expired price cache entries", "removed", n)
	return n, nil
}

func resolveDestination(w *models.Watchlist, user *models.User) string {
	switch w.Channel {
	case models.ChannelEmail:
		if user != nil {
			return user.Email
		}
	case models.ChannelTelegram:
		// Watchlist-level chat id overrides the user default.
		if w.TgChatID != nil && *w.TgChatID != "" {
			return *w.TgChatID
		}
		if user != nil && user.TgChatID != nil {
			return *user.TgChatID
		}
	}
	return ""
}

func (e *Engine) recordError(err error) {
	e.totalErrors.Add(1)
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}
