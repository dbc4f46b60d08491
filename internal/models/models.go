package models

import "time"

// Тарифные планы пользователя.
const (
	PlanFree = "FREE"
	PlanPro  = "PRO"
)

// FreePlanWatchlistLimit — максимум активных вотчлистов на плане FREE.
const FreePlanWatchlistLimit = 3

// Классы обслуживания (как их понимает поисковый провайдер).
const (
	CabinEconomy        = "ECONOMY"
	CabinPremiumEconomy = "PREMIUM_ECONOMY"
	CabinBusiness       = "BUSINESS"
)

// Каналы доставки алертов.
const (
	ChannelEmail    = "EMAIL"
	ChannelTelegram = "TELEGRAM"
)

// Статусы алерта. PENDING переходит ровно один раз в SENT или FAILED.
const (
	AlertStatusPending = "PENDING"
	AlertStatusSent    = "SENT"
	AlertStatusFailed  = "FAILED"
)

const DefaultCurrency = "BRL"

type User struct {
	ID               uint64
	Email            string
	Plan             string
	StripeCustomerID *string
	TgChatID         *string
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

type Watchlist struct {
	ID          uint64
	UserID      uint64
	Origin      string
	Destination string
	DateFrom    time.Time
	DateTo      time.Time
	FlexDays    int
	PriceTarget float64
	Pax         int
	CabinClass  string
	Channel     string
	TgChatID    *string
	IsActive    bool
	CreatedAt   time.Time
}

// OfferSummary — нормализованный вид одного предложения провайдера.
// Не персистится как есть; живёт в памяти между fetch и записью в кэш.
type OfferSummary struct {
	OfferID  string
	Price    float64
	Currency string
	Airlines string
	Stops    int
	Duration string
	RawJSON  string
}

type PriceCacheEntry struct {
	ID          uint64
	WatchlistID uint64
	OfferID     string
	Price       float64
	Currency    string
	Airlines    string
	Stops       int
	Duration    string
	OfferJSON   string
	FetchedAt   time.Time
	ExpiresAt   *time.Time
}

type Alert struct {
	ID           uint64
	WatchlistID  uint64
	PriceCacheID uint64
	Price        float64
	Currency     string
	Channel      string
	Status       string
	SentAt       *time.Time
	CreatedAt    time.Time
	ErrorMessage *string
}

type UserCreateInput struct {
	Email    string
	TgChatID *string
}

type WatchlistCreateInput struct {
	Origin      string
	Destination string
	DateFrom    time.Time
	DateTo      time.Time
	FlexDays    int
	PriceTarget float64
	Pax         int
	CabinClass  string
	Channel     string
	TgChatID    *string
}

// WatchlistUpdateInput — частичное обновление: nil-поля не трогаем.
type WatchlistUpdateInput struct {
	PriceTarget *float64
	IsActive    *bool
}
