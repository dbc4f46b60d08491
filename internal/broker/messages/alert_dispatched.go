package messages

import "time"

// AlertDispatched is published by the worker after an alert is finalized.
// fare-api consumes it to keep the "latest alert per watchlist" cache warm.
type AlertDispatched struct {
	AlertID     uint64    `json:"alert_id"`
	WatchlistID uint64    `json:"watchlist_id"`
	OfferID     string    `json:"offer_id"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Error       *string   `json:"error,omitempty"`
}
