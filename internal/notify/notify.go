package notify

import (
	"context"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// Sender delivers one rendered alert through one channel.
type Sender interface {
	Deliver(ctx context.Context, a Alert) error
}

// Dispatcher routes an alert to the sender registered for its channel.
// An unknown channel is a delivery failure, not a fatal error — the engine
// records a FAILED alert and moves on.
type Dispatcher struct {
	senders map[string]Sender
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{senders: map[string]Sender{}}
}

func (d *Dispatcher) Register(channel string, s Sender) *Dispatcher {
	d.senders[channel] = s
	return d
}

func (d *Dispatcher) Deliver(ctx context.Context, a Alert) error {
	s, ok := d.senders[a.Channel]
	if !ok {
		return errors.Errorf("unknown alert channel %q", a.Channel)
	}
	return s.Deliver(ctx, a)
}

// Alert carries everything a channel needs to render and send one
// notification: the resolved destination plus the watchlist/offer context.
type Alert struct {
	Channel string
	To      string // email address or telegram chat id

	Origin      string
	Destination string
	TravelDate  string
	PriceTarget float64
	Pax         int

	Offer models.OfferSummary
}
