package flights

import (
	"context"
	"encoding/json"
	"time"
)

// Offer sources.
const (
	SourceAmadeus   = "amadeus"
	SourceSynthetic = "synthetic"
)

type SearchRequest struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	Pax           int
	CabinClass    string
}

// Offer mirrors the provider's flight-offer payload (the subset we read).
// Raw keeps the original bytes so the price cache can store the full offer.
type Offer struct {
	ID                     string      `json:"id"`
	Price                  OfferPrice  `json:"price"`
	ValidatingAirlineCodes []string    `json:"validatingAirlineCodes"`
	Itineraries            []Itinerary `json:"itineraries"`

	Raw json.RawMessage `json:"-"`
}

type OfferPrice struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
}

type Itinerary struct {
	Duration string    `json:"duration"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Departure     Endpoint `json:"departure"`
	Arrival       Endpoint `json:"arrival"`
	CarrierCode   string   `json:"carrierCode"`
	Number        string   `json:"number"`
	Duration      string   `json:"duration,omitempty"`
	NumberOfStops int      `json:"numberOfStops"`
}

type Endpoint struct {
	IATACode string `json:"iataCode"`
	At       string `json:"at"`
}

// SearchResult distinguishes a live provider answer from a degraded one.
// Degraded=true means the provider was unavailable (or unconfigured) and the
// offers are synthetic; callers log and carry on, they do not treat it as an
// error.
type SearchResult struct {
	Offers   []Offer
	Degraded bool
	Source   string
}

type Client interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}
