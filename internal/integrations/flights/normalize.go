package flights

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// Normalize maps a raw provider offer into the canonical summary.
// A malformed offer is an error for this offer only; the engine logs and
// skips it without aborting the watchlist.
func Normalize(o Offer) (models.OfferSummary, error) {
	if o.ID == "" {
		return models.OfferSummary{}, errors.New("offer has no id")
	}

	price, err := strconv.ParseFloat(o.Price.Total, 64)
	if err != nil {
		return models.OfferSummary{}, errors.Wrapf(err, "parse price %q", o.Price.Total)
	}
	if price <= 0 {
		return models.OfferSummary{}, errors.Errorf("non-positive price %v", price)
	}

	if len(o.Itineraries) == 0 {
		return models.OfferSummary{}, errors.New("offer has no itineraries")
	}
	it := o.Itineraries[0]

	stops := 0
	for _, seg := range it.Segments {
		stops += seg.NumberOfStops
	}

	currency := o.Price.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	raw := o.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(o)
	}

	return models.OfferSummary{
		OfferID:  o.ID,
		Price:    price,
		Currency: currency,
		Airlines: strings.Join(o.ValidatingAirlineCodes, ","),
		Stops:    stops,
		Duration: it.Duration,
		RawJSON:  string(raw),
	}, nil
}
