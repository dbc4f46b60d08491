package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/FlightHunter/FareWatch/internal/integrations/flights"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/google/uuid"
)

// offerCount — синтетическая выдача всегда фиксированного размера.
const offerCount = 10

var airlines = []string{"LA", "G3", "AD", "JJ"}

type Rand interface {
	Intn(n int) int
}

// Generator produces plausible random offers so the monitoring engine stays
// exercisable without live provider credentials. The shape matches the real
// provider payload; only the values are random.
type Generator struct {
	mu sync.Mutex // *rand.Rand не потокобезопасен, а Search зовут конкурентно
	r  Rand
}

func New() *Generator {
	return &Generator{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func NewWithRand(r Rand) *Generator {
	return &Generator{r: r}
}

func (g *Generator) Search(_ context.Context, req flights.SearchRequest) (flights.SearchResult, error) {
	offers := make([]flights.Offer, 0, offerCount)
	date := req.DepartureDate.Format("2006-01-02")

	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < offerCount; i++ {
		price := 200 + g.r.Intn(1301) // 200..1500
		stops := g.r.Intn(3)
		durH := 2 + g.r.Intn(14) // 2..15 hours
		airline := airlines[g.r.Intn(len(airlines))]
		duration := fmt.Sprintf("PT%dH%dM", durH, g.r.Intn(60))

		o := flights.Offer{
			ID: uuid.NewString(),
			Price: flights.OfferPrice{
				Currency: models.DefaultCurrency,
				Total:    fmt.Sprintf("%d.00", price),
			},
			ValidatingAirlineCodes: []string{airline},
			Itineraries: []flights.Itinerary{{
				Duration: duration,
				Segments: []flights.Segment{{
					Departure: flights.Endpoint{
						IATACode: req.Origin,
						At:       fmt.Sprintf("%sT%02d:%02d:00", date, 6+g.r.Intn(17), g.r.Intn(60)),
					},
					Arrival: flights.Endpoint{
						IATACode: req.Destination,
						At:       fmt.Sprintf("%sT%02d:%02d:00", date, 8+g.r.Intn(16), g.r.Intn(60)),
					},
					CarrierCode:   airline,
					Number:        fmt.Sprintf("%d", 1000+g.r.Intn(9000)),
					Duration:      duration,
					NumberOfStops: stops,
				}},
			}},
		}
		o.Raw, _ = json.Marshal(o)
		offers = append(offers, o)
	}

	return flights.SearchResult{
		Offers:   offers,
		Degraded: true,
		Source:   flights.SourceSynthetic,
	}, nil
}
