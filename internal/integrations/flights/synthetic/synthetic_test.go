package synthetic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FlightHunter/FareWatch/internal/integrations/flights"
	"github.com/stretchr/testify/require"
)

// fixedRand всегда возвращает одно значение — удобно проверять границы.
type fixedRand struct{ v int }

func (r fixedRand) Intn(n int) int {
	if r.v >= n {
		return n - 1
	}
	return r.v
}

func searchReq() flights.SearchRequest {
	return flights.SearchRequest{
		Origin:        "GRU",
		Destination:   "JFK",
		DepartureDate: time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC),
		Pax:           1,
		CabinClass:    "ECONOMY",
	}
}

func TestGenerator_Search_Shape(t *testing.T) {
	res, err := New().Search(context.Background(), searchReq())
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, flights.SourceSynthetic, res.Source)
	require.Len(t, res.Offers, 10)

	seen := map[string]struct{}{}
	for _, o := range res.Offers {
		require.NotEmpty(t, o.ID)
		_, dup := seen[o.ID]
		require.False(t, dup, "offer ids must be unique")
		seen[o.ID] = struct{}{}

		require.Equal(t, "BRL", o.Price.Currency)
		require.Len(t, o.Itineraries, 1)
		seg := o.Itineraries[0].Segments[0]
		require.Equal(t, "GRU", seg.Departure.IATACode)
		require.Equal(t, "JFK", seg.Arrival.IATACode)
		require.Contains(t, seg.Departure.At, "2026-11-10T")
		require.NotEmpty(t, o.Raw)
	}
}

func TestGenerator_Search_NormalizesCleanly(t *testing.T) {
	res, err := New().Search(context.Background(), searchReq())
	require.NoError(t, err)

	for _, o := range res.Offers {
		sum, err := flights.Normalize(o)
		require.NoError(t, err)
		require.GreaterOrEqual(t, sum.Price, 200.0)
		require.LessOrEqual(t, sum.Price, 1500.0)
		require.GreaterOrEqual(t, sum.Stops, 0)
		require.LessOrEqual(t, sum.Stops, 2)
	}
}

// Движок мониторинга опрашивает вочлисты конкурентно, генератор при этом
// один на все горутины. Ловится флагом -race.
func TestGenerator_Search_Concurrent(t *testing.T) {
	g := New()
	errs := make(chan error, 16)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Search(context.Background(), searchReq())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestGenerator_Search_PriceBounds(t *testing.T) {
	low, err := NewWithRand(fixedRand{v: 0}).Search(context.Background(), searchReq())
	require.NoError(t, err)
	require.Equal(t, "200.00", low.Offers[0].Price.Total)

	high, err := NewWithRand(fixedRand{v: 1300}).Search(context.Background(), searchReq())
	require.NoError(t, err)
	require.Equal(t, "1500.00", high.Offers[0].Price.Total)
}
