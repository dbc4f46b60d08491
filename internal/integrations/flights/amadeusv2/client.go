package amadeusv2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FlightHunter/FareWatch/internal/integrations/flights"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/pkg/errors"
)

// tokenSafetyMargin — реавторизуемся чуть раньше заявленного провайдером
// expires_in, чтобы не ловить 401 на границе.
const tokenSafetyMargin = 60 * time.Second

const maxOffers = 50

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpc        *http.Client

	// fallback serves offers when the provider is unavailable. Search never
	// fails because of the provider: it degrades.
	fallback flights.Client

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time

	now func() time.Time
}

func New(baseURL, clientID, clientSecret string, fallback flights.Client) *Client {
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
		fallback: fallback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

func (c *Client) Search(ctx context.Context, req flights.SearchRequest) (flights.SearchResult, error) {
	if !c.Configured() {
		slog.Warn("amadeus credentials not configured, using synthetic offers")
		return c.degrade(ctx, req)
	}

	res, err := c.search(ctx, req)
	if err != nil {
		slog.Warn("amadeus search failed, degrading to synthetic offers", "error", err.Error())
		return c.degrade(ctx, req)
	}
	return res, nil
}

func (c *Client) degrade(ctx context.Context, req flights.SearchRequest) (flights.SearchResult, error) {
	res, err := c.fallback.Search(ctx, req)
	if err != nil {
		return flights.SearchResult{}, err
	}
	res.Degraded = true
	return res, nil
}

func (c *Client) search(ctx context.Context, req flights.SearchRequest) (flights.SearchResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return flights.SearchResult{}, err
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return flights.SearchResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v2/shopping/flight-offers"

	q := u.Query()
	q.Set("originLocationCode", req.Origin)
	q.Set("destinationLocationCode", req.Destination)
	q.Set("departureDate", req.DepartureDate.Format("2006-01-02"))
	if req.ReturnDate != nil {
		q.Set("returnDate", req.ReturnDate.Format("2006-01-02"))
	}
	q.Set("adults", strconv.Itoa(req.Pax))
	q.Set("travelClass", req.CabinClass)
	q.Set("currencyCode", models.DefaultCurrency)
	q.Set("max", strconv.Itoa(maxOffers))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return flights.SearchResult{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return flights.SearchResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return flights.SearchResult{}, fmt.Errorf("amadeus http %d", resp.StatusCode)
	}

	// data decoded twice: raw bytes are kept on each offer for the cache.
	var rb struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return flights.SearchResult{}, errors.Wrap(err, "decode")
	}

	offers := make([]flights.Offer, 0, len(rb.Data))
	for _, raw := range rb.Data {
		var o flights.Offer
		if err := json.Unmarshal(raw, &o); err != nil {
			slog.Warn("skip undecodable amadeus offer", "error", err.Error())
			continue
		}
		o.Raw = raw
		offers = append(offers, o)
	}

	return flights.SearchResult{
		Offers: offers,
		Source: flights.SourceAmadeus,
	}, nil
}

// accessToken returns the cached bearer token, re-authenticating only when
// the cache is empty or past expiry minus the safety margin. The critical
// section covers check and refresh so concurrent searches share one auth call.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiresAt) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "do token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("amadeus token http %d", resp.StatusCode)
	}

	var tb struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tb); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if tb.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	if tb.ExpiresIn <= 0 {
		tb.ExpiresIn = 1799
	}

	c.token = tb.AccessToken
	c.tokenExpiresAt = c.now().Add(time.Duration(tb.ExpiresIn)*time.Second - tokenSafetyMargin)
	return c.token, nil
}
