package watch_api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/FlightHunter/FareWatch/internal/broker/messages"
	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/FlightHunter/FareWatch/internal/services/watchlists"
	"github.com/FlightHunter/FareWatch/internal/storage/pgwatch"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	user          *models.User
	createUserErr error

	created     *models.Watchlist
	byID        *models.Watchlist
	list        []*models.Watchlist
	activeCount int
	updated     *models.Watchlist
	deletedOK   bool
	alerts      []*models.Alert
}

func (f *fakeRepo) CreateUser(ctx context.Context, in models.UserCreateInput) (*models.User, error) {
	if f.createUserErr != nil {
		return nil, f.createUserErr
	}
	return &models.User{ID: 1, Email: in.Email, Plan: models.PlanFree, TgChatID: in.TgChatID}, nil
}
func (f *fakeRepo) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return f.user, nil
}
func (f *fakeRepo) CreateWatchlist(ctx context.Context, userID uint64, in models.WatchlistCreateInput) (*models.Watchlist, error) {
	return f.created, nil
}
func (f *fakeRepo) GetWatchlistByID(ctx context.Context, id uint64) (*models.Watchlist, error) {
	return f.byID, nil
}
func (f *fakeRepo) ListWatchlistsByUser(ctx context.Context, userID uint64) ([]*models.Watchlist, error) {
	return f.list, nil
}
func (f *fakeRepo) CountActiveWatchlistsByUser(ctx context.Context, userID uint64) (int, error) {
	return f.activeCount, nil
}
func (f *fakeRepo) UpdateWatchlist(ctx context.Context, id uint64, in models.WatchlistUpdateInput) (*models.Watchlist, error) {
	return f.updated, nil
}
func (f *fakeRepo) DeleteWatchlist(ctx context.Context, id uint64) (bool, error) {
	return f.deletedOK, nil
}
func (f *fakeRepo) ListAlertsByWatchlist(ctx context.Context, watchlistID uint64, limit int) ([]*models.Alert, error) {
	return f.alerts, nil
}

type fakeCache struct {
	m map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{m: map[string][]byte{}} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

type fakeProducer struct {
	topic  string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topic = topic
	p.values = append(p.values, value)
	return p.err
}

func newTestServer(t *testing.T, repo *fakeRepo, wh *billingWebhook) *httptest.Server {
	t.Helper()
	svc := watchlists.New(repo, newFakeCache(), time.Minute, time.Minute)
	r := chi.NewRouter()
	New(svc, wh).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sampleWatchlist() *models.Watchlist {
	return &models.Watchlist{
		ID: 10, UserID: 1,
		Origin: "GRU", Destination: "JFK",
		DateFrom: time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
		PriceTarget: 800, Pax: 1,
		CabinClass: models.CabinEconomy, Channel: models.ChannelEmail,
		IsActive: true, CreatedAt: time.Now().UTC(),
	}
}

func TestAPI_CreateUser(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{}, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/users", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out userResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ana@example.com", out.Email)
	require.Equal(t, models.PlanFree, out.Plan)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/users", "", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateUser_duplicateEmail(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{createUserErr: pgwatch.ErrEmailTaken}, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/users", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetMe_unknownUser(t *testing.T) {
	// X-User-ID указывает на несуществующий аккаунт — это 404, а не 500.
	srv := newTestServer(t, &fakeRepo{user: nil}, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/me", "77", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_AuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{}, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/watchlists", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/watchlists", "abc", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_CreateWatchlist(t *testing.T) {
	repo := &fakeRepo{user: &models.User{ID: 1, Plan: models.PlanPro}, created: sampleWatchlist()}
	srv := newTestServer(t, repo, nil)

	body := map[string]any{
		"origin": "GRU", "destination": "JFK",
		"dateFrom": "2026-11-10", "dateTo": "2026-11-20",
		"priceTarget": 800, "channel": "EMAIL",
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/watchlists", "1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out watchlistResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, uint64(10), out.ID)
	require.Equal(t, "2026-11-10", out.DateFrom)

	body["dateFrom"] = "10/11/2026"
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/watchlists", "1", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateWatchlist_planLimit(t *testing.T) {
	repo := &fakeRepo{user: &models.User{ID: 1, Plan: models.PlanFree}, activeCount: 3}
	srv := newTestServer(t, repo, nil)

	body := map[string]any{
		"origin": "GRU", "destination": "JFK",
		"dateFrom": "2026-11-10", "dateTo": "2026-11-20",
		"priceTarget": 800, "channel": "EMAIL",
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/watchlists", "1", body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_GetWatchlist_ownership(t *testing.T) {
	repo := &fakeRepo{byID: sampleWatchlist()}
	srv := newTestServer(t, repo, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/watchlists/10", "1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Чужой вотчлист выглядит как несуществующий.
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/watchlists/10", "2", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetUser_ownProfileOnly(t *testing.T) {
	repo := &fakeRepo{user: &models.User{ID: 1, Email: "ana@example.com", Plan: models.PlanFree}}
	srv := newTestServer(t, repo, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/users/1", "1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/users/1", "2", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DeleteWatchlist(t *testing.T) {
	repo := &fakeRepo{byID: sampleWatchlist(), deletedOK: true}
	srv := newTestServer(t, repo, nil)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/v1/watchlists/10", "1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_LatestAlert_notFound(t *testing.T) {
	repo := &fakeRepo{byID: sampleWatchlist()}
	srv := newTestServer(t, repo, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/watchlists/10/alerts/latest", "1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func signPayload(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookBody() []byte {
	return []byte(`{"type":"customer.subscription.created","data":{"object":{"customer":"cus_123","status":"active"}}}`)
}

func postWebhook(t *testing.T, url, signature string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAPI_BillingWebhook_publishes(t *testing.T) {
	fp := &fakeProducer{}
	wh := newBillingWebhook("whsec_test", fp, "billing.events")
	srv := newTestServer(t, &fakeRepo{}, wh)

	body := webhookBody()
	sig := signPayload("whsec_test", time.Now().Unix(), body)
	resp := postWebhook(t, srv.URL+"/v1/billing/webhook", sig, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, "billing.events", fp.topic)
	require.Len(t, fp.values, 1)
	var msg messages.BillingEvent
	require.NoError(t, json.Unmarshal(fp.values[0], &msg))
	require.Equal(t, messages.BillingSubscriptionCreated, msg.Type)
	require.Equal(t, "cus_123", msg.CustomerID)
	require.Equal(t, "active", msg.Status)
}

func TestAPI_BillingWebhook_rejectsBadSignature(t *testing.T) {
	fp := &fakeProducer{}
	wh := newBillingWebhook("whsec_test", fp, "billing.events")
	srv := newTestServer(t, &fakeRepo{}, wh)

	body := webhookBody()

	resp := postWebhook(t, srv.URL+"/v1/billing/webhook", "", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, srv.URL+"/v1/billing/webhook", signPayload("whsec_other", time.Now().Unix(), body), body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Старая метка времени — защита от реплея.
	stale := signPayload("whsec_test", time.Now().Add(-10*time.Minute).Unix(), body)
	resp = postWebhook(t, srv.URL+"/v1/billing/webhook", stale, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Empty(t, fp.values)
}

func TestAPI_BillingWebhook_ignoresEventsWithoutCustomer(t *testing.T) {
	fp := &fakeProducer{}
	wh := newBillingWebhook("whsec_test", fp, "billing.events")
	srv := newTestServer(t, &fakeRepo{}, wh)

	body := []byte(`{"type":"ping","data":{"object":{}}}`)
	sig := signPayload("whsec_test", time.Now().Unix(), body)
	resp := postWebhook(t, srv.URL+"/v1/billing/webhook", sig, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, fp.values)
}

func TestAPI_BillingWebhook_producerDownRetries(t *testing.T) {
	fp := &fakeProducer{err: fmt.Errorf("kafka down")}
	wh := newBillingWebhook("whsec_test", fp, "billing.events")
	srv := newTestServer(t, &fakeRepo{}, wh)

	body := webhookBody()
	sig := signPayload("whsec_test", time.Now().Unix(), body)
	resp := postWebhook(t, srv.URL+"/v1/billing/webhook", sig, body)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
