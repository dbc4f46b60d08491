package pgwatch

import (
	"context"
	"testing"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "farewatch_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/farewatch_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGWatch_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	u, err := st.CreateUser(ctx, models.UserCreateInput{Email: "hunter@example.com"})
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	require.Equal(t, models.PlanFree, u.Plan)

	w, err := st.CreateWatchlist(ctx, u.ID, models.WatchlistCreateInput{
		Origin:      "GRU",
		Destination: "JFK",
		DateFrom:    time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		PriceTarget: 800,
		Pax:         1,
		CabinClass:  models.CabinEconomy,
		Channel:     models.ChannelEmail,
	})
	require.NoError(t, err)
	require.True(t, w.IsActive)

	active, err := st.ListActiveWatchlists(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	now := time.Now().UTC()
	sum := models.OfferSummary{
		OfferID:  "abc123",
		Price:    750,
		Currency: "BRL",
		Airlines: "LA",
		Stops:    0,
		Duration: "PT10H30M",
		RawJSON:  `{"id":"abc123"}`,
	}
	pc, err := st.InsertPriceCache(ctx, w.ID, sum, now, 24*time.Hour)
	require.NoError(t, err)
	require.NotZero(t, pc.ID)
	require.WithinDuration(t, now.Add(24*time.Hour), *pc.ExpiresAt, time.Second)

	// Вставка не дедуплицируется: второй фетч того же оффера даёт новую строку.
	pc2, err := st.InsertPriceCache(ctx, w.ID, sum, now, 24*time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, pc.ID, pc2.ID)

	exists, err := st.RecentSentAlertExists(ctx, w.ID, "abc123", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, exists)

	a, err := st.CreateAlert(ctx, w.ID, pc.ID, 750, "BRL", models.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, models.AlertStatusPending, a.Status)

	// PENDING alert does not trip the dedup gate.
	exists, err = st.RecentSentAlertExists(ctx, w.ID, "abc123", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, st.MarkAlertSent(ctx, a.ID, now))

	exists, err = st.RecentSentAlertExists(ctx, w.ID, "abc123", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, exists)

	// Terminal: a second finalize is a no-op.
	require.NoError(t, st.MarkAlertFailed(ctx, a.ID, "late failure"))
	alerts, err := st.ListAlertsByWatchlist(ctx, w.ID, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, models.AlertStatusSent, alerts[0].Status)
	require.Nil(t, alerts[0].ErrorMessage)

	// Different offer id is not suppressed.
	exists, err = st.RecentSentAlertExists(ctx, w.ID, "other-offer", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPGWatch_Users_MissingAndDuplicate(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	// Несуществующий id — это (nil, nil), а не ошибка.
	got, err := st.GetUserByID(ctx, 424242)
	require.NoError(t, err)
	require.Nil(t, got)

	chat := "555"
	u, err := st.CreateUser(ctx, models.UserCreateInput{Email: "dup@example.com", TgChatID: &chat})
	require.NoError(t, err)
	require.NotNil(t, u.TgChatID)

	_, err = st.CreateUser(ctx, models.UserCreateInput{Email: "dup@example.com"})
	require.ErrorIs(t, err, ErrEmailTaken)

	// Существующий аккаунт не затронут повторной регистрацией.
	again, err := st.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, again.TgChatID)
	require.Equal(t, "555", *again.TgChatID)
}

func TestPGWatch_SweepExpiredPrices(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	u, err := st.CreateUser(ctx, models.UserCreateInput{Email: "sweep@example.com"})
	require.NoError(t, err)
	w, err := st.CreateWatchlist(ctx, u.ID, models.WatchlistCreateInput{
		Origin: "GRU", Destination: "LIS",
		DateFrom:    time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		PriceTarget: 500, Pax: 1,
		CabinClass: models.CabinEconomy, Channel: models.ChannelTelegram,
	})
	require.NoError(t, err)

	fetched := time.Now().UTC().Add(-48 * time.Hour)
	sum := models.OfferSummary{OfferID: "old", Price: 400, Currency: "BRL", Duration: "PT9H"}
	_, err = st.InsertPriceCache(ctx, w.ID, sum, fetched, 24*time.Hour)
	require.NoError(t, err)

	fresh := models.OfferSummary{OfferID: "fresh", Price: 400, Currency: "BRL", Duration: "PT9H"}
	_, err = st.InsertPriceCache(ctx, w.ID, fresh, time.Now().UTC(), 24*time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	n, err := st.SweepExpiredPrices(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Idempotent at the same instant.
	n, err = st.SweepExpiredPrices(ctx, now)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPGWatch_WatchlistUpdateAndCounts(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	u, err := st.CreateUser(ctx, models.UserCreateInput{Email: "caps@example.com"})
	require.NoError(t, err)

	in := models.WatchlistCreateInput{
		Origin: "GIG", Destination: "MIA",
		DateFrom:    time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		DateTo:      time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC),
		PriceTarget: 1200, Pax: 2,
		CabinClass: models.CabinBusiness, Channel: models.ChannelEmail,
	}
	w, err := st.CreateWatchlist(ctx, u.ID, in)
	require.NoError(t, err)

	n, err := st.CountActiveWatchlistsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	newTarget := 1000.0
	inactive := false
	upd, err := st.UpdateWatchlist(ctx, w.ID, models.WatchlistUpdateInput{PriceTarget: &newTarget, IsActive: &inactive})
	require.NoError(t, err)
	require.Equal(t, 1000.0, upd.PriceTarget)
	require.False(t, upd.IsActive)

	n, err = st.CountActiveWatchlistsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	ok, err := st.DeleteWatchlist(ctx, w.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetWatchlistByID(ctx, w.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
