package watch_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/FlightHunter/FareWatch/internal/models"
	"github.com/FlightHunter/FareWatch/internal/services/watchlists"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

type WatchAPI struct {
	svc *watchlists.Service

	billing *billingWebhook
}

func New(svc *watchlists.Service, billing *billingWebhook) *WatchAPI {
	return &WatchAPI{svc: svc, billing: billing}
}

// Routes mounts the public surface. Авторизация — заглушка: доверяем
// заголовку X-User-ID (настоящий auth живёт перед нами на гейтвее).
func (a *WatchAPI) Routes(r chi.Router) {
	r.Post("/v1/users", a.createUser)

	r.Group(func(r chi.Router) {
		r.Use(requireUserID)
		r.Get("/v1/me", a.getMe)
		r.Get("/v1/users/{id}", a.getUser)
		r.Post("/v1/watchlists", a.createWatchlist)
		r.Get("/v1/watchlists", a.listWatchlists)
		r.Get("/v1/watchlists/{id}", a.getWatchlist)
		r.Patch("/v1/watchlists/{id}", a.updateWatchlist)
		r.Put("/v1/watchlists/{id}", a.updateWatchlist)
		r.Delete("/v1/watchlists/{id}", a.deleteWatchlist)
		r.Get("/v1/watchlists/{id}/alerts", a.listAlerts)
		r.Get("/v1/watchlists/{id}/alerts/latest", a.latestAlert)
	})

	if a.billing != nil {
		r.Post("/v1/billing/webhook", a.billing.handle)
	}
}

type userCreateRequest struct {
	Email    string  `json:"email"`
	TgChatID *string `json:"tgChatId,omitempty"`
}

type userResponse struct {
	ID       uint64  `json:"id"`
	Email    string  `json:"email"`
	Plan     string  `json:"plan"`
	TgChatID *string `json:"tgChatId,omitempty"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Plan: u.Plan, TgChatID: u.TgChatID}
}

func (a *WatchAPI) createUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	u, err := a.svc.CreateUser(r.Context(), models.UserCreateInput{Email: req.Email, TgChatID: req.TgChatID})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (a *WatchAPI) getMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.GetUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (a *WatchAPI) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id != userID(r) {
		// Чужой профиль выглядит как несуществующий.
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	u, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type watchlistCreateRequest struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	DateFrom    string  `json:"dateFrom"`
	DateTo      string  `json:"dateTo"`
	FlexDays    int     `json:"flexDays"`
	PriceTarget float64 `json:"priceTarget"`
	Pax         int     `json:"pax"`
	CabinClass  string  `json:"cabinClass"`
	Channel     string  `json:"channel"`
	TgChatID    *string `json:"tgChatId,omitempty"`
}

type watchlistResponse struct {
	ID          uint64  `json:"id"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	DateFrom    string  `json:"dateFrom"`
	DateTo      string  `json:"dateTo"`
	FlexDays    int     `json:"flexDays"`
	PriceTarget float64 `json:"priceTarget"`
	Pax         int     `json:"pax"`
	CabinClass  string  `json:"cabinClass"`
	Channel     string  `json:"channel"`
	TgChatID    *string `json:"tgChatId,omitempty"`
	IsActive    bool    `json:"isActive"`
	CreatedAt   string  `json:"createdAt"`
}

func toWatchlistResponse(wl *models.Watchlist) watchlistResponse {
	return watchlistResponse{
		ID:          wl.ID,
		Origin:      wl.Origin,
		Destination: wl.Destination,
		DateFrom:    wl.DateFrom.Format(dateLayout),
		DateTo:      wl.DateTo.Format(dateLayout),
		FlexDays:    wl.FlexDays,
		PriceTarget: wl.PriceTarget,
		Pax:         wl.Pax,
		CabinClass:  wl.CabinClass,
		Channel:     wl.Channel,
		TgChatID:    wl.TgChatID,
		IsActive:    wl.IsActive,
		CreatedAt:   wl.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (req watchlistCreateRequest) toInput() (models.WatchlistCreateInput, error) {
	from, err := time.Parse(dateLayout, req.DateFrom)
	if err != nil {
		return models.WatchlistCreateInput{}, errors.New("dateFrom must be YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, req.DateTo)
	if err != nil {
		return models.WatchlistCreateInput{}, errors.New("dateTo must be YYYY-MM-DD")
	}
	pax := req.Pax
	if pax == 0 {
		pax = 1
	}
	cabin := req.CabinClass
	if cabin == "" {
		cabin = models.CabinEconomy
	}
	return models.WatchlistCreateInput{
		Origin:      req.Origin,
		Destination: req.Destination,
		DateFrom:    from,
		DateTo:      to,
		FlexDays:    req.FlexDays,
		PriceTarget: req.PriceTarget,
		Pax:         pax,
		CabinClass:  cabin,
		Channel:     req.Channel,
		TgChatID:    req.TgChatID,
	}, nil
}

func (a *WatchAPI) createWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wl, err := a.svc.Create(r.Context(), userID(r), in)
	if err != nil {
		if errors.Is(err, watchlists.ErrPlanLimit) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toWatchlistResponse(wl))
}

func (a *WatchAPI) listWatchlists(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]watchlistResponse, 0, len(items))
	for _, wl := range items {
		out = append(out, toWatchlistResponse(wl))
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlists": out})
}

func (a *WatchAPI) getWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	wl, err := a.svc.Get(r.Context(), userID(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWatchlistResponse(wl))
}

type watchlistUpdateRequest struct {
	PriceTarget *float64 `json:"priceTarget,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
}

func (a *WatchAPI) updateWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req watchlistUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	wl, err := a.svc.Update(r.Context(), userID(r), id, models.WatchlistUpdateInput{
		PriceTarget: req.PriceTarget,
		IsActive:    req.IsActive,
	})
	if err != nil {
		if errors.Is(err, watchlists.ErrPlanLimit) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWatchlistResponse(wl))
}

func (a *WatchAPI) deleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.Delete(r.Context(), userID(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alertResponse struct {
	ID       uint64  `json:"id"`
	OfferID  string  `json:"offerId,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Channel  string  `json:"channel"`
	Status   string  `json:"status"`
	SentAt   *string `json:"sentAt,omitempty"`
	Error    *string `json:"error,omitempty"`
}

func (a *WatchAPI) listAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := a.svc.ListAlerts(r.Context(), userID(r), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]alertResponse, 0, len(alerts))
	for _, al := range alerts {
		resp := alertResponse{
			ID: al.ID, Price: al.Price, Currency: al.Currency,
			Channel: al.Channel, Status: al.Status, Error: al.ErrorMessage,
		}
		if al.SentAt != nil {
			s := al.SentAt.UTC().Format(time.RFC3339)
			resp.SentAt = &s
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (a *WatchAPI) latestAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, err := a.svc.LatestAlert(r.Context(), userID(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "no recent alert")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid watchlist id")
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, watchlists.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
