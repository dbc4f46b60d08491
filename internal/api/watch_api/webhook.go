package watch_api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FlightHunter/FareWatch/internal/broker/messages"
)

// maxWebhookBody ограничивает вебхук-пейлоад разумным размером.
const maxWebhookBody = 256 * 1024

// signatureTolerance guards against replayed webhook payloads.
const signatureTolerance = 5 * time.Minute

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// billingWebhook принимает вебхуки платёжного провайдера, проверяет подпись
// и перекладывает событие в брокер. Применение события к плану пользователя
// делает консьюмер — вебхук должен отвечать быстро.
type billingWebhook struct {
	secret   string
	producer Producer
	topic    string
	now      func() time.Time
}

func newBillingWebhook(secret string, producer Producer, topic string) *billingWebhook {
	return &billingWebhook{secret: secret, producer: producer, topic: topic, now: time.Now}
}

// NewBillingWebhook wires the webhook intake; returns nil when the secret is
// not configured (the route is then not mounted).
func NewBillingWebhook(secret string, producer Producer, topic string) *billingWebhook {
	if secret == "" {
		return nil
	}
	return newBillingWebhook(secret, producer, topic)
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Customer string `json:"customer"`
			Status   string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (h *billingWebhook) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("Stripe-Signature")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if ev.Type == "" || ev.Data.Object.Customer == "" {
		// Провайдер шлёт много типов событий; без customer нам нечего делать.
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	msg := messages.BillingEvent{
		Type:       ev.Type,
		CustomerID: ev.Data.Object.Customer,
		Status:     ev.Data.Object.Status,
		ReceivedAt: h.now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "marshal event")
		return
	}
	if err := h.producer.Publish(r.Context(), h.topic, []byte(msg.CustomerID), b); err != nil {
		slog.Error("publish billing event", "type", msg.Type, "error", err.Error())
		// 5xx заставит провайдера ретраить доставку.
		writeError(w, http.StatusServiceUnavailable, "event not accepted")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// verifySignature checks the `t=<unix>,v1=<hex>` scheme: v1 is the
// HMAC-SHA256 of "<t>.<body>" under the endpoint secret.
func (h *billingWebhook) verifySignature(body []byte, header string) bool {
	if header == "" {
		return false
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			if b, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, b)
			}
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return false
	}

	age := h.now().UTC().Sub(time.Unix(ts, 0).UTC())
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	want := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(sig, want) {
			return true
		}
	}
	return false
}
