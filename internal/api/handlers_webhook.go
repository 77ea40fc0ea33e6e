/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from the
 * payment gateway. The raw body is HMAC-SHA512 verified against the webhook
 * secret before anything is parsed; verified events are published to the topic
 * exchange and reconciled asynchronously by the queue consumer. The endpoint
 * always acknowledges verified events quickly so the gateway does not retry
 * against slow downstream work.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha512, encoding/hex, encoding/json, io: Standard Go libraries.
 * - internal/domain: Event payloads.
 * - pkg/rabbitmq: For handing events to the consumer.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/collably/collab-service/internal/app"
	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/pkg/rabbitmq"
)

// WebhookHandler processes incoming webhooks from the payment gateway.
type WebhookHandler struct {
	producer    rabbitmq.Publisher
	secret      string
	rateLimiter *app.RedisRateLimiter
	ratePerMin  int
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(producer rabbitmq.Publisher, secret string, rateLimiter *app.RedisRateLimiter, ratePerMin int) *WebhookHandler {
	return &WebhookHandler{producer: producer, secret: secret, rateLimiter: rateLimiter, ratePerMin: ratePerMin}
}

// gatewayWebhookEvent is the envelope the gateway posts.
type gatewayWebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID              int64  `json:"id"`
		Reference       string `json:"reference"`
		Status          string `json:"status"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Channel         string `json:"channel"`
		GatewayResponse string `json:"gateway_response"`
		Reason          string `json:"reason"`
		TransferCode    string `json:"transfer_code"`
	} `json:"data"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.consumeRateLimit(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Printf("level=error component=webhook msg=\"failed to read body\" err=%v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get("x-paystack-signature"), body) {
		log.Printf("level=warn component=webhook msg=\"invalid signature\" remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event gatewayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook msg=\"undecodable payload\" err=%v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	eventID := event.Data.Reference + ":" + event.Event
	occurredAt := time.Now().UTC()

	switch event.Event {
	case "charge.success", "charge.failed":
		status := event.Data.Status
		if status == "" {
			status = strings.TrimPrefix(event.Event, "charge.")
		}
		charge := domain.ChargeStatusEvent{
			EventID:     eventID,
			Reference:   event.Data.Reference,
			Status:      status,
			Channel:     event.Data.Channel,
			GatewayTxID: strconv.FormatInt(event.Data.ID, 10),
			Amount:      event.Data.Amount,
			Currency:    event.Data.Currency,
			Reason:      event.Data.GatewayResponse,
			OccurredAt:  occurredAt,
		}
		if err := h.producer.Publish(r.Context(), rabbitmq.CollabEventsExchange, "gateway.charge.status", charge); err != nil {
			log.Printf("level=error component=webhook msg=\"failed to enqueue charge event\" reference=%s err=%v", charge.Reference, err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
	case "transfer.success", "transfer.failed", "transfer.reversed":
		transfer := domain.TransferStatusEvent{
			EventID:      eventID,
			Reference:    event.Data.Reference,
			TransferCode: event.Data.TransferCode,
			Status:       strings.TrimPrefix(event.Event, "transfer."),
			Amount:       event.Data.Amount,
			Reason:       event.Data.Reason,
			OccurredAt:   occurredAt,
		}
		if err := h.producer.Publish(r.Context(), rabbitmq.CollabEventsExchange, "gateway.transfer.status", transfer); err != nil {
			log.Printf("level=error component=webhook msg=\"failed to enqueue transfer event\" reference=%s err=%v", transfer.Reference, err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
	default:
		log.Printf("level=info component=webhook msg=\"unhandled event type\" event=%s", event.Event)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isValidSignature checks the HMAC-SHA512 hex signature over the raw body.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.secret == "" {
		log.Printf("level=warn component=webhook msg=\"webhook secret not set; rejecting\"")
		return false
	}
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(header)), []byte(expected))
}

// consumeRateLimit caps webhook intake per remote address. Redis being down
// fails open.
func (h *WebhookHandler) consumeRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil || h.ratePerMin <= 0 {
		return true
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "webhook", r.RemoteAddr, h.ratePerMin, time.Minute)
	if err != nil {
		return true
	}
	if count > h.ratePerMin {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return false
	}
	return true
}
