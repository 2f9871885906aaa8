package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxWebhookBodySize caps accepted payloads; GitHub documents ~25 MB as its maximum.
const maxWebhookBodySize = 32 * 1024 * 1024

// deduplicationWindow is how long delivery IDs are remembered; GitHub
// redeliveries arrive within minutes.
const deduplicationWindow = time.Hour

const maxTrackedDeliveries = 10000

var (
	errSignatureMissing  = errors.New("webhook: signature header missing")
	errSignatureMismatch = errors.New("webhook: signature mismatch")
)

// EventFunc handles one verified, normalized event.
type EventFunc func(ctx context.Context, event *Event)

// WebhookHandler verifies X-Hub-Signature-256, drops redelivered IDs and
// passes normalized events to a callback.
type WebhookHandler struct {
	secret     []byte
	logger     *slog.Logger
	onEvent    EventFunc
	deliveries *expirable.LRU[string, struct{}]

	// OnReceive, if set, observes every authenticated delivery by event type.
	OnReceive func(eventType string)
}

// NewWebhookHandler panics on an empty secret or nil callback; either would
// silently accept forged or drop real deliveries.
func NewWebhookHandler(secret []byte, logger *slog.Logger, onEvent EventFunc) *WebhookHandler {
	if len(secret) == 0 {
		panic("github: webhook secret is required")
	}
	if onEvent == nil {
		panic("github: webhook callback is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		secret:     secret,
		logger:     logger.With("component", "webhook"),
		onEvent:    onEvent,
		deliveries: expirable.NewLRU[string, struct{}](maxTrackedDeliveries, nil, deduplicationWindow),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Error("failed to read body", "err", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("signature verification failed", "err", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if eventType == "" {
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	if h.OnReceive != nil {
		h.OnReceive(eventType)
	}

	if deliveryID != "" {
		if _, seen := h.deliveries.Get(deliveryID); seen {
			h.logger.Debug("duplicate delivery ignored", "delivery_id", deliveryID, "event_type", eventType)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.deliveries.Add(deliveryID, struct{}{})
	}

	event, err := ParseEvent(eventType, body)
	if err != nil {
		// A malformed payload will not improve on redelivery.
		h.logger.Error("event translation failed", "event_type", eventType, "delivery_id", deliveryID, "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if event == nil {
		h.logger.Debug("event ignored", "event_type", eventType, "delivery_id", deliveryID)
		w.WriteHeader(http.StatusOK)
		return
	}
	event.DeliveryID = deliveryID

	h.logger.Info("webhook received", "event_type", eventType, "kind", event.Kind.String(), "delivery_id", deliveryID)
	h.onEvent(r.Context(), event)
	w.WriteHeader(http.StatusOK)
}

// VerifySignature checks a "sha256=<hex>" HMAC of body in constant time.
func VerifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return errSignatureMissing
	}
	hexSignature, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return errSignatureMismatch
	}
	got, err := hex.DecodeString(hexSignature)
	if err != nil {
		return errSignatureMismatch
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errSignatureMismatch
	}
	return nil
}
