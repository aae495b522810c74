package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/emberline/storefront-api/internal/common"
	"github.com/emberline/storefront-api/internal/events"
	"github.com/emberline/storefront-api/internal/obs"
	"github.com/emberline/storefront-api/internal/store"
)

// Event type discriminators delivered by the processor.
const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
	eventChargeSucceeded = "charge.succeeded"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// Webhook reconciles asynchronous payment outcome notifications against the
// locally tracked authorizations. Delivery is at-least-once; the FOR UPDATE
// check-and-set in the store makes transitions idempotent, and side effects
// fire exactly when a transition is applied.
type Webhook struct {
	Provider Provider
	Store    AuthorizationStore
	Bus      *events.Bus
	Replay   *redis.Client
	// ReplayTTL bounds how long a delivered body hash is remembered for
	// redelivery logging.
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle processes one inbound notification. Signature verification happens
// before the body is parsed; a failure is a 400 with no state change. Every
// verified event, including unrecognized types, is recorded and acked so the
// processor stops retrying.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Provider == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "webhook unavailable")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "unable to read payload")
		return
	}

	notification, err := h.Provider.VerifyNotification(body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.count("invalid", "rejected")
		var sigErr *SignatureVerificationError
		if errors.As(err, &sigErr) {
			h.Logger.Warn().Str("reason", sigErr.Reason).Msg("webhook signature rejected")
		} else {
			h.Logger.Warn().Err(err).Msg("webhook payload rejected")
		}
		common.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:stripe:%s", common.Sha256Hex(body))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			// The transition check-and-set is the real idempotency guard;
			// a replay-store outage must not bounce verified events.
			h.Logger.Error().Err(err).Msg("webhook replay store unavailable")
		} else if !fresh {
			// Byte-identical redelivery. Logged for visibility only; the
			// processor retries on any non-2xx, so a redelivered body may
			// well be the first one that reaches the store.
			h.Logger.Info().Str("type", notification.Type).Str("intent_id", notification.IntentID).Msg("webhook redelivery")
		}
	}

	switch notification.Type {
	case eventIntentSucceeded:
		h.transition(ctx, w, notification, store.StatusSucceeded, store.EventSucceeded)
	case eventIntentFailed:
		h.transition(ctx, w, notification, store.StatusFailed, store.EventFailed)
	case eventChargeSucceeded:
		// Secondary confirmation; may arrive before or after the intent
		// event and never drives authorization state.
		h.record(ctx, w, notification, store.EventChargeSucceeded)
	default:
		h.record(ctx, w, notification, store.EventUnhandled)
	}
}

func (h *Webhook) transition(ctx context.Context, w http.ResponseWriter, n Notification, target store.AuthorizationStatus, eventType store.EventType) {
	result, err := h.Store.ApplyTransition(ctx, store.TransitionParams{
		IntentID:      n.IntentID,
		Target:        target,
		EventType:     eventType,
		FailureReason: n.FailureMessage,
		Payload:       n.Raw,
	})
	if err != nil {
		h.count(n.Type, "store_error")
		h.Logger.Error().Err(err).Str("intent_id", n.IntentID).Msg("webhook transition failed")
		common.JSONError(w, http.StatusInternalServerError, "unable to record event")
		return
	}

	switch {
	case !result.Found:
		h.count(n.Type, "unknown_intent")
		h.Logger.Warn().Str("intent_id", n.IntentID).Str("type", n.Type).Msg("webhook for unknown authorization")
	case result.Applied:
		h.count(n.Type, "applied")
		h.emit(ctx, target, result.Authorization)
	default:
		h.count(n.Type, "duplicate")
	}
	ack(w)
}

func (h *Webhook) record(ctx context.Context, w http.ResponseWriter, n Notification, eventType store.EventType) {
	if _, err := h.Store.RecordEvent(ctx, store.RecordEventParams{
		IntentID: n.IntentID,
		Type:     eventType,
		Payload:  n.Raw,
	}); err != nil {
		h.count(n.Type, "store_error")
		h.Logger.Error().Err(err).Str("intent_id", n.IntentID).Msg("webhook event not recorded")
		common.JSONError(w, http.StatusInternalServerError, "unable to record event")
		return
	}
	h.count(n.Type, "recorded")
	ack(w)
}

// emit fans out the terminal outcome. Called only when the transition was
// applied, which the store guarantees happens at most once per authorization.
func (h *Webhook) emit(ctx context.Context, target store.AuthorizationStatus, auth store.Authorization) {
	if h.Bus == nil {
		return
	}
	payload := map[string]any{
		"email":    auth.CustomerEmail,
		"amount":   auth.AmountMinorUnits,
		"currency": auth.Currency,
	}
	topic := events.TopicOrderPaid
	if target == store.StatusFailed {
		topic = events.TopicPaymentFailed
	}
	if err := h.Bus.Emit(ctx, topic, auth.IntentID, payload); err != nil {
		h.Logger.Error().Err(err).Str("intent_id", auth.IntentID).Msg("webhook event fan-out failed")
	}
}

func (h *Webhook) count(eventType, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(eventType, result).Inc()
	}
}

func ack(w http.ResponseWriter) {
	common.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
