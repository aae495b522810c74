package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/emberline/storefront-api/internal/events"
	"github.com/emberline/storefront-api/internal/payment"
	"github.com/emberline/storefront-api/internal/store"
)

// stubVerifier short-circuits signature verification so webhook handling can
// be tested without real HMAC headers.
type stubVerifier struct {
	notification payment.Notification
	err          error
}

func (v stubVerifier) CreateIntent(_ context.Context, _ payment.IntentRequest) (payment.IntentResponse, error) {
	return payment.IntentResponse{}, nil
}

func (v stubVerifier) VerifyNotification(body []byte, _ string) (payment.Notification, error) {
	if v.err != nil {
		return payment.Notification{}, v.err
	}
	n := v.notification
	n.Raw = body
	return n, nil
}

// memStore tracks authorizations in memory with the same pending-only
// transition rule as the Postgres store.
type memStore struct {
	auths       map[string]store.Authorization
	events      []store.OrderEvent
	transitions int
	applyErrs   int
}

func newMemStore(auths ...store.Authorization) *memStore {
	m := &memStore{auths: map[string]store.Authorization{}}
	for _, a := range auths {
		m.auths[a.IntentID] = a
	}
	return m
}

func (m *memStore) CreateAuthorization(_ context.Context, arg store.CreateAuthorizationParams) (store.Authorization, error) {
	auth := store.Authorization{IntentID: arg.IntentID, Status: store.StatusPending, CustomerEmail: arg.CustomerEmail, AmountMinorUnits: arg.AmountMinorUnits, Currency: arg.Currency}
	m.auths[arg.IntentID] = auth
	return auth, nil
}

func (m *memStore) ApplyTransition(_ context.Context, arg store.TransitionParams) (store.TransitionResult, error) {
	if m.applyErrs > 0 {
		m.applyErrs--
		return store.TransitionResult{}, errors.New("connection reset by peer")
	}
	m.events = append(m.events, store.OrderEvent{IntentID: arg.IntentID, Type: arg.EventType, FailureReason: arg.FailureReason, Payload: arg.Payload})
	auth, ok := m.auths[arg.IntentID]
	if !ok {
		return store.TransitionResult{Found: false}, nil
	}
	if auth.Status != store.StatusPending {
		return store.TransitionResult{Found: true, Applied: false, Authorization: auth}, nil
	}
	m.transitions++
	before := auth
	auth.Status = arg.Target
	m.auths[arg.IntentID] = auth
	return store.TransitionResult{Found: true, Applied: true, Authorization: before}, nil
}

func (m *memStore) RecordEvent(_ context.Context, arg store.RecordEventParams) (store.OrderEvent, error) {
	ev := store.OrderEvent{IntentID: arg.IntentID, Type: arg.Type, Payload: arg.Payload}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memStore) ListEventsByIntent(_ context.Context, intentID string) ([]store.OrderEvent, error) {
	out := []store.OrderEvent{}
	for _, ev := range m.events {
		if ev.IntentID == intentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type captureNotifier struct {
	received []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.received = append(c.received, ev)
	return nil
}

func pendingAuth(intentID string) store.Authorization {
	return store.Authorization{
		ID:               pgtype.UUID{Bytes: uuid.New(), Valid: true},
		IntentID:         intentID,
		Status:           store.StatusPending,
		CustomerEmail:    "buyer@example.com",
		AmountMinorUnits: 6899,
		Currency:         "usd",
	}
}

func newTestWebhook(t *testing.T, provider payment.Provider, st *memStore, capture *captureNotifier) payment.Webhook {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return payment.Webhook{
		Provider:  provider,
		Store:     st,
		Bus:       &events.Bus{Notifiers: []events.Notifier{capture}},
		Replay:    client,
		ReplayTTL: time.Hour,
		Logger:    zerolog.Nop(),
	}
}

func deliver(t *testing.T, h payment.Webhook, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set(payment.SignatureHeader, "t=1,v1=stubbed")
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

func assertAck(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack["received"] {
		t.Fatalf("expected received:true, got %s", rr.Body.String())
	}
}

func TestWebhookSucceededTransition(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{EventID: "evt_1", Type: "payment_intent.succeeded", IntentID: "pi_abc"}}, st, capture)

	rr := deliver(t, h, `{"id":"evt_1"}`)
	assertAck(t, rr)

	if st.auths["pi_abc"].Status != store.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", st.auths["pi_abc"].Status)
	}
	if len(capture.received) != 1 || capture.received[0].Topic != events.TopicOrderPaid {
		t.Fatalf("expected one order.paid event, got %+v", capture.received)
	}
	var payload map[string]any
	if err := json.Unmarshal(capture.received[0].Payload, &payload); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if payload["email"] != "buyer@example.com" {
		t.Fatalf("expected customer email in payload, got %v", payload)
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{EventID: "evt_1", Type: "payment_intent.succeeded", IntentID: "pi_abc"}}, st, capture)

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))
	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))

	if st.transitions != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", st.transitions)
	}
	if st.auths["pi_abc"].Status != store.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", st.auths["pi_abc"].Status)
	}
	if len(capture.received) != 1 {
		t.Fatalf("side effects must fire once, got %d events", len(capture.received))
	}
	// Both deliveries are still recorded in the event log.
	logged, _ := st.ListEventsByIntent(context.Background(), "pi_abc")
	if len(logged) != 2 {
		t.Fatalf("expected both deliveries logged, got %d", len(logged))
	}
}

func TestWebhookRetryAfterStoreErrorStillEmits(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	st.applyErrs = 1
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{EventID: "evt_1", Type: "payment_intent.succeeded", IntentID: "pi_abc"}}, st, capture)

	// First delivery hits a store error; Stripe retries the same body.
	rr := deliver(t, h, `{"id":"evt_1"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store error, got %d", rr.Code)
	}
	if len(capture.received) != 0 {
		t.Fatalf("failed delivery must not emit, got %+v", capture.received)
	}

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))
	if st.auths["pi_abc"].Status != store.StatusSucceeded {
		t.Fatalf("expected succeeded after retry, got %s", st.auths["pi_abc"].Status)
	}
	if len(capture.received) != 1 || capture.received[0].Topic != events.TopicOrderPaid {
		t.Fatalf("retry must still emit order.paid exactly once, got %+v", capture.received)
	}
}

func TestWebhookConflictingTerminalEventKeepsFirstState(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}

	succeeded := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "payment_intent.succeeded", IntentID: "pi_abc"}}, st, capture)
	assertAck(t, deliver(t, succeeded, `{"id":"evt_1"}`))

	failed := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "payment_intent.payment_failed", IntentID: "pi_abc", FailureMessage: "card declined"}}, st, capture)
	assertAck(t, deliver(t, failed, `{"id":"evt_2"}`))

	if st.auths["pi_abc"].Status != store.StatusSucceeded {
		t.Fatalf("terminal state must not be overwritten, got %s", st.auths["pi_abc"].Status)
	}
	if len(capture.received) != 1 {
		t.Fatalf("only the first terminal transition may emit, got %d", len(capture.received))
	}
}

func TestWebhookPaymentFailedRecordsReason(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "payment_intent.payment_failed", IntentID: "pi_abc", FailureMessage: "Your card has insufficient funds."}}, st, capture)

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))

	if st.auths["pi_abc"].Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", st.auths["pi_abc"].Status)
	}
	logged, _ := st.ListEventsByIntent(context.Background(), "pi_abc")
	if len(logged) != 1 || logged[0].FailureReason != "Your card has insufficient funds." {
		t.Fatalf("expected failure reason recorded, got %+v", logged)
	}
	if len(capture.received) != 1 || capture.received[0].Topic != events.TopicPaymentFailed {
		t.Fatalf("expected payment.failed event, got %+v", capture.received)
	}
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{err: &payment.SignatureVerificationError{Reason: "no matching v1 signature"}}, st, capture)

	rr := deliver(t, h, `{"id":"evt_1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected error message, got %s", rr.Body.String())
	}
	if len(st.events) != 0 {
		t.Fatalf("unverified payloads must not touch the store")
	}
	if st.auths["pi_abc"].Status != store.StatusPending {
		t.Fatalf("state must not change on rejected delivery")
	}
}

func TestWebhookChargeSucceededIsInformational(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "charge.succeeded", IntentID: "pi_abc"}}, st, capture)

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))

	if st.auths["pi_abc"].Status != store.StatusPending {
		t.Fatalf("charge events must not drive authorization state, got %s", st.auths["pi_abc"].Status)
	}
	logged, _ := st.ListEventsByIntent(context.Background(), "pi_abc")
	if len(logged) != 1 || logged[0].Type != store.EventChargeSucceeded {
		t.Fatalf("expected charge_succeeded recorded, got %+v", logged)
	}
	if len(capture.received) != 0 {
		t.Fatalf("charge events must not emit side effects")
	}
}

func TestWebhookUnknownTypeRecordedAndAcked(t *testing.T) {
	st := newMemStore(pendingAuth("pi_abc"))
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "customer.created", IntentID: "pi_abc"}}, st, capture)

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))

	logged, _ := st.ListEventsByIntent(context.Background(), "pi_abc")
	if len(logged) != 1 || logged[0].Type != store.EventUnhandled {
		t.Fatalf("expected unhandled event recorded, got %+v", logged)
	}
}

func TestWebhookUnknownIntentStillAcked(t *testing.T) {
	st := newMemStore()
	capture := &captureNotifier{}
	h := newTestWebhook(t, stubVerifier{notification: payment.Notification{Type: "payment_intent.succeeded", IntentID: "pi_missing"}}, st, capture)

	assertAck(t, deliver(t, h, `{"id":"evt_1"}`))

	if len(capture.received) != 0 {
		t.Fatalf("no side effects for unknown intents")
	}
	logged, _ := st.ListEventsByIntent(context.Background(), "pi_missing")
	if len(logged) != 1 {
		t.Fatalf("event for unknown intent must still be logged, got %d", len(logged))
	}
}
