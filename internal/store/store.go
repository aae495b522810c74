package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthorizationStatus is the local lifecycle state of a payment authorization.
type AuthorizationStatus string

const (
	StatusPending   AuthorizationStatus = "pending"
	StatusSucceeded AuthorizationStatus = "succeeded"
	StatusFailed    AuthorizationStatus = "failed"
)

// EventType classifies entries in the append-only order event log.
type EventType string

const (
	EventSucceeded       EventType = "succeeded"
	EventFailed          EventType = "failed"
	EventChargeSucceeded EventType = "charge_succeeded"
	EventUnhandled       EventType = "unhandled"
)

// Authorization mirrors a processor-side payment authorization tracked locally.
type Authorization struct {
	ID               pgtype.UUID
	IntentID         string
	ClientSecret     string
	AmountMinorUnits int64
	Currency         string
	Status           AuthorizationStatus
	CustomerEmail    string
	Metadata         []byte
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

// OrderEvent is one verified webhook notification, recorded verbatim.
type OrderEvent struct {
	ID            pgtype.UUID
	IntentID      string
	Type          EventType
	FailureReason string
	Payload       []byte
	ReceivedAt    pgtype.Timestamptz
}

// ErrDuplicateIntent indicates an authorization row already exists for an intent id.
var ErrDuplicateIntent = errors.New("store: authorization already recorded for intent")

// Store persists payment authorizations and order events in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// CreateAuthorizationParams carries the fields recorded when an intent is issued.
type CreateAuthorizationParams struct {
	IntentID         string
	ClientSecret     string
	AmountMinorUnits int64
	Currency         string
	CustomerEmail    string
	Metadata         []byte
}

const createAuthorizationSQL = `
INSERT INTO payment_authorizations (intent_id, client_secret, amount_minor_units, currency, status, customer_email, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, intent_id, client_secret, amount_minor_units, currency, status, customer_email, metadata, created_at, updated_at`

// CreateAuthorization records a freshly issued authorization with status pending.
func (s *Store) CreateAuthorization(ctx context.Context, arg CreateAuthorizationParams) (Authorization, error) {
	row := s.Pool.QueryRow(ctx, createAuthorizationSQL,
		arg.IntentID, arg.ClientSecret, arg.AmountMinorUnits, arg.Currency, StatusPending, arg.CustomerEmail, arg.Metadata)
	auth, err := scanAuthorization(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Authorization{}, ErrDuplicateIntent
		}
		return Authorization{}, err
	}
	return auth, nil
}

const getAuthorizationSQL = `
SELECT id, intent_id, client_secret, amount_minor_units, currency, status, customer_email, metadata, created_at, updated_at
FROM payment_authorizations
WHERE intent_id = $1`

// GetAuthorizationByIntent fetches an authorization by its processor intent id.
func (s *Store) GetAuthorizationByIntent(ctx context.Context, intentID string) (Authorization, error) {
	return scanAuthorization(s.Pool.QueryRow(ctx, getAuthorizationSQL, intentID))
}

// TransitionParams describes a requested state transition for an authorization.
type TransitionParams struct {
	IntentID      string
	Target        AuthorizationStatus
	EventType     EventType
	FailureReason string
	Payload       []byte
}

// TransitionResult reports what a transition attempt did.
type TransitionResult struct {
	// Found is false when no authorization row exists for the intent id.
	Found bool
	// Applied is true only when the row actually moved out of pending.
	// Re-delivery of a terminal event leaves Applied false.
	Applied bool
	// Authorization is the row as read under the lock, before the update.
	Authorization Authorization
	Event         OrderEvent
}

// ApplyTransition records the event and, when the authorization is still
// pending, moves it to the target terminal state. The row is locked FOR
// UPDATE so concurrent deliveries for the same intent serialize and the
// transition is applied at most once.
func (s *Store) ApplyTransition(ctx context.Context, arg TransitionParams) (TransitionResult, error) {
	var result TransitionResult

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	auth, err := scanAuthorization(tx.QueryRow(ctx, getAuthorizationSQL+" FOR UPDATE", arg.IntentID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Unknown intent: record the event anyway so nothing is lost, but
		// there is no row to transition.
	case err != nil:
		return result, err
	default:
		result.Found = true
		result.Authorization = auth
		if auth.Status == StatusPending {
			if _, err := tx.Exec(ctx,
				`UPDATE payment_authorizations SET status = $2, updated_at = now() WHERE intent_id = $1`,
				arg.IntentID, arg.Target); err != nil {
				return result, err
			}
			result.Applied = true
		}
	}

	event, err := insertOrderEvent(ctx, tx, arg.IntentID, arg.EventType, arg.FailureReason, arg.Payload)
	if err != nil {
		return result, err
	}
	result.Event = event

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, err
	}
	return result, nil
}

// RecordEventParams describes an informational or unhandled event.
type RecordEventParams struct {
	IntentID      string
	Type          EventType
	FailureReason string
	Payload       []byte
}

// RecordEvent appends an event without touching authorization state.
func (s *Store) RecordEvent(ctx context.Context, arg RecordEventParams) (OrderEvent, error) {
	return insertOrderEvent(ctx, s.Pool, arg.IntentID, arg.Type, arg.FailureReason, arg.Payload)
}

const listEventsSQL = `
SELECT id, intent_id, event_type, failure_reason, payload, received_at
FROM order_events
WHERE intent_id = $1
ORDER BY received_at ASC, id ASC`

// ListEventsByIntent returns the recorded events for an intent, oldest first.
func (s *Store) ListEventsByIntent(ctx context.Context, intentID string) ([]OrderEvent, error) {
	rows, err := s.Pool.Query(ctx, listEventsSQL, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var ev OrderEvent
		if err := rows.Scan(&ev.ID, &ev.IntentID, &ev.Type, &ev.FailureReason, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PingDB probes database connectivity for readiness checks.
func (s *Store) PingDB(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Pool.Ping(ctx)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertOrderEventSQL = `
INSERT INTO order_events (intent_id, event_type, failure_reason, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, intent_id, event_type, failure_reason, payload, received_at`

func insertOrderEvent(ctx context.Context, db execer, intentID string, eventType EventType, reason string, payload []byte) (OrderEvent, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var ev OrderEvent
	err := db.QueryRow(ctx, insertOrderEventSQL, intentID, eventType, reason, payload).
		Scan(&ev.ID, &ev.IntentID, &ev.Type, &ev.FailureReason, &ev.Payload, &ev.ReceivedAt)
	return ev, err
}

func scanAuthorization(row pgx.Row) (Authorization, error) {
	var a Authorization
	err := row.Scan(&a.ID, &a.IntentID, &a.ClientSecret, &a.AmountMinorUnits, &a.Currency,
		&a.Status, &a.CustomerEmail, &a.Metadata, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
