package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emberline/storefront-api/internal/events"
	"github.com/emberline/storefront-api/internal/obs"
	"github.com/emberline/storefront-api/internal/pricing"
	"github.com/emberline/storefront-api/internal/store"
)

// AuthorizationStore is the persistence surface the payment flow needs.
type AuthorizationStore interface {
	CreateAuthorization(ctx context.Context, arg store.CreateAuthorizationParams) (store.Authorization, error)
	ApplyTransition(ctx context.Context, arg store.TransitionParams) (store.TransitionResult, error)
	RecordEvent(ctx context.Context, arg store.RecordEventParams) (store.OrderEvent, error)
	ListEventsByIntent(ctx context.Context, intentID string) ([]store.OrderEvent, error)
}

// Service issues payment authorizations for checkout requests. Totals are
// always recomputed server side; client-submitted totals are never trusted.
type Service struct {
	Provider Provider
	Store    AuthorizationStore
	Pricing  pricing.Config
	Bus      *events.Bus

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Authorization is what the checkout endpoint hands back to the client.
type Authorization struct {
	IntentID         string
	ClientSecret     string
	AmountMinorUnits int64
	Breakdown        pricing.Breakdown
}

type metadataItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// CreateAuthorization recomputes the cart total, opens a payment intent with
// the processor, and records the authorization locally. Each call creates a
// distinct remote authorization; there is no idempotency key at this layer.
func (s *Service) CreateAuthorization(ctx context.Context, items []pricing.Item, customerEmail string) (Authorization, error) {
	var zero Authorization
	if s == nil || s.Provider == nil || s.Store == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateAuthorization")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("checkout.result", result))
		if obs.CheckoutIntentTotal != nil {
			obs.CheckoutIntentTotal.WithLabelValues(result).Inc()
		}
	}()

	breakdown, err := pricing.Compute(items, s.Pricing)
	if err != nil {
		result = "invalid_cart"
		return zero, err
	}
	amount := pricing.MinorUnits(breakdown.Total)
	span.SetAttributes(attribute.Int64("checkout.amount_minor_units", amount))

	customerEmail = strings.TrimSpace(customerEmail)
	metadata, err := buildMetadata(items, breakdown, customerEmail, s.clock()())
	if err != nil {
		return zero, fmt.Errorf("build metadata: %w", err)
	}

	resp, err := s.Provider.CreateIntent(ctx, IntentRequest{
		AmountMinorUnits: amount,
		Currency:         breakdown.Currency,
		Description:      fmt.Sprintf("Order for %d items", len(items)),
		Metadata:         metadata,
		ReceiptEmail:     customerEmail,
	})
	if err != nil {
		span.RecordError(err)
		return zero, &IntentCreationError{Err: err}
	}

	snapshot, _ := json.Marshal(metadata)
	if _, err := s.Store.CreateAuthorization(ctx, store.CreateAuthorizationParams{
		IntentID:         resp.ID,
		ClientSecret:     resp.ClientSecret,
		AmountMinorUnits: amount,
		Currency:         breakdown.Currency,
		CustomerEmail:    customerEmail,
		Metadata:         snapshot,
	}); err != nil {
		// The remote authorization already exists and cannot be undone from
		// here; the processor garbage-collects unused intents.
		span.RecordError(err)
		return zero, fmt.Errorf("record authorization: %w", err)
	}

	if s.Bus != nil {
		_ = s.Bus.Emit(ctx, events.TopicAuthorizationCreated, resp.ID, map[string]any{
			"amount":   amount,
			"currency": breakdown.Currency,
		})
	}

	result = "success"
	return Authorization{
		IntentID:         resp.ID,
		ClientSecret:     resp.ClientSecret,
		AmountMinorUnits: amount,
		Breakdown:        breakdown,
	}, nil
}

// OrderEvents lists the recorded webhook events for an authorization.
func (s *Service) OrderEvents(ctx context.Context, intentID string) ([]store.OrderEvent, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("payment service not configured")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, errors.New("intent id is required")
	}
	return s.Store.ListEventsByIntent(ctx, intentID)
}

func (s *Service) clock() func() time.Time {
	if s.Now != nil {
		return s.Now
	}
	return time.Now
}

// buildMetadata serialises the order snapshot attached to the remote intent:
// line items, each pricing component at two decimal places, customer email
// (empty string when absent), and the creation timestamp.
func buildMetadata(items []pricing.Item, b pricing.Breakdown, email string, now time.Time) (map[string]string, error) {
	lines := make([]metadataItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, metadataItem{
			ID:       it.ProductID,
			Name:     it.Name,
			Price:    it.UnitPrice,
			Quantity: it.Qty,
		})
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"order_items":    string(encoded),
		"subtotal":       pricing.FormatAmount(b.Subtotal),
		"tax":            pricing.FormatAmount(b.Tax),
		"shipping":       pricing.FormatAmount(b.Shipping),
		"total":          pricing.FormatAmount(b.Total),
		"customer_email": email,
		"order_date":     now.UTC().Format(time.RFC3339),
	}, nil
}
