package payment

import "context"

// IntentRequest captures what the upstream processor needs to open a payment
// authorization.
type IntentRequest struct {
	AmountMinorUnits int64
	Currency         string
	Description      string
	Metadata         map[string]string
	// ReceiptEmail must be left out of the upstream request entirely when
	// empty; the processor rejects empty-string email values.
	ReceiptEmail string
}

// IntentResponse is the minimal information a provider returns for a freshly
// created authorization.
type IntentResponse struct {
	ID               string
	ClientSecret     string
	AmountMinorUnits int64
	Status           string
}

// Notification is a verified, normalised webhook event.
type Notification struct {
	EventID string
	// Type is the raw discriminator, e.g. "payment_intent.succeeded".
	Type string
	// IntentID is the payment intent the event refers to; empty when the
	// payload carries no intent reference.
	IntentID       string
	FailureMessage string
	Raw            []byte
}

// Provider abstracts the upstream payment processor.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	// VerifyNotification checks the signature over the raw body before any
	// parsing and returns the normalised event.
	VerifyNotification(body []byte, signatureHeader string) (Notification, error)
}
