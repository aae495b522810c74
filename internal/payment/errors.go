package payment

import "fmt"

// IntentCreationError wraps an upstream rejection or transport failure while
// creating a payment authorization. Not retried automatically; the caller
// re-invokes checkout to retry.
type IntentCreationError struct {
	Err error
}

func (e *IntentCreationError) Error() string {
	return fmt.Sprintf("create payment intent: %v", e.Err)
}

func (e *IntentCreationError) Unwrap() error { return e.Err }

// SignatureVerificationError marks a webhook payload that failed
// authentication. The payload must not be parsed or acted on.
type SignatureVerificationError struct {
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return "webhook signature verification failed: " + e.Reason
}
