package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Stripe implements Provider against the Stripe payment intents API. Only the
// small slice of the API this storefront needs is covered, so the wire calls
// are hand-built form posts rather than a full SDK.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
	// Tolerance bounds the accepted age of a webhook signature timestamp.
	// Zero means the 5 minute default.
	Tolerance time.Duration

	// now is overridable in tests.
	now func() time.Time
}

const defaultStripeTolerance = 5 * time.Minute

// CreateIntent opens a payment intent with automatic payment-method
// negotiation enabled and the order snapshot attached as metadata.
func (s Stripe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(s.SecretKey) == "" {
		return IntentResponse{}, errors.New("stripe secret key is not configured")
	}
	if req.AmountMinorUnits <= 0 {
		return IntentResponse{}, fmt.Errorf("invalid amount: %d", req.AmountMinorUnits)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinorUnits, 10))
	form.Set("currency", req.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for key, value := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}
	// receipt_email is attached only when present; Stripe rejects an
	// empty-string value outright.
	if strings.TrimSpace(req.ReceiptEmail) != "" {
		form.Set("receipt_email", req.ReceiptEmail)
	}

	endpoint := strings.TrimRight(s.baseURL(), "/") + "/v1/payment_intents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(s.SecretKey, "")

	resp, err := s.httpClient().Do(httpReq)
	if err != nil {
		return IntentResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return IntentResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return IntentResponse{}, errors.New(stripeErrorMessage(body, resp.StatusCode))
	}

	var intent struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Amount       int64  `json:"amount"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(body, &intent); err != nil {
		return IntentResponse{}, fmt.Errorf("decode intent response: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return IntentResponse{}, errors.New("intent response missing id or client secret")
	}
	return IntentResponse{
		ID:               intent.ID,
		ClientSecret:     intent.ClientSecret,
		AmountMinorUnits: intent.Amount,
		Status:           intent.Status,
	}, nil
}

// VerifyNotification checks the Stripe-Signature header over the raw body and
// normalises the event. The body is parsed only after the signature matches.
func (s Stripe) VerifyNotification(body []byte, signatureHeader string) (Notification, error) {
	timestamp, candidates, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return Notification{}, err
	}

	age := s.clock()().Sub(time.Unix(timestamp, 0))
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = defaultStripeTolerance
	}
	if age > tolerance || age < -tolerance {
		return Notification{}, &SignatureVerificationError{Reason: "timestamp outside tolerance"}
	}

	expected := computeSignature(s.WebhookSecret, timestamp, body)
	matched := false
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			matched = true
			break
		}
	}
	if !matched {
		return Notification{}, &SignatureVerificationError{Reason: "no matching v1 signature"}
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				Object           string `json:"object"`
				PaymentIntent    string `json:"payment_intent"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return Notification{}, fmt.Errorf("decode event: %w", err)
	}

	intentID := event.Data.Object.ID
	if event.Data.Object.Object == "charge" {
		intentID = event.Data.Object.PaymentIntent
	}
	return Notification{
		EventID:        event.ID,
		Type:           event.Type,
		IntentID:       intentID,
		FailureMessage: event.Data.Object.LastPaymentError.Message,
		Raw:            body,
	}, nil
}

func (s Stripe) baseURL() string {
	if strings.TrimSpace(s.BaseURL) == "" {
		return "https://api.stripe.com"
	}
	return s.BaseURL
}

func (s Stripe) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (s Stripe) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]" into its
// timestamp and candidate signatures.
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, &SignatureVerificationError{Reason: "missing signature header"}
	}
	var (
		timestamp  int64
		candidates []string
		sawT       bool
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, &SignatureVerificationError{Reason: "malformed timestamp"}
			}
			timestamp = parsed
			sawT = true
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if !sawT || len(candidates) == 0 {
		return 0, nil, &SignatureVerificationError{Reason: "malformed signature header"}
	}
	return timestamp, candidates, nil
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func stripeErrorMessage(body []byte, status int) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return fmt.Sprintf("stripe returned status %d", status)
}
