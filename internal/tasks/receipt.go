package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/emberline/storefront-api/internal/common"
	"github.com/emberline/storefront-api/internal/events"
)

// TypeOrderReceipt is the asynq task type for order confirmation emails.
const TypeOrderReceipt = "email:order_receipt"

// ReceiptPayload is the task body for an order confirmation email.
type ReceiptPayload struct {
	IntentID string `json:"intentId"`
	Email    string `json:"email"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewReceiptTask builds the asynq task for a confirmed order.
func NewReceiptTask(p ReceiptPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderReceipt, body, asynq.MaxRetry(5)), nil
}

// ReceiptEnqueuer turns order.paid events into queued receipt tasks. It is
// wired as an events.Notifier; the webhook reconciler emits order.paid only
// on the first terminal transition, which keeps the receipt at most once per
// authorization.
type ReceiptEnqueuer struct {
	Client *asynq.Client
	Logger zerolog.Logger
}

// Notify implements events.Notifier.
func (e *ReceiptEnqueuer) Notify(ctx context.Context, ev events.Event) error {
	if e == nil || e.Client == nil || ev.Topic != events.TopicOrderPaid {
		return nil
	}
	var payload ReceiptPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("tasks: decode order.paid payload: %w", err)
	}
	payload.IntentID = ev.IntentID
	if strings.TrimSpace(payload.Email) == "" {
		// Guest checkout without an email gets no receipt.
		return nil
	}
	task, err := NewReceiptTask(payload)
	if err != nil {
		return err
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("tasks: enqueue receipt: %w", err)
	}
	e.Logger.Info().Str("task_id", info.ID).Str("intent_id", ev.IntentID).Msg("receipt task enqueued")
	return nil
}

// ReceiptHandler sends the confirmation email from the worker process.
type ReceiptHandler struct {
	Mail   common.EmailSender
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h *ReceiptHandler) ProcessTask(_ context.Context, task *asynq.Task) error {
	var payload ReceiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("tasks: decode receipt payload: %w", err)
	}
	subject := "Your order is confirmed"
	html := fmt.Sprintf(
		"<p>Thanks for your purchase!</p><p>Payment %s for %s %.2f was received.</p>",
		payload.IntentID, strings.ToUpper(payload.Currency), float64(payload.Amount)/100,
	)
	if err := h.Mail.Send(payload.Email, subject, html); err != nil {
		return fmt.Errorf("tasks: send receipt: %w", err)
	}
	h.Logger.Info().Str("intent_id", payload.IntentID).Msg("receipt sent")
	return nil
}
