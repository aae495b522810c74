package tasks_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emberline/storefront-api/internal/common"
	"github.com/emberline/storefront-api/internal/tasks"
)

func TestNewReceiptTaskRoundTrip(t *testing.T) {
	task, err := tasks.NewReceiptTask(tasks.ReceiptPayload{
		IntentID: "pi_123",
		Email:    "buyer@example.com",
		Amount:   6899,
		Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, tasks.TypeOrderReceipt, task.Type())

	var payload tasks.ReceiptPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "pi_123", payload.IntentID)
	require.Equal(t, int64(6899), payload.Amount)
}

func TestReceiptHandlerSendsEmail(t *testing.T) {
	mail := &common.InMemoryEmail{}
	handler := &tasks.ReceiptHandler{Mail: mail, Logger: zerolog.Nop()}

	task, err := tasks.NewReceiptTask(tasks.ReceiptPayload{
		IntentID: "pi_123",
		Email:    "buyer@example.com",
		Amount:   6899,
		Currency: "usd",
	})
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "buyer@example.com", mail.Outbox[0].To)
	require.Contains(t, mail.Outbox[0].HTML, "pi_123")
	require.Contains(t, mail.Outbox[0].HTML, "68.99")
}

func TestReceiptHandlerRejectsGarbage(t *testing.T) {
	handler := &tasks.ReceiptHandler{Mail: common.NopEmailSender{}, Logger: zerolog.Nop()}
	err := handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeOrderReceipt, []byte("{broken")))
	require.Error(t, err)
}
