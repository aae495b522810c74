package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/emberline/storefront-api/internal/common"
	"github.com/emberline/storefront-api/internal/pricing"
)

// Handler exposes the checkout and order-event endpoints.
type Handler struct {
	Svc            *Service
	Validate       *validator.Validate
	PublishableKey string
}

type checkoutItem struct {
	ID       string          `json:"id" validate:"required"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"required,min=1"`
}

type checkoutRequest struct {
	Items        []checkoutItem `json:"items" validate:"required,min=1,dive"`
	CustomerInfo struct {
		Email string `json:"email" validate:"omitempty,email"`
	} `json:"customerInfo"`
}

type checkoutResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
}

// Checkout handles POST /api/v1/checkout: it recomputes the cart total and
// returns the client handle for the freshly created payment authorization.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "checkout not configured")
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items := make([]pricing.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, pricing.Item{
			ProductID: it.ID,
			Name:      it.Name,
			UnitPrice: it.Price,
			Qty:       it.Quantity,
		})
	}

	auth, err := h.Svc.CreateAuthorization(r.Context(), items, req.CustomerInfo.Email)
	if err != nil {
		var invalidCart *pricing.InvalidCartError
		if errors.As(err, &invalidCart) {
			common.JSONError(w, http.StatusBadRequest, invalidCart.Error())
			return
		}
		// Upstream rejections and everything else surface as a 500 with the
		// upstream message; the client re-invokes checkout to retry.
		common.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	common.JSON(w, http.StatusOK, checkoutResponse{
		ClientSecret:    auth.ClientSecret,
		PaymentIntentID: auth.IntentID,
		Amount:          auth.AmountMinorUnits,
	})
}

// Config handles GET /api/v1/payment/config: the publishable key the client
// needs to mount the processor's card-collection UI.
func (h *Handler) Config(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"publishableKey": h.PublishableKey})
}

type orderEventView struct {
	Type          string `json:"type"`
	FailureReason string `json:"failureReason,omitempty"`
	ReceivedAt    string `json:"receivedAt"`
}

// OrderEvents handles GET /api/v1/orders/{paymentIntentId}/events.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "checkout not configured")
		return
	}
	intentID := chi.URLParam(r, "paymentIntentId")
	rows, err := h.Svc.OrderEvents(r.Context(), intentID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	views := make([]orderEventView, 0, len(rows))
	for _, ev := range rows {
		view := orderEventView{Type: string(ev.Type), FailureReason: ev.FailureReason}
		if ev.ReceivedAt.Valid {
			view.ReceivedAt = ev.ReceivedAt.Time.UTC().Format(time.RFC3339)
		}
		views = append(views, view)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": views})
}
