package catalog

import (
	"net/http"

	"github.com/emberline/storefront-api/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct{}

// Products handles GET /api/v1/products.
func (h Handler) Products(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": Products()})
}
