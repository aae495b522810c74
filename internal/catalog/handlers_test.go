package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberline/storefront-api/internal/catalog"
)

func TestProductsHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rr := httptest.NewRecorder()

	catalog.Handler{}.Products(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data []catalog.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 6)
	require.Equal(t, "prod_001", body.Data[0].ID)
}

func TestFindProduct(t *testing.T) {
	p, ok := catalog.FindProduct("prod_003")
	require.True(t, ok)
	require.Equal(t, "Leather Messenger Bag", p.Name)

	_, ok = catalog.FindProduct("prod_999")
	require.False(t, ok)
}
