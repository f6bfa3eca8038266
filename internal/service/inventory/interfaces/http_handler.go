// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/inventory/domain"
)

// ProductHandler 只读地暴露商品库存（走缓存）
type ProductHandler struct {
	catalog domain.Catalog
}

func NewProductHandler(catalog domain.Catalog) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/products/{id}", h.getProduct)
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *ProductHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.FindProduct(r.Context(), chi.URLParam(r, "id"))
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Ctx(r.Context()).Error().Err(err).Msg("product lookup failed")
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response{Success: false, Message: apperr.PublicMessage(err)})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response{Success: true, Data: product})
}
