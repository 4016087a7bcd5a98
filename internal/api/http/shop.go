package http

import (
	"net/http"

	"github.com/fanoutlab/fanoutlab/internal/domain"
	"github.com/fanoutlab/fanoutlab/internal/errors"
)

func (h *Handler) shop(w http.ResponseWriter, r *http.Request) (*domain.Service, bool) {
	if h.deps.Shop == nil {
		unavailable(w, r, "domain service")
		return nil, false
	}
	return h.deps.Shop, true
}

// SeedFanoutTrace handles POST /seed/fanout-trace.
func (h *Handler) SeedFanoutTrace(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	ids, err := shop.SeedFanoutTrace(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "correlationIds": ids})
}

// SeedCustom handles POST /seed/custom.
func (h *Handler) SeedCustom(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var ev domain.CustomEvent
	if err := decodeBody(r, &ev); err != nil {
		writeAPIError(w, r, err)
		return
	}
	cid, oid, err := shop.SeedCustom(r.Context(), ev)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "correlationId": cid, "orderId": oid})
}

// Inventory handles GET /domain/inventory.
func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	items, err := shop.Inventory(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SeedInventory handles POST /domain/inventory/seed {"items": [...]}.
func (h *Handler) SeedInventory(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var req struct {
		Items []domain.SeedItem `json:"items"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	res, err := shop.SeedInventory(r.Context(), req.Items)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Metrics handles GET /domain/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	m, err := shop.Metrics(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Replenishments handles GET /domain/replenishments.
func (h *Handler) Replenishments(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	list, err := shop.Replenishments(r.Context())
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateReplenishment handles POST /domain/replenishments/create.
func (h *Handler) CreateReplenishment(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductID  string `json:"productId"`
		MissingQty int    `json:"missingQty"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if req.ProductID == "" {
		writeAPIError(w, r, errors.NewValidationError("productId is required"))
		return
	}
	rep, err := shop.CreateReplenishment(r.Context(), req.ProductID, req.MissingQty, req.Reason)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// PlaceOrder handles POST /domain/order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var req domain.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	res, err := shop.PlaceOrder(r.Context(), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
