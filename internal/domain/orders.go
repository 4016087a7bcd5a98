package domain

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// Counters are the sequence numbers behind order and correlation ids.
type Counters struct {
	LastOrderNo int `json:"lastOrderNo"`
	LastCorrNo  int `json:"lastCorrNo"`
}

// OrderLine is one requested product.
type OrderLine struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice,omitempty"`
}

// OrderRequest places an order. Only the first line is fulfilled.
// OrderID and CorrelationID may carry a number prefix ("007-...") to reuse.
type OrderRequest struct {
	Items         []OrderLine `json:"items"`
	OrderID       string      `json:"orderId,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// OrderResult reports what was sold and what is missing.
type OrderResult struct {
	OrderID              string         `json:"orderId"`
	CorrelationID        string         `json:"correlationId"`
	UnitPrice            float64        `json:"unitPrice"`
	PurchaseQty          int            `json:"purchaseQty"`
	Shortage             int            `json:"shortage"`
	CreatedReplenishment *Replenishment `json:"createdReplenishment"`
	Total                float64        `json:"total"`
	Published            bool           `json:"published"`
}

// NextNumbers advances the order and/or correlation counters in one
// conditional write and returns the new values (0 for counters not advanced).
func (s *Service) NextNumbers(ctx context.Context, order, corr bool) (orderNo, corrNo int, err error) {
	c, err := updateJSON(ctx, s.store, CountersKey, func(c *Counters) error {
		if order {
			c.LastOrderNo++
		}
		if corr {
			c.LastCorrNo++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if order {
		orderNo = c.LastOrderNo
	}
	if corr {
		corrNo = c.LastCorrNo
	}
	return orderNo, corrNo, nil
}

func pad3(n int) string {
	return fmt.Sprintf("%03d", n)
}

func numberPrefix(id string) string {
	return strings.SplitN(id, "-", 2)[0]
}

// PlaceOrder sells as much of the first line as stock allows, records a
// replenishment for any shortage and publishes OrderPlaced when at least one
// unit was sold.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if len(req.Items) == 0 {
		return nil, errors.NewValidationError("items must not be empty")
	}
	wanted := req.Items[0]
	if wanted.ProductID == "" {
		return nil, errors.NewValidationError("productId is required")
	}

	orderNo := numberPrefix(req.OrderID)
	corrNo := numberPrefix(req.CorrelationID)
	if orderNo == "" || corrNo == "" {
		on, cn, err := s.NextNumbers(ctx, orderNo == "", corrNo == "")
		if err != nil {
			return nil, err
		}
		if orderNo == "" {
			orderNo = pad3(on)
		}
		if corrNo == "" {
			corrNo = pad3(cn)
		}
	}
	res := &OrderResult{
		OrderID:       orderNo + "-" + s.newID(),
		CorrelationID: corrNo + "-" + s.newID(),
		UnitPrice:     wanted.UnitPrice,
	}

	found := false
	_, err := updateJSON(ctx, s.store, InventoryKey, func(inv *[]Product) error {
		found = false
		res.PurchaseQty = 0
		for i := range *inv {
			p := &(*inv)[i]
			if p.ProductID != wanted.ProductID && p.Name != wanted.ProductID {
				continue
			}
			found = true
			res.UnitPrice = p.Price
			res.PurchaseQty = min(max(p.Stock, 0), max(wanted.Quantity, 0))
			p.Stock = max(0, p.Stock-res.PurchaseQty)
			p.UpdatedAt = s.nowMs()
			return nil
		}
		return errNoChange
	})
	if err != nil {
		return nil, err
	}
	if !found {
		log.Printf("domain: product not in inventory: %s", wanted.ProductID)
		res.UnitPrice = wanted.UnitPrice
	}
	res.Shortage = max(0, wanted.Quantity-res.PurchaseQty)

	if res.Shortage > 0 {
		repl, err := s.CreateReplenishment(ctx, wanted.ProductID, res.Shortage, ReplenishOutOfStock)
		if err != nil {
			return nil, err
		}
		res.CreatedReplenishment = repl
	}

	if res.PurchaseQty > 0 && s.publisher != nil {
		_, err := s.publisher.Publish(ctx, Message{
			CorrelationID: res.CorrelationID,
			EventType:     "OrderPlaced",
			Priority:      "high",
			OrderID:       res.OrderID,
			Fields: map[string]any{
				"product":  wanted.ProductID,
				"quantity": res.PurchaseQty,
				"price":    res.UnitPrice,
			},
		})
		if err != nil {
			return nil, err
		}
		res.Published = true
	}

	res.Total = res.UnitPrice * float64(res.PurchaseQty)
	return res, nil
}
