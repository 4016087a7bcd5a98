package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// Replenishment records a stock increase or a shortage to cover.
type Replenishment struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	Type          string `json:"type,omitempty"`
	Reason        string `json:"reason"`
	AddedUnits    int    `json:"addedUnits,omitempty"`
	PreviousStock int    `json:"previousStock,omitempty"`
	NewStock      int    `json:"newStock,omitempty"`
	MissingQty    int    `json:"missingQty,omitempty"`
	T             int64  `json:"t"`
	Key           string `json:"key,omitempty"`
}

func (s *Service) saveReplenishment(ctx context.Context, r Replenishment) error {
	r.Key = ""
	return writeJSON(ctx, s.store, replenishmentKey(r.ID), r)
}

// CreateReplenishment records that missingQty units of productID are needed.
func (s *Service) CreateReplenishment(ctx context.Context, productID string, missingQty int, reason string) (*Replenishment, error) {
	if productID == "" || missingQty <= 0 {
		return nil, errors.NewValidationError("productId and a positive missingQty are required")
	}
	if reason == "" {
		reason = ReplenishOutOfStock
	}
	now := s.nowMs()
	r := Replenishment{
		ID:         fmt.Sprintf("%d-%s", now, productID),
		ProductID:  productID,
		Type:       ReplenishOutOfStock,
		Reason:     reason,
		MissingQty: missingQty,
		T:          now,
	}
	if err := s.saveReplenishment(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Replenishments lists every recorded replenishment in key order.
// Unreadable documents are skipped.
func (s *Service) Replenishments(ctx context.Context) ([]Replenishment, error) {
	keys, objs, err := s.fetchAll(ctx, ReplenishmentPrefix)
	if err != nil {
		return nil, err
	}
	out := []Replenishment{}
	for _, k := range keys {
		obj, ok := objs[k]
		if !ok {
			continue
		}
		var r Replenishment
		if err := json.Unmarshal(obj.Data, &r); err != nil {
			log.Printf("domain: skipping replenishment %s: %v", k, err)
			continue
		}
		r.Key = k
		out = append(out, r)
	}
	return out, nil
}
