// Package domain holds the demo shop behind the fanout: inventory, orders,
// metrics and replenishments stored as JSON documents, plus the publisher
// that turns orders into traced events.
package domain

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/storage"
)

// Document keys.
const (
	InventoryKey        = "domain/inventory.json"
	CountersKey         = "domain/counters.json"
	ReplenishmentPrefix = "domain/replenishments/"
)

// Replenishment types.
const (
	ReplenishNewProduct = "new_product"
	ReplenishRestock    = "manual_restock"
	ReplenishOutOfStock = "out_of_stock"
)

// Product is one inventory line.
type Product struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
	Reserved  int     `json:"reserved"`
	UpdatedAt int64   `json:"updatedAt"`
}

// SeedItem is an incoming inventory line. Empty fields keep current values.
type SeedItem struct {
	ProductID string   `json:"productId"`
	Product   string   `json:"product,omitempty"`
	Name      string   `json:"name"`
	Price     *float64 `json:"price,omitempty"`
	Stock     int      `json:"stock"`
	Quantity  int      `json:"quantity,omitempty"`
	Reserved  *int     `json:"reserved,omitempty"`
}

// SeedResult summarizes an inventory seed.
type SeedResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Restocked int `json:"restocked"`
	Total     int `json:"total"`
}

// Service implements the shop operations over object storage.
type Service struct {
	store     storage.ObjectStorage
	fetcher   *storage.BatchFetcher
	publisher *Publisher
	clock     clock.PassiveClock
	newID     func() string
}

// NewService creates the shop service.
func NewService(store storage.ObjectStorage, publisher *Publisher, clk clock.PassiveClock) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		store:     store,
		fetcher:   storage.NewBatchFetcher(store, 0),
		publisher: publisher,
		clock:     clk,
		newID:     shortUUID,
	}
}

func shortUUID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func (s *Service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// Inventory returns the current inventory, empty when none was seeded.
func (s *Service) Inventory(ctx context.Context) ([]Product, error) {
	var inv []Product
	if _, _, err := readJSON(ctx, s.store, InventoryKey, &inv); err != nil {
		return nil, err
	}
	if inv == nil {
		inv = []Product{}
	}
	return inv, nil
}

func normName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (it SeedItem) normalized() SeedItem {
	if it.ProductID == "" {
		it.ProductID = it.Product
	}
	it.ProductID = strings.TrimSpace(it.ProductID)
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		it.Name = it.ProductID
	}
	if it.Stock == 0 {
		it.Stock = it.Quantity
	}
	return it
}

// SeedInventory merges items into the inventory. Items match existing
// products by id, then by case-insensitive name. Matches have their stock
// increased; unmatched items become new products. Every stock increase is
// recorded as a replenishment.
func (s *Service) SeedInventory(ctx context.Context, items []SeedItem) (*SeedResult, error) {
	var (
		res     SeedResult
		pending []Replenishment
	)
	inv, err := updateJSON(ctx, s.store, InventoryKey, func(inv *[]Product) error {
		res = SeedResult{}
		pending = pending[:0]
		now := s.nowMs()

		byID := make(map[string]int, len(*inv))
		byName := make(map[string]int, len(*inv))
		for i, p := range *inv {
			byID[p.ProductID] = i
			byName[normName(p.Name)] = i
		}

		for _, raw := range items {
			it := raw.normalized()
			if it.ProductID == "" && it.Name == "" {
				continue
			}

			idx, ok := -1, false
			if it.ProductID != "" {
				idx, ok = byID[it.ProductID]
			}
			if !ok && it.Name != "" {
				idx, ok = byName[normName(it.Name)]
			}

			if !ok {
				id := it.ProductID
				if id == "" {
					id = s.newID()
				}
				p := Product{ProductID: id, Name: it.Name, Stock: it.Stock, UpdatedAt: now}
				if p.Name == "" {
					p.Name = id
				}
				if it.Price != nil {
					p.Price = *it.Price
				}
				if it.Reserved != nil {
					p.Reserved = *it.Reserved
				}
				*inv = append(*inv, p)
				byID[id] = len(*inv) - 1
				byName[normName(p.Name)] = len(*inv) - 1
				res.Created++
				if p.Stock > 0 {
					pending = append(pending, s.newReplenishment(id, ReplenishNewProduct, "inventory_seed", p.Stock, 0, p.Stock))
					res.Restocked++
				}
				continue
			}

			p := &(*inv)[idx]
			prev := p.Stock
			if it.Name != "" {
				p.Name = it.Name
			}
			if it.Price != nil {
				p.Price = *it.Price
			}
			if it.Reserved != nil {
				p.Reserved = *it.Reserved
			}
			p.Stock = prev + it.Stock
			p.UpdatedAt = now
			res.Updated++
			if it.Stock > 0 {
				pending = append(pending, s.newReplenishment(p.ProductID, ReplenishRestock, "inventory_seed", it.Stock, prev, p.Stock))
				res.Restocked++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range pending {
		if err := s.saveReplenishment(ctx, r); err != nil {
			return nil, err
		}
	}
	res.Total = len(*inv)
	return &res, nil
}

func replenishmentKey(id string) string {
	return ReplenishmentPrefix + url.PathEscape(id) + ".json"
}

func (s *Service) newReplenishment(productID, kind, reason string, added, prev, next int) Replenishment {
	now := s.nowMs()
	return Replenishment{
		ID:            fmt.Sprintf("repl-%d-%s", now, productID),
		ProductID:     productID,
		Type:          kind,
		Reason:        reason,
		AddedUnits:    added,
		PreviousStock: prev,
		NewStock:      next,
		T:             now,
	}
}
