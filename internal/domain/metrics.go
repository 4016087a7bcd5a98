package domain

import (
	"context"
	"encoding/json"
	"log"

	"github.com/fanoutlab/fanoutlab/internal/workers"
)

// ProductMetric aggregates analytics documents of one product.
type ProductMetric struct {
	ProductID    string  `json:"productId"`
	UnitsSold    int     `json:"unitsSold"`
	TotalRevenue float64 `json:"totalRevenue"`
}

// Metrics sums units and revenue per product over every analytics document,
// in order of first appearance. Unreadable documents are skipped.
func (s *Service) Metrics(ctx context.Context) ([]ProductMetric, error) {
	keys, objs, err := s.fetchAll(ctx, workers.AnalyticsPrefix)
	if err != nil {
		return nil, err
	}

	out := []ProductMetric{}
	index := make(map[string]int)
	for _, k := range keys {
		obj, ok := objs[k]
		if !ok {
			continue
		}
		var rec struct {
			workers.AnalyticsRecord
			Product string `json:"product"`
		}
		if err := json.Unmarshal(obj.Data, &rec); err != nil {
			log.Printf("domain: skipping analytics document %s: %v", k, err)
			continue
		}

		id := rec.ProductID
		if id == "" {
			id = rec.Product
		}
		if id == "" {
			id = workers.UnknownProduct
		}
		i, ok := index[id]
		if !ok {
			out = append(out, ProductMetric{ProductID: id})
			i = len(out) - 1
			index[id] = i
		}
		out[i].UnitsSold += rec.Quantity
		out[i].TotalRevenue += float64(rec.Quantity) * rec.Price
	}
	return out, nil
}
