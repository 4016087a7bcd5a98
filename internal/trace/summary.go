package trace

import (
	"encoding/json"

	"github.com/fanoutlab/fanoutlab/internal/steps"
)

// Summary is the derived, per-correlation-id flag set.
// Every flag is set by the presence of a matching step and never stored.
type Summary struct {
	CorrelationID       string `json:"id"`
	Published           bool   `json:"published"`
	RoutedToFulfillment bool   `json:"routedToFulfillment"`
	RoutedToAnalytics   bool   `json:"routedToAnalytics"`
	FulfillmentReceived bool   `json:"fulfillmentReceived"`
	FulfillmentDone     bool   `json:"fulfillmentDone"`
	FulfillmentFailed   bool   `json:"fulfillmentFailed"`
	AnalyticsReceived   bool   `json:"analyticsReceived"`
	AnalyticsDone       bool   `json:"analyticsDone"`
	AnalyticsFailed     bool   `json:"analyticsFailed"`
	ShippingReceived    bool   `json:"shippingReceived"`
	ShippingDone        bool   `json:"shippingDone"`
	ShippingFailed      bool   `json:"shippingFailed"`
	SentToDLQ           bool   `json:"sentToDlq"`

	// Routes is the parsed routing decision, when the routes step carried one.
	Routes *RouteDecision `json:"routes,omitempty"`
}

// RouteDecision is the body of the 01-routes step.
type RouteDecision struct {
	Fulfillment bool `json:"fulfillment"`
	Analytics   bool `json:"analytics"`
	Shipping    bool `json:"shipping"`
}

// Summarize derives the summary flags from fetched step records.
func Summarize(correlationID string, records []StepRecord) Summary {
	s := Summary{CorrelationID: correlationID}
	for _, r := range records {
		s.apply(r.Step.Kind)
		if r.Step.Kind == steps.KindRoutes && s.Routes == nil {
			var rd RouteDecision
			if err := json.Unmarshal(r.Data, &rd); err == nil {
				s.Routes = &rd
			}
		}
	}
	return s
}

// SummarizeNames derives the summary flags from step names or keys alone.
func SummarizeNames(correlationID string, names []string) Summary {
	s := Summary{CorrelationID: correlationID}
	for _, n := range names {
		s.apply(steps.Classify(n).Kind)
	}
	return s
}

func (s *Summary) apply(k steps.Kind) {
	switch k {
	case steps.KindPublished:
		s.Published = true
	case steps.KindRoutes:
		// The routes step records the fanout itself, so both original
		// consumers count as routed once it exists.
		s.RoutedToFulfillment = true
		s.RoutedToAnalytics = true
	case steps.KindFulfillmentReceived:
		s.FulfillmentReceived = true
	case steps.KindFulfillmentProcessed:
		s.FulfillmentDone = true
	case steps.KindFulfillmentFailed:
		s.FulfillmentFailed = true
	case steps.KindAnalyticsReceived:
		s.AnalyticsReceived = true
	case steps.KindAnalyticsProcessed:
		s.AnalyticsDone = true
	case steps.KindAnalyticsFailed:
		s.AnalyticsFailed = true
	case steps.KindShippingReceived:
		s.ShippingReceived = true
	case steps.KindShippingProcessed:
		s.ShippingDone = true
	case steps.KindShippingFailed:
		s.ShippingFailed = true
	case steps.KindDeadLettered:
		s.SentToDLQ = true
	}
}
