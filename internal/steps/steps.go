// Package steps defines the closed vocabulary of trace step names and the
// object key layout used to persist them.
//
// Step records live under traces/<correlationId>/<stepName>.json. Every step
// name starts with a two-digit phase prefix, which gives the default ordering
// when keys are sorted lexically. Product-qualified variants append a product
// identifier after a fixed infix:
//
//	30-fulfillment-reserved-<product>
//	40-analytics-updated-<product>
//
// The product identifier is everything after the infix. It is written with
// url.PathEscape, so dashes stay literal while '/' and '%' are escaped, and
// it is read back with url.PathUnescape.
package steps

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies a step in the fanout pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindPublished
	KindRoutes
	KindFulfillmentReceived
	KindAnalyticsReceived
	KindShippingReceived
	KindFulfillmentProcessed
	KindAnalyticsProcessed
	KindShippingProcessed
	KindFulfillmentFailed
	KindAnalyticsFailed
	KindShippingFailed
	KindFulfillmentReserved
	KindAnalyticsUpdated
	KindDeadLettered
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindPublished:            "published",
	KindRoutes:               "routes",
	KindFulfillmentReceived:  "fulfillment-received",
	KindAnalyticsReceived:    "analytics-received",
	KindShippingReceived:     "shipping-received",
	KindFulfillmentProcessed: "fulfillment-processed",
	KindAnalyticsProcessed:   "analytics-processed",
	KindShippingProcessed:    "shipping-processed",
	KindFulfillmentFailed:    "fulfillment-failed",
	KindAnalyticsFailed:      "analytics-failed",
	KindShippingFailed:       "shipping-failed",
	KindFulfillmentReserved:  "fulfillment-reserved",
	KindAnalyticsUpdated:     "analytics-updated",
	KindDeadLettered:         "dlq",
}

// String returns a stable lowercase label for the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Canonical step names written by the publisher and the workers.
const (
	NamePublished            = "00-published"
	NameRoutes               = "01-routes"
	NameFulfillmentReceived  = "10-fulfillment-received"
	NameAnalyticsReceived    = "11-analytics-received"
	NameShippingReceived     = "12-shipping-received"
	NameFulfillmentProcessed = "20-fulfillment-processed"
	NameAnalyticsProcessed   = "21-analytics-processed"
	NameShippingProcessed    = "22-shipping-processed"
	NameFulfillmentFailed    = "30-fulfillment-failed"
	NameAnalyticsFailed      = "31-analytics-failed"
	NameShippingFailed       = "98-shipping-error"
	NameDeadLettered         = "50-dlq"

	reservedInfix = "fulfillment-reserved-"
	updatedInfix  = "analytics-updated-"
)

// fixed maps exact step names to their kinds.
var fixed = map[string]Kind{
	NamePublished:            KindPublished,
	NameRoutes:               KindRoutes,
	NameFulfillmentReceived:  KindFulfillmentReceived,
	NameAnalyticsReceived:    KindAnalyticsReceived,
	NameShippingReceived:     KindShippingReceived,
	NameFulfillmentProcessed: KindFulfillmentProcessed,
	NameAnalyticsProcessed:   KindAnalyticsProcessed,
	NameShippingProcessed:    KindShippingProcessed,
	NameFulfillmentFailed:    KindFulfillmentFailed,
	NameAnalyticsFailed:      KindAnalyticsFailed,
	NameShippingFailed:       KindShippingFailed,
	NameDeadLettered:         KindDeadLettered,
}

// Step is a classified step name.
type Step struct {
	// Name is the step name without the .json extension.
	Name string
	Kind Kind
	// Product is set for product-qualified variants only.
	Product string
}

// Known reports whether the name matched the vocabulary.
func (s Step) Known() bool {
	return s.Kind != KindUnknown
}

// Classify maps a step name (or a full object key) to its kind.
// Names outside the vocabulary classify as KindUnknown; this is not an error.
func Classify(name string) Step {
	name = TrimExt(BaseName(name))
	step := Step{Name: name}

	if k, ok := fixed[name]; ok {
		step.Kind = k
		return step
	}

	if !hasPhasePrefix(name) {
		return step
	}
	rest := name[3:]
	switch {
	case strings.HasPrefix(rest, reservedInfix) && len(rest) > len(reservedInfix):
		step.Kind = KindFulfillmentReserved
		step.Product = decodeProduct(rest[len(reservedInfix):])
	case strings.HasPrefix(rest, updatedInfix) && len(rest) > len(updatedInfix):
		step.Kind = KindAnalyticsUpdated
		step.Product = decodeProduct(rest[len(updatedInfix):])
	}
	return step
}

// ReservedName returns the step name recording a stock reservation for product.
func ReservedName(product string) string {
	return "30-" + reservedInfix + url.PathEscape(product)
}

// UpdatedName returns the step name recording a metrics update for product.
func UpdatedName(product string) string {
	return "40-" + updatedInfix + url.PathEscape(product)
}

func decodeProduct(s string) string {
	if p, err := url.PathUnescape(s); err == nil {
		return p
	}
	return s
}

func hasPhasePrefix(name string) bool {
	return len(name) > 3 && isDigit(name[0]) && isDigit(name[1]) && name[2] == '-'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
