package models

import (
	"math"
	"strings"
)

// BillingMode is how a basket will be charged. The values map directly onto
// the Stripe checkout session modes.
type BillingMode string

const (
	BillingModeOneTime   BillingMode = "payment"
	BillingModeRecurring BillingMode = "subscription"
)

// ShippingOption is the buyer-selected delivery method.
type ShippingOption string

const (
	ShippingDomestic ShippingOption = "domestic"
	ShippingRegional ShippingOption = "regional"
	ShippingPickup   ShippingOption = "pickup"
)

// ParseShippingOption maps a raw request value onto a ShippingOption.
// An empty value defaults to domestic delivery.
func ParseShippingOption(raw string) (ShippingOption, bool) {
	switch ShippingOption(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ShippingDomestic:
		return ShippingDomestic, true
	case ShippingRegional:
		return ShippingRegional, true
	case ShippingPickup:
		return ShippingPickup, true
	}
	return "", false
}

// LineItem is one validated basket entry. Immutable once built.
type LineItem struct {
	PriceID      string
	Quantity     int64
	ProductID    string
	ProductTitle string
	ProductSlug  string
}

// Basket is a non-empty, validated sequence of line items.
type Basket struct {
	Items []LineItem
	Mode  BillingMode
}

// DistinctPriceIDs returns the price references in first-seen order with
// duplicates removed. Mode resolution queries the gateway once per entry.
func (b *Basket) DistinctPriceIDs() []string {
	seen := make(map[string]struct{}, len(b.Items))
	ids := make([]string, 0, len(b.Items))
	for _, item := range b.Items {
		if _, ok := seen[item.PriceID]; ok {
			continue
		}
		seen[item.PriceID] = struct{}{}
		ids = append(ids, item.PriceID)
	}
	return ids
}

// IsDigitalOnly reports whether every line item is the membership product.
// Digital-only baskets never incur shipping.
func (b *Basket) IsDigitalOnly(membershipSlug string) bool {
	if len(b.Items) == 0 {
		return false
	}
	for _, item := range b.Items {
		if item.ProductSlug != membershipSlug {
			return false
		}
	}
	return true
}

// LineItemInput is the wire shape of one basket entry. Quantity arrives as a
// JSON number; fractional values are floored and clamped to at least 1.
type LineItemInput struct {
	PriceID      string  `json:"price_id"`
	Quantity     float64 `json:"quantity"`
	ProductID    string  `json:"product_id"`
	ProductTitle string  `json:"product_title"`
	ProductSlug  string  `json:"product_slug"`
}

// NormalizeQuantity floors a fractional quantity and raises anything below
// one to one.
func NormalizeQuantity(q float64) int64 {
	n := int64(math.Floor(q))
	if n < 1 {
		return 1
	}
	return n
}

// CheckoutRequest is the checkout endpoint body. Either Items is populated,
// or the legacy single-item fields are; the basket service resolves both
// shapes into one canonical Basket before any validation runs.
type CheckoutRequest struct {
	Items []LineItemInput `json:"items"`

	// Legacy single-item shape, quantity implicitly 1.
	PriceID      string `json:"price_id"`
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	ProductSlug  string `json:"product_slug"`

	UserID         string   `json:"user_id"`
	Email          string   `json:"email"`
	ShippingOption string   `json:"shipping_option"`
	Subtotal       *float64 `json:"subtotal"`
}

// GuestUserID is the metadata sentinel for anonymous buyers.
const GuestUserID = "guest"

// CheckoutMetadata is the typed form of the key/value bag attached to a
// gateway session. It is flattened to delimited strings only at the gateway
// boundary; titles are pipe-joined because they may contain commas.
type CheckoutMetadata struct {
	ProductIDs     []string
	ProductTitles  []string
	ProductSlugs   []string
	UserID         string
	ShippingOption string
}

// Flatten renders the metadata as the plain string map the gateway accepts.
func (m CheckoutMetadata) Flatten() map[string]string {
	userID := m.UserID
	if userID == "" {
		userID = GuestUserID
	}
	out := map[string]string{
		"product_ids":    strings.Join(m.ProductIDs, ","),
		"product_titles": strings.Join(m.ProductTitles, "|"),
		"product_slugs":  strings.Join(m.ProductSlugs, ","),
		"user_id":        userID,
	}
	if m.ShippingOption != "" {
		out["shipping_option"] = m.ShippingOption
	}
	return out
}

// SlugsFromMetadata splits the product_slugs metadata value back into slugs.
// Used only on the webhook side to filter for the membership product; the
// delimited string is never treated as a source of truth elsewhere.
func SlugsFromMetadata(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	slugs := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			slugs = append(slugs, s)
		}
	}
	return slugs
}

// CheckoutSessionResult is what the checkout endpoint returns to the client.
type CheckoutSessionResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}
