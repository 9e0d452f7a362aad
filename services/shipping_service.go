package services

import "commerce-service/models"

// Shipping cost constants, in the store currency.
const (
	FreeShippingThreshold = 100.00
	DomesticShippingCost  = 5.90
	RegionalShippingCost  = 12.90
)

// ShippingCost computes the shipping charge for a basket. Pure and
// deterministic. Rules apply in priority order: digital-only baskets ship
// free, pickup is free, orders at or above the free-shipping threshold ship
// free, otherwise the flat per-region amount applies.
func ShippingCost(option models.ShippingOption, subtotal float64, digitalOnly bool) float64 {
	if digitalOnly {
		return 0
	}
	if option == models.ShippingPickup {
		return 0
	}
	if subtotal >= FreeShippingThreshold {
		return 0
	}
	if option == models.ShippingRegional {
		return RegionalShippingCost
	}
	return DomesticShippingCost
}
