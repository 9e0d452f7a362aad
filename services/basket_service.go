package services

import (
	"context"
	"fmt"
	"net/http"

	"commerce-service/models"
)

// BasketService validates checkout requests and resolves their billing mode
// through the payment gateway.
type BasketService struct {
	gateway PaymentGateway
}

func NewBasketService(gateway PaymentGateway) *BasketService {
	return &BasketService{gateway: gateway}
}

// Resolve normalizes the request's tagged-union shape into a canonical
// basket, validates every line item, and determines the billing mode. A
// basket mixing one-time and subscription prices is rejected before any
// session is created.
func (s *BasketService) Resolve(ctx context.Context, req *models.CheckoutRequest) (*models.Basket, *ServiceError) {
	items, svcErr := normalizeItems(req)
	if svcErr != nil {
		return nil, svcErr
	}

	basket := &models.Basket{Items: items}

	// One gateway lookup per distinct price reference, not per line item.
	for i, priceID := range basket.DistinctPriceIDs() {
		mode, err := s.gateway.BillingModeFor(ctx, priceID)
		if err != nil {
			return nil, ClassifyGatewayError(err)
		}
		if i == 0 {
			basket.Mode = mode
			continue
		}
		if mode != basket.Mode {
			return nil, &ServiceError{
				StatusCode: http.StatusBadRequest,
				Message:    "Cannot mix one-time and subscription items in a single checkout",
			}
		}
	}

	return basket, nil
}

func normalizeItems(req *models.CheckoutRequest) ([]models.LineItem, *ServiceError) {
	if len(req.Items) > 0 {
		items := make([]models.LineItem, 0, len(req.Items))
		for i, in := range req.Items {
			item, err := validateItem(in, i)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	// Legacy single-item shape, quantity implicitly 1.
	if req.PriceID != "" {
		item, err := validateItem(models.LineItemInput{
			PriceID:      req.PriceID,
			Quantity:     1,
			ProductID:    req.ProductID,
			ProductTitle: req.ProductTitle,
			ProductSlug:  req.ProductSlug,
		}, 0)
		if err != nil {
			return nil, err
		}
		return []models.LineItem{item}, nil
	}

	return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Basket is empty"}
}

func validateItem(in models.LineItemInput, index int) (models.LineItem, *ServiceError) {
	missing := ""
	switch {
	case in.PriceID == "":
		missing = "price_id"
	case in.ProductID == "":
		missing = "product_id"
	case in.ProductTitle == "":
		missing = "product_title"
	case in.ProductSlug == "":
		missing = "product_slug"
	}
	if missing != "" {
		return models.LineItem{}, &ServiceError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("Line item %d is missing %s", index+1, missing),
		}
	}
	return models.LineItem{
		PriceID:      in.PriceID,
		Quantity:     models.NormalizeQuantity(in.Quantity),
		ProductID:    in.ProductID,
		ProductTitle: in.ProductTitle,
		ProductSlug:  in.ProductSlug,
	}, nil
}
