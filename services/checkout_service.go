package services

import (
	"context"
	"math"
	"net/http"

	"commerce-service/models"

	"go.uber.org/zap"
)

// CheckoutService turns a validated checkout request into a provider-hosted
// session the buyer can be redirected to.
type CheckoutService interface {
	CreateSession(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSessionResult, *ServiceError)
}

type checkoutServiceImpl struct {
	baskets        *BasketService
	gateway        PaymentGateway
	siteURL        string
	currency       string
	membershipSlug string
	logger         *zap.Logger
}

func NewCheckoutService(
	baskets *BasketService,
	gateway PaymentGateway,
	siteURL, currency, membershipSlug string,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		baskets:        baskets,
		gateway:        gateway,
		siteURL:        siteURL,
		currency:       currency,
		membershipSlug: membershipSlug,
		logger:         logger,
	}
}

func (s *checkoutServiceImpl) CreateSession(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutSessionResult, *ServiceError) {
	option, ok := models.ParseShippingOption(req.ShippingOption)
	if !ok {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Unknown shipping option"}
	}

	basket, svcErr := s.baskets.Resolve(ctx, req)
	if svcErr != nil {
		return nil, svcErr
	}

	sessReq := &SessionRequest{
		Items:         basket.Items,
		Mode:          basket.Mode,
		Currency:      s.currency,
		CustomerEmail: req.Email,
		SuccessURL:    s.siteURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.siteURL + "/checkout/cancelled",
		Metadata:      buildMetadata(basket, req.UserID, ""),
	}

	if req.Subtotal != nil {
		if *req.Subtotal < 0 {
			return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "Subtotal must not be negative"}
		}
		cost := ShippingCost(option, *req.Subtotal, basket.IsDigitalOnly(s.membershipSlug))
		amount := int64(math.Round(cost * 100))
		sessReq.ShippingAmount = &amount
		sessReq.ShippingLabel = shippingLabel(option, cost)
		sessReq.Metadata = buildMetadata(basket, req.UserID, string(option))
	}

	result, err := s.gateway.CreateCheckoutSession(ctx, sessReq)
	if err != nil {
		s.logger.Error("Checkout session creation failed",
			zap.String("mode", string(basket.Mode)),
			zap.Int("items", len(basket.Items)),
			zap.Error(err),
		)
		return nil, ClassifyGatewayError(err)
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", result.SessionID),
		zap.String("mode", string(basket.Mode)),
		zap.Int("items", len(basket.Items)),
	)
	return result, nil
}

func buildMetadata(basket *models.Basket, userID, shippingOption string) models.CheckoutMetadata {
	meta := models.CheckoutMetadata{
		UserID:         userID,
		ShippingOption: shippingOption,
	}
	for _, item := range basket.Items {
		meta.ProductIDs = append(meta.ProductIDs, item.ProductID)
		meta.ProductTitles = append(meta.ProductTitles, item.ProductTitle)
		meta.ProductSlugs = append(meta.ProductSlugs, item.ProductSlug)
	}
	return meta
}

func shippingLabel(option models.ShippingOption, cost float64) string {
	var label string
	switch option {
	case models.ShippingPickup:
		label = "Shipping (Local pickup)"
	case models.ShippingRegional:
		label = "Shipping (Regional)"
	default:
		label = "Shipping (Domestic)"
	}
	if cost == 0 {
		label += " - Free"
	}
	return label
}
