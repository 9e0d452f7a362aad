package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"commerce-service/models"

	"github.com/stripe/stripe-go/v80"
	portalsession "github.com/stripe/stripe-go/v80/billingportal/session"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/price"
	"github.com/stripe/stripe-go/v80/webhook"
)

// SessionRequest is the gateway-facing representation of a checkout: basket
// line items, an optional synthetic shipping line, redirect targets and the
// flattened metadata bag.
type SessionRequest struct {
	Items          []models.LineItem
	Mode           models.BillingMode
	ShippingLabel  string
	ShippingAmount *int64 // smallest currency unit; nil means no shipping line
	Currency       string
	Metadata       models.CheckoutMetadata
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
}

// PaymentGateway abstracts the payment provider so services can be tested
// against mocks.
type PaymentGateway interface {
	BillingModeFor(ctx context.Context, priceID string) (models.BillingMode, error)
	CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*models.CheckoutSessionResult, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeService implements PaymentGateway against the Stripe API and owns
// webhook signature verification.
type StripeService struct {
	SecretKey  string
	WebhookKey string
}

func NewStripeService(secretKey, webhookKey string) *StripeService {
	stripe.Key = secretKey
	// Gateway calls hold a request handler open; keep them bounded.
	stripe.SetHTTPClient(&http.Client{Timeout: 8 * time.Second})
	return &StripeService{SecretKey: secretKey, WebhookKey: webhookKey}
}

// BillingModeFor looks up whether a price reference bills once or recurs.
func (s *StripeService) BillingModeFor(ctx context.Context, priceID string) (models.BillingMode, error) {
	params := &stripe.PriceParams{Params: stripe.Params{Context: ctx}}
	p, err := price.Get(priceID, params)
	if err != nil {
		return "", err
	}
	if p.Recurring != nil {
		return models.BillingModeRecurring, nil
	}
	return models.BillingModeOneTime, nil
}

// CreateCheckoutSession creates a provider-hosted checkout session and
// returns its id and redirect URL.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*models.CheckoutSessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Params:              stripe.Params{Context: ctx},
		Mode:                stripe.String(string(req.Mode)),
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}

	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	// The shipping line is added even when free so the buyer sees the
	// waived charge instead of it silently disappearing.
	if req.ShippingAmount != nil {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(*req.ShippingAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ShippingLabel),
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	for k, v := range req.Metadata.Flatten() {
		params.AddMetadata(k, v)
	}

	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return &models.CheckoutSessionResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession requests a self-service billing management session
// for a stored gateway customer.
func (s *StripeService) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// ParseWebhook reads the raw request body and verifies the Stripe signature
// against it. The body must not be re-serialized before verification.
func (s *StripeService) ParseWebhook(r *http.Request) (stripe.Event, error) {
	var event stripe.Event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return event, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))
	sigHeader := r.Header.Get("Stripe-Signature")
	// Events arrive at the account's pinned API version, which may trail the
	// library's; the signature is still the authority.
	return webhook.ConstructEventWithOptions(payload, sigHeader, s.WebhookKey,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// ClassifyGatewayError translates a provider error into a ServiceError so
// operators can tell configuration bugs from buyer input bugs. Credential
// detail is never surfaced to the caller.
func ClassifyGatewayError(err error) *ServiceError {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		// Bad credentials come back as a 401, not a distinct error type.
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Payment provider is misconfigured"}
		}
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return &ServiceError{StatusCode: http.StatusBadRequest, Message: "Invalid checkout request: " + stripeErr.Msg}
		}
	}
	return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Payment provider error"}
}
