package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

// ChargeRequest contains parameters for confirming a charge
type ChargeRequest struct {
	Amount           int64 // Amount in cents
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	Metadata         map[string]string
}

// ChargeResult is the gateway's view of a charge attempt
type ChargeResult struct {
	ID     string
	Status string
}

// Succeeded reports whether the gateway confirmed the charge. Any status
// other than "succeeded" is treated as a failure.
func (r *ChargeResult) Succeeded() bool {
	return r.Status == "succeeded"
}

// PaymentGateway confirms charges against the payment provider
type PaymentGateway interface {
	ConfirmCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// StripeGateway implements PaymentGateway using Stripe payment intents
type StripeGateway struct {
	logger *zap.Logger
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	if secretKey == "" {
		panic("Stripe secret key is required")
	}

	// Set the Stripe API key
	stripe.Key = secretKey

	return &StripeGateway{logger: logger}
}

// ConfirmCharge creates and immediately confirms an off-session payment
// intent for the stored payment method.
func (g *StripeGateway) ConfirmCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be greater than 0")
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("currency is required")
	}
	if req.CustomerRef == "" {
		return nil, fmt.Errorf("customer reference is required")
	}
	if req.PaymentMethodRef == "" {
		return nil, fmt.Errorf("payment method reference is required")
	}

	g.logger.Info("Confirming charge via Stripe",
		zap.String("customer", req.CustomerRef),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency))

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	// Bound the Stripe API call
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	params.Context = ctx

	intent, err := paymentintent.New(params)
	if err != nil {
		g.logger.Error("Stripe charge confirmation failed",
			zap.Error(err),
			zap.String("customer", req.CustomerRef))
		return nil, fmt.Errorf("failed to confirm charge: %w", err)
	}

	g.logger.Info("Stripe charge confirmed",
		zap.String("payment_intent_id", intent.ID),
		zap.String("status", string(intent.Status)))

	return &ChargeResult{
		ID:     intent.ID,
		Status: string(intent.Status),
	}, nil
}
