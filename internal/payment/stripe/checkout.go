package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"vipgate/internal/settings"
	"vipgate/internal/subscription/service"
)

var ErrPlanNotPurchasable = errors.New("plan has no stripe price")

type sessionCreator func(apiKey string, params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)

func newStripeSession(apiKey string, params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
	client := stripesession.Client{B: stripelib.GetBackend(stripelib.APIBackend), Key: apiKey}
	return client.New(params)
}

// CheckoutService создаёт сессии оплаты подписки.
type CheckoutService struct {
	plans         service.PlanCatalog
	settings      settings.Provider
	returnURL     string
	createSession sessionCreator
	logger        zerolog.Logger
}

func NewCheckoutService(plans service.PlanCatalog, provider settings.Provider, returnURL string, logger zerolog.Logger) *CheckoutService {
	return &CheckoutService{
		plans:         plans,
		settings:      provider,
		returnURL:     returnURL,
		createSession: newStripeSession,
		logger:        logger.With().Str("component", "stripe_checkout").Logger(),
	}
}

// CreateSession возвращает URL страницы оплаты.
func (c *CheckoutService) CreateSession(ctx context.Context, userID, planID string) (string, error) {
	cfg, err := c.settings.PaymentSettings(ctx)
	if err != nil {
		return "", err
	}
	if cfg.StripeSecretKey == "" {
		return "", ErrNotConfigured
	}

	plan, err := c.plans.GetPlan(ctx, planID)
	if err != nil {
		return "", err
	}
	if plan.StripePriceID == nil || strings.TrimSpace(*plan.StripePriceID) == "" {
		return "", ErrPlanNotPurchasable
	}

	metadata := map[string]string{
		"telegram_user_id": userID,
		"plan_id":          plan.ID,
		"channel_id":       plan.Channel(),
	}
	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL: stripelib.String(c.returnURL),
		CancelURL:  stripelib.String(c.returnURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(*plan.StripePriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	params.Context = ctx

	session, err := c.createSession(cfg.StripeSecretKey, params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("stripe returned empty checkout URL")
	}

	c.logger.Info().Str("user_id", userID).Str("plan_id", plan.ID).Str("session_id", session.ID).Msg("Stripe: checkout session created")
	return session.URL, nil
}
