package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"

	"vipgate/internal/settings"
	"vipgate/internal/subscription"
)

var ErrNoStripeSubscription = errors.New("no active stripe subscription")

type portalCreator func(apiKey string, params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)

func newPortalSession(apiKey string, params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error) {
	client := portalsession.Client{B: stripelib.GetBackend(stripelib.APIBackend), Key: apiKey}
	return client.New(params)
}

type UserSubscriptions interface {
	FindByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error)
}

// PortalService открывает Stripe Customer Portal: смена карты, отмена, счета.
type PortalService struct {
	subs         UserSubscriptions
	settings     settings.Provider
	returnURL    string
	createPortal portalCreator
	logger       zerolog.Logger
}

func NewPortalService(subs UserSubscriptions, provider settings.Provider, returnURL string, logger zerolog.Logger) *PortalService {
	return &PortalService{
		subs:         subs,
		settings:     provider,
		returnURL:    returnURL,
		createPortal: newPortalSession,
		logger:       logger.With().Str("component", "stripe_portal").Logger(),
	}
}

// CreatePortalSession возвращает URL портала для клиента активной Stripe-подписки пользователя.
func (p *PortalService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	cfg, err := p.settings.PaymentSettings(ctx)
	if err != nil {
		return "", err
	}
	if cfg.StripeSecretKey == "" {
		return "", ErrNotConfigured
	}

	subs, err := p.subs.FindByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load subscriptions: %w", err)
	}
	customerID := activeStripeCustomer(subs)
	if customerID == "" {
		return "", ErrNoStripeSubscription
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(p.returnURL),
	}
	params.Context = ctx

	session, err := p.createPortal(cfg.StripeSecretKey, params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("stripe returned empty portal URL")
	}

	p.logger.Info().Str("user_id", userID).Str("customer_id", customerID).Msg("Stripe: portal session created")
	return session.URL, nil
}

// activeStripeCustomer: клиент активной подписки с самым поздним EndAt.
func activeStripeCustomer(subs []*subscription.Subscription) string {
	var best *subscription.Subscription
	for _, s := range subs {
		if !s.Active || s.StripeCustomerID == nil || *s.StripeCustomerID == "" {
			continue
		}
		if best == nil || s.EndAt.After(best.EndAt) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return *best.StripeCustomerID
}
