package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"vipgate/internal/access"
	"vipgate/internal/catalog"
	"vipgate/internal/metrics"
	"vipgate/internal/settings"
	"vipgate/internal/subscription"
	"vipgate/internal/subscription/service"
)

var ErrNotConfigured = errors.New("stripe is not configured")

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventInvoicePaid       = "invoice.payment_succeeded"

	// первый счёт подписки покрыт checkout.session.completed
	billingReasonCreate = "subscription_create"

	// выдача доступа и уведомления идут уже после ответа Stripe
	sideEffectTimeout = 30 * time.Second
)

const (
	ResultProcessed        = "processed"
	ResultDuplicate        = "duplicate"
	ResultIgnored          = "ignored"
	ResultInvalidSignature = "invalid_signature"
	ResultNotConfigured    = "not_configured"
	ResultProcessingFailed = "processing_failed"
)

// Outcome: HTTP-статус и итог обработки вебхука.
type Outcome struct {
	Status int
	Result string
}

type Subscriptions interface {
	Create(ctx context.Context, userID, channelID string, plan *catalog.Plan, ref service.PaymentRef) (*subscription.Subscription, error)
	Extend(ctx context.Context, userID string, plan *catalog.Plan, ref service.PaymentRef) (*subscription.Extension, error)
	GrantAccess(ctx context.Context, sub *subscription.Subscription) (access.Result, bool)
}

type EventStore interface {
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	UnmarkEvent(ctx context.Context, eventID string) error
}

type Notifier interface {
	NewPurchase(ctx context.Context, userID string, plan *catalog.Plan)
	Renewal(ctx context.Context, userID string, plan *catalog.Plan)
}

type Reconciler struct {
	subs     Subscriptions
	events   EventStore
	plans    service.PlanCatalog
	notifier Notifier
	settings settings.Provider
	logger   zerolog.Logger

	pending sync.WaitGroup
}

func NewReconciler(subs Subscriptions, events EventStore, plans service.PlanCatalog, n Notifier, provider settings.Provider, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		subs:     subs,
		events:   events,
		plans:    plans,
		notifier: n,
		settings: provider,
		logger:   logger.With().Str("component", "stripe_webhook").Logger(),
	}
}

// Handle проверяет подпись и применяет событие. Бизнесовые "ничего не делать"
// отвечают 200, чтобы Stripe не повторял доставку.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) Outcome {
	cfg, err := r.settings.PaymentSettings(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Stripe: failed to load payment settings")
		return r.outcome("unknown", http.StatusInternalServerError, ResultProcessingFailed)
	}
	if !cfg.StripeConfigured() {
		r.logger.Error().Err(ErrNotConfigured).Msg("Stripe: webhook rejected")
		return r.outcome("unknown", http.StatusInternalServerError, ResultNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Stripe: invalid webhook signature")
		return r.outcome("unknown", http.StatusBadRequest, ResultInvalidSignature)
	}

	eventType := string(event.Type)
	log := r.logger.With().Str("event_id", event.ID).Str("type", eventType).Logger()

	var apply func(context.Context, *stripelib.Event, zerolog.Logger) (string, error)
	switch eventType {
	case EventCheckoutCompleted:
		apply = r.handleCheckout
	case EventInvoicePaid:
		apply = r.handleInvoice
	default:
		log.Debug().Msg("Stripe: event ignored (unhandled type)")
		return r.outcome(eventType, http.StatusOK, ResultIgnored)
	}

	first, err := r.events.MarkEventProcessed(ctx, event.ID, eventType)
	if err != nil {
		log.Error().Err(err).Msg("Stripe: failed to record event")
		return r.outcome(eventType, http.StatusInternalServerError, ResultProcessingFailed)
	}
	if !first {
		log.Info().Msg("Stripe: duplicate event skipped")
		return r.outcome(eventType, http.StatusOK, ResultDuplicate)
	}

	result, err := apply(ctx, &event, log)
	if err != nil {
		log.Error().Err(err).Msg("Stripe: webhook processing failed")
		// снимаем отметку, чтобы повторная доставка обработала событие заново
		if uerr := r.events.UnmarkEvent(context.WithoutCancel(ctx), event.ID); uerr != nil {
			log.Error().Err(uerr).Msg("Stripe: failed to release event mark")
		}
		return r.outcome(eventType, http.StatusInternalServerError, ResultProcessingFailed)
	}
	return r.outcome(eventType, http.StatusOK, result)
}

// afterCommit запускает побочные эффекты в фоне, чтобы они не задерживали ответ вебхуку.
func (r *Reconciler) afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait ждёт фоновые выдачи доступа и уведомления.
func (r *Reconciler) Wait() {
	r.pending.Wait()
}

func (r *Reconciler) outcome(eventType string, status int, result string) Outcome {
	metrics.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
	return Outcome{Status: status, Result: result}
}

type checkoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type invoice struct {
	ID            string            `json:"id"`
	BillingReason string            `json:"billing_reason"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
	Lines         struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	// API 2025-03-31.basil: подписка и её метаданные переехали в parent
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (r *Reconciler) handleCheckout(ctx context.Context, event *stripelib.Event, log zerolog.Logger) (string, error) {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		log.Warn().Err(err).Msg("Stripe: malformed checkout session")
		return ResultIgnored, nil
	}

	userID, planID, ok := purchaseMetadata(session.Metadata)
	if !ok {
		log.Warn().Interface("metadata", session.Metadata).Msg("Stripe: telegram_user_id or plan_id metadata is missing")
		return ResultIgnored, nil
	}

	plan, err := r.plans.GetPlan(ctx, planID)
	if errors.Is(err, catalog.ErrPlanNotFound) {
		log.Warn().Str("plan_id", planID).Msg("Stripe: plan not found")
		return ResultIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}

	channelID := metaValue(session.Metadata, "channel_id")
	if channelID == "" {
		channelID = plan.Channel()
	}

	sub, err := r.subs.Create(ctx, userID, channelID, plan, service.PaymentRef{
		StripeCustomerID:     subscription.StringPtr(session.Customer),
		StripeSubscriptionID: subscription.StringPtr(session.Subscription),
	})
	if err != nil {
		return "", fmt.Errorf("create subscription: %w", err)
	}

	r.afterCommit(ctx, func(ctx context.Context) {
		if res, ok := r.subs.GrantAccess(ctx, sub); ok && !res.OK {
			log.Warn().Err(res.Err).Str("user_id", userID).Msg("Stripe: access not granted")
		}
		r.notifier.NewPurchase(ctx, userID, plan)
	})
	return ResultProcessed, nil
}

func (r *Reconciler) handleInvoice(ctx context.Context, event *stripelib.Event, log zerolog.Logger) (string, error) {
	var inv invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		log.Warn().Err(err).Msg("Stripe: malformed invoice")
		return ResultIgnored, nil
	}
	if inv.BillingReason == billingReasonCreate {
		log.Debug().Str("invoice_id", inv.ID).Msg("Stripe: first invoice handled by checkout")
		return ResultIgnored, nil
	}

	userID, planID, ok := inv.purchaseMetadata()
	if !ok {
		log.Warn().Str("invoice_id", inv.ID).Msg("Stripe: invoice without telegram_user_id/plan_id")
		return ResultIgnored, nil
	}

	plan, err := r.plans.GetPlan(ctx, planID)
	if errors.Is(err, catalog.ErrPlanNotFound) {
		log.Warn().Str("plan_id", planID).Msg("Stripe: plan not found")
		return ResultIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}

	ext, err := r.subs.Extend(ctx, userID, plan, service.PaymentRef{
		StripeCustomerID:     subscription.StringPtr(inv.Customer),
		StripeSubscriptionID: subscription.StringPtr(inv.subscriptionID()),
	})
	if err != nil {
		return "", fmt.Errorf("extend subscription: %w", err)
	}

	r.afterCommit(ctx, func(ctx context.Context) {
		if ext.Reactivated {
			if res, ok := r.subs.GrantAccess(ctx, ext.Subscription); ok && !res.OK {
				log.Warn().Err(res.Err).Str("user_id", userID).Msg("Stripe: access not granted")
			}
		}
		r.notifier.Renewal(ctx, userID, plan)
	})
	return ResultProcessed, nil
}

func (inv *invoice) subscriptionID() string {
	if inv.Subscription == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return inv.Subscription
}

// purchaseMetadata: строка счёта, затем сам счёт, затем метаданные подписки.
func (inv *invoice) purchaseMetadata() (string, string, bool) {
	sources := make([]map[string]string, 0, 4)
	if len(inv.Lines.Data) > 0 {
		sources = append(sources, inv.Lines.Data[0].Metadata)
	}
	sources = append(sources, inv.Metadata)
	if inv.SubscriptionDetails != nil {
		sources = append(sources, inv.SubscriptionDetails.Metadata)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		sources = append(sources, inv.Parent.SubscriptionDetails.Metadata)
	}

	for _, m := range sources {
		if userID, planID, ok := purchaseMetadata(m); ok {
			return userID, planID, true
		}
	}
	return "", "", false
}

func purchaseMetadata(m map[string]string) (userID, planID string, ok bool) {
	userID = metaValue(m, "telegram_user_id")
	planID = metaValue(m, "plan_id")
	if userID == "" || planID == "" {
		return "", "", false
	}
	if id, err := strconv.ParseInt(userID, 10, 64); err != nil || id <= 0 {
		return "", "", false
	}
	return userID, planID, true
}

// metaValue: "null" и "undefined" приходят из старых клиентов вместо пустого значения.
func metaValue(m map[string]string, key string) string {
	v := strings.TrimSpace(m[key])
	switch v {
	case "null", "undefined":
		return ""
	}
	return v
}
