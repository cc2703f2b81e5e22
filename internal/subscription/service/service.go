package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vipgate/internal/access"
	"vipgate/internal/catalog"
	"vipgate/internal/metrics"
	"vipgate/internal/subscription"
)

// Store: хранилище подписок. Каждая операция атомарна в пределах одной строки.
type Store interface {
	Create(ctx context.Context, spec subscription.CreateSpec) (*subscription.Subscription, error)
	Extend(ctx context.Context, userID, planID string, d time.Duration, now time.Time) (*subscription.Extension, error)
	FindActiveDue(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)
	FindByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error)
	ListAll(ctx context.Context) ([]*subscription.Subscription, error)
	FindByTonTxHash(ctx context.Context, hash string) (*subscription.Subscription, error)
	MarkInactive(ctx context.Context, id string, endAtSeen, now time.Time) (bool, error)
	MarkKicked(ctx context.Context, id string, now time.Time) error
	DeactivateForChannel(ctx context.Context, userID, channelID string, now time.Time) (int64, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	UnmarkEvent(ctx context.Context, eventID string) error
}

type PlanCatalog interface {
	GetPlan(ctx context.Context, id string) (*catalog.Plan, error)
}

type AccessController interface {
	Grant(ctx context.Context, userID, channelID string) access.Result
	Revoke(ctx context.Context, userID, channelID string) access.Result
}

type Notifier interface {
	NewPurchase(ctx context.Context, userID string, plan *catalog.Plan)
	Renewal(ctx context.Context, userID string, plan *catalog.Plan)
	Expired(ctx context.Context, sub *subscription.Subscription)
	Kicked(ctx context.Context, userID, channelID string)
}

// PaymentRef: ссылки на платёж. Пустая структура означает ручную выдачу.
type PaymentRef struct {
	StripeCustomerID     *string
	StripeSubscriptionID *string
	TonTxHash            *string
}

type GrantResult struct {
	Subscription *subscription.Subscription `json:"subscription"`
	AccessOK     bool                       `json:"access_ok"`
	AccessError  string                     `json:"access_error,omitempty"`
}

type KickResult struct {
	Deactivated int64  `json:"deactivated"`
	RevokeOK    bool   `json:"revoke_ok"`
	RevokeError string `json:"revoke_error,omitempty"`
}

type Service struct {
	store    Store
	catalog  PlanCatalog
	access   AccessController
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store Store, plans PlanCatalog, ac AccessController, n Notifier, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		catalog:  plans,
		access:   ac,
		notifier: n,
		logger:   logger.With().Str("component", "subscription").Logger(),
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) Plan(ctx context.Context, planID string) (*catalog.Plan, error) {
	return s.catalog.GetPlan(ctx, planID)
}

func (s *Service) Notifier() Notifier {
	return s.notifier
}

// Create: единая точка создания подписки для Stripe, TON и ручной выдачи.
func (s *Service) Create(ctx context.Context, userID, channelID string, plan *catalog.Plan, ref PaymentRef) (*subscription.Subscription, error) {
	now := s.now()
	spec := subscription.CreateSpec{
		UserID:               userID,
		ChannelID:            subscription.StringPtr(channelID),
		PlanID:               plan.ID,
		PlanName:             plan.Name,
		StartAt:              now,
		EndAt:                now.Add(subscription.PlanDuration(plan.DurationDays)),
		StripeCustomerID:     ref.StripeCustomerID,
		StripeSubscriptionID: ref.StripeSubscriptionID,
		TonTxHash:            ref.TonTxHash,
	}

	sub, err := s.store.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionsCreatedTotal.WithLabelValues(string(sub.Origin())).Inc()
	s.logger.Info().
		Str("user_id", userID).
		Str("plan_id", plan.ID).
		Str("origin", string(sub.Origin())).
		Time("end_at", sub.EndAt).
		Msg("Subscription: created")
	return sub, nil
}

// Extend продлевает подписку пользователя по плану, а если её нет: создаёт новую.
func (s *Service) Extend(ctx context.Context, userID string, plan *catalog.Plan, ref PaymentRef) (*subscription.Extension, error) {
	ext, err := s.store.Extend(ctx, userID, plan.ID, subscription.PlanDuration(plan.DurationDays), s.now())
	if errors.Is(err, subscription.ErrNotFound) {
		sub, err := s.Create(ctx, userID, plan.Channel(), plan, ref)
		if err != nil {
			return nil, err
		}
		return &subscription.Extension{Subscription: sub, Reactivated: true}, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionsExtendedTotal.Inc()
	s.logger.Info().
		Str("user_id", userID).
		Str("plan_id", plan.ID).
		Bool("reactivated", ext.Reactivated).
		Time("end_at", ext.Subscription.EndAt).
		Msg("Subscription: extended")
	return ext, nil
}

// GrantAccess выдаёт доступ к каналу подписки. false, если канала нет.
func (s *Service) GrantAccess(ctx context.Context, sub *subscription.Subscription) (access.Result, bool) {
	if sub.Channel() == "" {
		s.logger.Warn().Str("user_id", sub.UserID).Str("plan_id", sub.PlanID).Msg("Subscription: no channel, access not granted")
		return access.Result{}, false
	}
	return s.access.Grant(ctx, sub.UserID, sub.Channel()), true
}

// ManualGrant: выдача доступа администратором без оплаты.
func (s *Service) ManualGrant(ctx context.Context, userID, planID, channelID string) (*GrantResult, error) {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		channelID = plan.Channel()
	}

	sub, err := s.Create(ctx, userID, channelID, plan, PaymentRef{})
	if err != nil {
		return nil, fmt.Errorf("manual grant: %w", err)
	}

	res := &GrantResult{Subscription: sub}
	if r, ok := s.GrantAccess(ctx, sub); ok {
		res.AccessOK = r.OK
		if r.Err != nil {
			res.AccessError = r.Err.Error()
		}
	}
	return res, nil
}

// Kick закрывает все подписки пользователя на канал и удаляет его из канала.
// Сначала запись в базе, потом Telegram; ошибка удаления только попадает в результат.
func (s *Service) Kick(ctx context.Context, userID, channelID string) (*KickResult, error) {
	n, err := s.store.DeactivateForChannel(ctx, userID, channelID, s.now())
	if err != nil {
		return nil, fmt.Errorf("kick: %w", err)
	}

	r := s.access.Revoke(ctx, userID, channelID)
	if !r.OK {
		s.logger.Warn().Err(r.Err).Str("user_id", userID).Str("channel_id", channelID).Msg("Subscription: failed to remove kicked user")
	}

	s.notifier.Kicked(ctx, userID, channelID)
	s.logger.Info().Str("user_id", userID).Str("channel_id", channelID).Int64("deactivated", n).Msg("Subscription: user kicked")

	res := &KickResult{Deactivated: n, RevokeOK: r.OK}
	if r.Err != nil {
		res.RevokeError = r.Err.Error()
	}
	return res, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	return s.store.FindByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]*subscription.Subscription, error) {
	return s.store.ListAll(ctx)
}
