package settings

import (
	"context"
	"fmt"
)

type Repository interface {
	GetPayment(ctx context.Context) (*PaymentSettings, error)
	GetNotification(ctx context.Context) (*NotificationSettings, error)
}

// Resolver берёт настройки из БД и дополняет пустые поля значениями из окружения.
type Resolver struct {
	repo     Repository
	fallback PaymentSettings
	notif    NotificationSettings
}

func NewResolver(repo Repository, fallback PaymentSettings, defaultNotif NotificationSettings) *Resolver {
	return &Resolver{repo: repo, fallback: fallback, notif: defaultNotif}
}

func (r *Resolver) PaymentSettings(ctx context.Context) (PaymentSettings, error) {
	stored, err := r.repo.GetPayment(ctx)
	if err != nil {
		return PaymentSettings{}, fmt.Errorf("load payment settings: %w", err)
	}

	out := r.fallback
	if stored == nil {
		return out, nil
	}
	if stored.StripeSecretKey != "" {
		out.StripeSecretKey = stored.StripeSecretKey
	}
	if stored.StripeWebhookSecret != "" {
		out.StripeWebhookSecret = stored.StripeWebhookSecret
	}
	if stored.TonWalletAddress != "" {
		out.TonWalletAddress = stored.TonWalletAddress
	}
	if stored.ToncenterAPIKey != "" {
		out.ToncenterAPIKey = stored.ToncenterAPIKey
	}
	return out, nil
}

func (r *Resolver) NotificationSettings(ctx context.Context) (NotificationSettings, error) {
	stored, err := r.repo.GetNotification(ctx)
	if err != nil {
		return NotificationSettings{}, fmt.Errorf("load notification settings: %w", err)
	}
	if stored == nil {
		return r.notif, nil
	}

	out := *stored
	if out.AdminChatID == "" {
		out.AdminChatID = r.notif.AdminChatID
	}
	return out, nil
}
