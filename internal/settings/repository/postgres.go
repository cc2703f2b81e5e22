package repository

import (
	"context"
	"database/sql"
	"errors"

	"vipgate/internal/settings"
)

// PostgresRepository читает одну строку настроек (id = 1), которую пишет админка.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetPayment(ctx context.Context) (*settings.PaymentSettings, error) {
	p := &settings.PaymentSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT stripe_secret_key, stripe_webhook_secret, ton_wallet_address, toncenter_api_key
		 FROM payment_settings WHERE id = 1`).
		Scan(&p.StripeSecretKey, &p.StripeWebhookSecret, &p.TonWalletAddress, &p.ToncenterAPIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) GetNotification(ctx context.Context) (*settings.NotificationSettings, error) {
	n := &settings.NotificationSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled, admin_chat_id, on_purchase, on_renew, on_expire, on_kick
		 FROM notification_settings WHERE id = 1`).
		Scan(&n.Enabled, &n.AdminChatID, &n.OnPurchase, &n.OnRenew, &n.OnExpire, &n.OnKick)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}
