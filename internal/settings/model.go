package settings

import "context"

// PaymentSettings: ключи платёжных провайдеров. Пустое поле значит "не настроено".
type PaymentSettings struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	TonWalletAddress    string
	ToncenterAPIKey     string
}

func (p PaymentSettings) StripeConfigured() bool {
	return p.StripeSecretKey != "" && p.StripeWebhookSecret != ""
}

func (p PaymentSettings) TonConfigured() bool {
	return p.TonWalletAddress != ""
}

type NotificationSettings struct {
	Enabled     bool
	AdminChatID string
	OnPurchase  bool
	OnRenew     bool
	OnExpire    bool
	OnKick      bool
}

func DefaultNotificationSettings(adminChatID string) NotificationSettings {
	return NotificationSettings{
		Enabled:     true,
		AdminChatID: adminChatID,
		OnPurchase:  true,
		OnRenew:     true,
		OnExpire:    true,
		OnKick:      true,
	}
}

// Provider отдаёт актуальные настройки; их меняет внешняя админка, поэтому
// читаем на каждый запрос.
type Provider interface {
	PaymentSettings(ctx context.Context) (PaymentSettings, error)
	NotificationSettings(ctx context.Context) (NotificationSettings, error)
}

// Static: фиксированные настройки (тесты, конфиг без БД)
type Static struct {
	Payment      PaymentSettings
	Notification NotificationSettings
}

func (s Static) PaymentSettings(ctx context.Context) (PaymentSettings, error) {
	return s.Payment, nil
}

func (s Static) NotificationSettings(ctx context.Context) (NotificationSettings, error) {
	return s.Notification, nil
}
