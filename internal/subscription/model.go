package subscription

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("subscription not found")
	ErrTxHashUsed     = errors.New("ton transaction hash already used")
	ErrConflictOrigin = errors.New("subscription cannot have both stripe and ton origin")
	ErrInvalidPeriod  = errors.New("subscription end is before start")
)

type Origin string

const (
	OriginManual Origin = "manual"
	OriginStripe Origin = "stripe"
	OriginTon    Origin = "ton"
)

// Subscription: запись о доступе пользователя к VIP-каналу.
// Записи никогда не удаляются, только деактивируются.
type Subscription struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	ChannelID            *string   `json:"channel_id"`
	PlanID               string    `json:"plan_id"`
	PlanName             string    `json:"plan_name"` // снимок на момент создания
	StartAt              time.Time `json:"start_at"`
	EndAt                time.Time `json:"end_at"`
	Active               bool      `json:"active"`
	Kicked               bool      `json:"kicked"`
	StripeCustomerID     *string   `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id,omitempty"`
	TonTxHash            *string   `json:"ton_tx_hash,omitempty"`
	NotifiedBefore       bool      `json:"notified_before"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (s *Subscription) Origin() Origin {
	switch {
	case s.StripeSubscriptionID != nil || s.StripeCustomerID != nil:
		return OriginStripe
	case s.TonTxHash != nil:
		return OriginTon
	default:
		return OriginManual
	}
}

// Channel возвращает ID канала или пустую строку
func (s *Subscription) Channel() string {
	if s.ChannelID == nil {
		return ""
	}
	return *s.ChannelID
}

// IsDue: активна, но срок уже вышел
func (s *Subscription) IsDue(now time.Time) bool {
	return s.Active && !s.EndAt.After(now)
}

// CreateSpec: всё, что нужно единому примитиву создания.
type CreateSpec struct {
	UserID               string
	ChannelID            *string
	PlanID               string
	PlanName             string
	StartAt              time.Time
	EndAt                time.Time
	StripeCustomerID     *string
	StripeSubscriptionID *string
	TonTxHash            *string
}

func (c CreateSpec) Validate() error {
	if c.EndAt.Before(c.StartAt) {
		return ErrInvalidPeriod
	}
	hasStripe := c.StripeCustomerID != nil || c.StripeSubscriptionID != nil
	if hasStripe && c.TonTxHash != nil {
		return ErrConflictOrigin
	}
	return nil
}

// Extension: результат продления. Reactivated=true, если запись была неактивна
// до продления (доступ нужно выдать заново).
type Extension struct {
	Subscription *Subscription
	Reactivated  bool
}

// PlanDuration переводит дни плана в длительность (1 день = 86400000 мс).
func PlanDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// ExtendedEnd: max(currentEnd, now) + d. Продление никогда не сокращает доступ.
func ExtendedEnd(currentEnd, now time.Time, d time.Duration) time.Time {
	base := currentEnd
	if now.After(base) {
		base = now
	}
	return base.Add(d)
}

// StringPtr возвращает nil для пустой строки
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
