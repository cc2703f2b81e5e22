package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound    = errors.New("plan not found")
	ErrChannelNotFound = errors.New("channel not found")
)

// Plan: тарифный план. Ядро только читает планы; редактирует их админка.
type Plan struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	DurationDays  int             `json:"duration_days"`
	ChannelID     *string         `json:"channel_id"`
	StripePriceID *string         `json:"stripe_price_id"`
}

// Channel возвращает канал плана или пустую строку
func (p *Plan) Channel() string {
	if p.ChannelID == nil {
		return ""
	}
	return *p.ChannelID
}

type Channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
