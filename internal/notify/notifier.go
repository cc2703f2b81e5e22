package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"vipgate/internal/catalog"
	"vipgate/internal/settings"
	"vipgate/internal/subscription"
)

const sendTimeout = 5 * time.Second

type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Notifier шлёт уведомления администратору. Ошибки только логируются.
type Notifier struct {
	sender   Sender
	settings settings.Provider
	logger   zerolog.Logger
}

func NewNotifier(sender Sender, provider settings.Provider, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		settings: provider,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

type event int

const (
	eventPurchase event = iota
	eventRenew
	eventExpire
	eventKick
)

func (e event) enabled(s settings.NotificationSettings) bool {
	switch e {
	case eventPurchase:
		return s.OnPurchase
	case eventRenew:
		return s.OnRenew
	case eventExpire:
		return s.OnExpire
	case eventKick:
		return s.OnKick
	}
	return false
}

func (n *Notifier) NewPurchase(ctx context.Context, userID string, plan *catalog.Plan) {
	n.notify(ctx, eventPurchase, fmt.Sprintf("🛒 <b>New purchase</b>\n👤 User: <code>%s</code>\n📦 Plan: <b>%s</b>",
		html.EscapeString(userID), html.EscapeString(plan.Name)))
}

func (n *Notifier) Renewal(ctx context.Context, userID string, plan *catalog.Plan) {
	n.notify(ctx, eventRenew, fmt.Sprintf("🔄 <b>Automatic renewal</b>\n👤 User: <code>%s</code>\n📦 Plan: <b>%s</b>",
		html.EscapeString(userID), html.EscapeString(plan.Name)))
}

func (n *Notifier) Expired(ctx context.Context, sub *subscription.Subscription) {
	n.notify(ctx, eventExpire, fmt.Sprintf("⏳ <b>Subscription expired</b>\n👤 User: <code>%s</code>\n📦 Plan: <b>%s</b>",
		html.EscapeString(sub.UserID), html.EscapeString(sub.PlanName)))
}

func (n *Notifier) Kicked(ctx context.Context, userID, channelID string) {
	n.notify(ctx, eventKick, fmt.Sprintf("🚫 <b>User removed</b>\n👤 ID: <code>%s</code>\n🏷 Channel: <code>%s</code>",
		html.EscapeString(userID), html.EscapeString(channelID)))
}

func (n *Notifier) notify(ctx context.Context, ev event, text string) {
	// отмена входящего запроса не должна обрывать отправку
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	s, err := n.settings.NotificationSettings(ctx)
	if err != nil {
		n.logger.Error().Err(err).Msg("Notify: failed to load notification settings")
		return
	}
	if !s.Enabled || s.AdminChatID == "" || !ev.enabled(s) {
		return
	}

	if err := n.sender.SendMessage(ctx, s.AdminChatID, text); err != nil {
		n.logger.Error().Err(err).Str("admin_chat_id", s.AdminChatID).Msg("Notify: failed to notify admin")
	}
}
