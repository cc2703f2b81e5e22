// Package telegram: кнопка управления картой подписки в боте.
package telegram

import (
	"context"
	"errors"
	"html"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"vipgate/internal/payment/stripe"
)

const ManageCallback = "USER_MANAGE_SUB"

type PortalCreator interface {
	CreatePortalSession(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	portal PortalCreator
	logger zerolog.Logger
}

func NewHandler(p PortalCreator, logger zerolog.Logger) *Handler {
	return &Handler{portal: p, logger: logger.With().Str("component", "stripe_bot").Logger()}
}

func (h *Handler) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, ManageCallback, tgbot.MatchTypeExact, h.onManage)
}

func (h *Handler) onManage(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    cq.From.ID,
		Text:      h.Reply(ctx, strconv.FormatInt(cq.From.ID, 10)),
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		h.logger.Error().Err(err).Int64("user_id", cq.From.ID).Msg("Stripe: failed to send portal link")
	}
}

// Reply: ссылка на портал или объяснение, почему её нет.
func (h *Handler) Reply(ctx context.Context, userID string) string {
	url, err := h.portal.CreatePortalSession(ctx, userID)
	switch {
	case err == nil:
		return "🔧 <b>Manage your subscription here:</b>\n" + html.EscapeString(url)
	case errors.Is(err, stripe.ErrNotConfigured):
		return "❌ Stripe is not configured."
	case errors.Is(err, stripe.ErrNoStripeSubscription):
		return "⚠️ We couldn't find your subscription on Stripe.\nContact the administrator."
	default:
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Stripe: portal failed")
		return "❌ The billing portal could not be opened. Try again later."
	}
}
