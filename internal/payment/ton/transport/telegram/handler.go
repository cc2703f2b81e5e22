// Package telegram подключает оплату TON к кнопкам бота.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"vipgate/internal/catalog"
	"vipgate/internal/payment/ton"
)

const (
	PayPrefix     = "TON_PAY_"
	ConfirmPrefix = "TON_CONFIRM_"
)

type Payments interface {
	Initiate(ctx context.Context, userID, planID string) (*ton.Instructions, error)
	Confirm(ctx context.Context, userID, planID string) (*ton.ConfirmResult, error)
}

type Handler struct {
	payments Payments
	logger   zerolog.Logger
}

func NewHandler(p Payments, logger zerolog.Logger) *Handler {
	return &Handler{payments: p, logger: logger.With().Str("component", "ton_bot").Logger()}
}

// Register вешает обработчики callback-кнопок на бота.
func (h *Handler) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, PayPrefix, tgbot.MatchTypePrefix, h.onPay)
	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, ConfirmPrefix, tgbot.MatchTypePrefix, h.onConfirm)
	h.logger.Info().Msg("TON: callback handlers registered")
}

func (h *Handler) onPay(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})

	planID := strings.TrimPrefix(cq.Data, PayPrefix)
	text, withButton := h.PayMessage(ctx, strconv.FormatInt(cq.From.ID, 10), planID)

	params := &tgbot.SendMessageParams{
		ChatID:    cq.From.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if withButton {
		params.ReplyMarkup = &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: "✅ I've already paid with TON", CallbackData: ConfirmPrefix + planID}},
			},
		}
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		h.logger.Error().Err(err).Int64("user_id", cq.From.ID).Msg("TON: failed to send payment instructions")
	}
}

func (h *Handler) onConfirm(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            "🔍 Verifying payment...",
	})

	planID := strings.TrimPrefix(cq.Data, ConfirmPrefix)
	text := h.ConfirmMessage(ctx, strconv.FormatInt(cq.From.ID, 10), planID)
	if text == "" {
		return
	}
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    cq.From.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		h.logger.Error().Err(err).Int64("user_id", cq.From.ID).Msg("TON: failed to send confirmation reply")
	}
}

// PayMessage: текст с реквизитами; false, если кнопку подтверждения показывать не нужно.
func (h *Handler) PayMessage(ctx context.Context, userID, planID string) (string, bool) {
	in, err := h.payments.Initiate(ctx, userID, planID)
	if err != nil {
		return h.errorText(err, userID), false
	}

	return fmt.Sprintf("💎 <b>Pay with TON</b>\n\n"+
		"Plan: <b>%s</b>\n"+
		"Amount: <b>%s TON</b>\n\n"+
		"1️⃣ Send %s TON to:\n<code>%s</code>\n\n"+
		"2️⃣ Include this comment in the transaction:\n<code>%s</code>\n\n"+
		"3️⃣ Press “I've already paid” when you are done.",
		html.EscapeString(in.PlanName), in.Amount, in.Amount,
		html.EscapeString(in.Wallet), html.EscapeString(in.Memo)), true
}

// ConfirmMessage: ответ пользователю после проверки. Пустая строка: доступ уже
// выдан сообщением со ссылкой.
func (h *Handler) ConfirmMessage(ctx context.Context, userID, planID string) string {
	res, err := h.payments.Confirm(ctx, userID, planID)
	if err != nil {
		return h.errorText(err, userID)
	}

	switch res.Status {
	case ton.StatusNotFound:
		return "⚠️ Your payment has not been found yet.\nTry again in 1–2 minutes."
	case ton.StatusAlreadyUsed:
		return "⚠️ This payment has already been used to activate a subscription."
	}
	if res.AccessGranted {
		return ""
	}
	text := fmt.Sprintf("✅ <b>Payment confirmed!</b>\nYour subscription is active until %s.",
		res.Subscription.EndAt.UTC().Format("2006-01-02 15:04 UTC"))
	if res.InviteLink != "" {
		// приветствие со ссылкой не дошло, отдаём ссылку здесь
		text += "\n\nJoin the VIP channel: " + html.EscapeString(res.InviteLink)
	}
	return text
}

func (h *Handler) errorText(err error, userID string) string {
	switch {
	case errors.Is(err, ton.ErrNotConfigured):
		return "❌ TON payment is not configured."
	case errors.Is(err, catalog.ErrPlanNotFound):
		return "❌ Plan not found."
	case errors.Is(err, ton.ErrInvalidPrice):
		return "⚠️ This plan does not have a valid TON price."
	case errors.Is(err, ton.ErrExplorerUnavailable):
		return "⚠️ Payment check is temporarily unavailable. Try again in a few minutes."
	}
	h.logger.Error().Err(err).Str("user_id", userID).Msg("TON: payment request failed")
	return "❌ Something went wrong. Try again later."
}
