package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"vipgate/internal/dashboard"
	"vipgate/pkg/jwt"
)

const Command = "/dashboard"

type LinkIssuer interface {
	Role(telegramID string) string
	Link(telegramID string) (string, error)
}

type Handler struct {
	links  LinkIssuer
	logger zerolog.Logger
}

func NewHandler(links LinkIssuer, logger zerolog.Logger) *Handler {
	return &Handler{links: links, logger: logger.With().Str("component", "dashboard_bot").Logger()}
}

func (h *Handler) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, Command, tgbot.MatchTypePrefix, h.onCommand)
}

func (h *Handler) onCommand(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	// ссылки только в личке: в группе токен увидят все
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    msg.Chat.ID,
		Text:      h.Reply(strconv.FormatInt(msg.From.ID, 10)),
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		h.logger.Error().Err(err).Int64("user_id", msg.From.ID).Msg("Dashboard: failed to send link")
	}
}

// Reply: текст ответа на команду.
func (h *Handler) Reply(telegramID string) string {
	link, err := h.links.Link(telegramID)
	if err != nil {
		if !errors.Is(err, dashboard.ErrNoBaseURL) {
			h.logger.Error().Err(err).Str("user_id", telegramID).Msg("Dashboard: failed to issue link")
		}
		return "❌ Dashboard is not available right now."
	}

	title := "👤 Your dashboard"
	if h.links.Role(telegramID) == jwt.RoleAdmin {
		title = "🛠 Admin dashboard"
	}
	return fmt.Sprintf("<b>%s</b>\n\n<a href=\"%s\">Open</a>\nThe link is valid for 1 hour.", title, html.EscapeString(link))
}
