// Package telegram: обёртка над go-telegram/bot для остального сервиса.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// Bot реализует access.Messenger поверх Bot API.
type Bot struct {
	bot    *tgbot.Bot
	logger zerolog.Logger
}

func NewBot(token string, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	bot, err := tgbot.New(token, tgbot.WithDefaultHandler(defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info().Msg("Telegram: bot created")
	return &Bot{bot: bot, logger: logger}, nil
}

// Raw возвращает исходного бота для регистрации обработчиков
func (b *Bot) Raw() *tgbot.Bot {
	return b.bot
}

// Start блокирует до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info().Msg("Telegram: polling started")
	b.bot.Start(ctx)
	b.logger.Info().Msg("Telegram: polling stopped")
}

func (b *Bot) BanChatMember(ctx context.Context, chatID, userID string) error {
	uid, err := parseUserID(userID)
	if err != nil {
		return err
	}
	_, err = b.bot.BanChatMember(ctx, &tgbot.BanChatMemberParams{
		ChatID: ChatID(chatID),
		UserID: uid,
	})
	return err
}

func (b *Bot) UnbanChatMember(ctx context.Context, chatID, userID string, onlyIfBanned bool) error {
	uid, err := parseUserID(userID)
	if err != nil {
		return err
	}
	_, err = b.bot.UnbanChatMember(ctx, &tgbot.UnbanChatMemberParams{
		ChatID:       ChatID(chatID),
		UserID:       uid,
		OnlyIfBanned: onlyIfBanned,
	})
	return err
}

func (b *Bot) CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time, memberLimit int) (string, error) {
	link, err := b.bot.CreateChatInviteLink(ctx, &tgbot.CreateChatInviteLinkParams{
		ChatID:      ChatID(chatID),
		ExpireDate:  int(expireAt.Unix()),
		MemberLimit: memberLimit,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := b.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    ChatID(chatID),
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

// ChatID: числовые идентификаторы уходят в API как int64, "@username" как есть.
func ChatID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func parseUserID(userID string) (int64, error) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram user id %q: %w", userID, err)
	}
	return uid, nil
}

func defaultHandler(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	_, _ = bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Use the menu buttons to buy or renew VIP access.",
	})
}
