package access

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"vipgate/internal/metrics"
)

const (
	DefaultInviteTTL   = time.Hour
	DefaultInviteLimit = 1
)

// Messenger: минимальный набор вызовов Bot API, нужный для доступа к каналу.
type Messenger interface {
	BanChatMember(ctx context.Context, chatID, userID string) error
	UnbanChatMember(ctx context.Context, chatID, userID string, onlyIfBanned bool) error
	CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time, memberLimit int) (string, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

// Result: итог побочного эффекта. Вызывающий логирует Err и продолжает.
type Result struct {
	OK         bool
	InviteLink string
	Err        error
}

type Controller struct {
	messenger   Messenger
	logger      zerolog.Logger
	now         func() time.Time
	inviteTTL   time.Duration
	inviteLimit int
}

func NewController(m Messenger, logger zerolog.Logger) *Controller {
	return &Controller{
		messenger:   m,
		logger:      logger.With().Str("component", "access").Logger(),
		now:         time.Now,
		inviteTTL:   DefaultInviteTTL,
		inviteLimit: DefaultInviteLimit,
	}
}

// WithClock подменяет часы (для тестов).
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Grant снимает возможный бан, создаёт одноразовую ссылку и отправляет её пользователю.
func (c *Controller) Grant(ctx context.Context, userID, channelID string) Result {
	log := c.logger.With().Str("user_id", userID).Str("channel_id", channelID).Logger()

	if err := c.messenger.UnbanChatMember(ctx, channelID, userID, true); err != nil && !IsUserGone(err) {
		return c.fail(log, "grant", classifyChannelErr("unban", channelID, err))
	}

	link, err := c.messenger.CreateInviteLink(ctx, channelID, c.now().Add(c.inviteTTL), c.inviteLimit)
	if err != nil {
		return c.fail(log, "grant", classifyChannelErr("create_invite_link", channelID, err))
	}

	text := fmt.Sprintf("🎉 <b>Welcome to the VIP channel!</b>\nYou can now access it using this link:\n\n%s",
		html.EscapeString(link))
	if err := c.messenger.SendMessage(ctx, userID, text); err != nil {
		res := c.fail(log, "grant", &DeliveryError{UserID: userID, Err: err})
		res.InviteLink = link
		return res
	}

	metrics.AccessOperationsTotal.WithLabelValues("grant", "ok").Inc()
	log.Info().Msg("Access: VIP access granted")
	return Result{OK: true, InviteLink: link}
}

// Revoke удаляет пользователя из канала (бан + разбан, чтобы он мог вернуться после оплаты)
// и сообщает ему об окончании подписки. Сообщение отправляется, даже если удалить не удалось.
func (c *Controller) Revoke(ctx context.Context, userID, channelID string) Result {
	log := c.logger.With().Str("user_id", userID).Str("channel_id", channelID).Logger()

	res := Result{OK: true}
	if err := c.remove(ctx, log, userID, channelID); err != nil {
		res = c.fail(log, "revoke", err)
	}

	if err := c.NotifyExpired(ctx, userID); err != nil {
		res.Err = errors.Join(res.Err, err)
		return res
	}

	if res.OK {
		metrics.AccessOperationsTotal.WithLabelValues("revoke", "ok").Inc()
		log.Info().Msg("Access: VIP access revoked")
	}
	return res
}

func (c *Controller) remove(ctx context.Context, log zerolog.Logger, userID, channelID string) error {
	if err := c.messenger.BanChatMember(ctx, channelID, userID); err != nil {
		if !IsUserGone(err) {
			return classifyChannelErr("ban", channelID, err)
		}
		log.Debug().Err(err).Msg("Access: user already left the channel")
		return nil
	}
	if err := c.messenger.UnbanChatMember(ctx, channelID, userID, true); err != nil && !IsUserGone(err) {
		return classifyChannelErr("unban", channelID, err)
	}
	return nil
}

// NotifyExpired отправляет пользователю сообщение об окончании подписки.
// Ошибка всегда *DeliveryError.
func (c *Controller) NotifyExpired(ctx context.Context, userID string) error {
	text := "⚠️ <b>Your VIP subscription has expired.</b>\n\n" +
		"If you want to keep VIP access, you can renew it from the bot menu."
	if err := c.messenger.SendMessage(ctx, userID, text); err != nil {
		metrics.AccessOperationsTotal.WithLabelValues("revoke", "notify_failed").Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Access: expiry message not delivered")
		return &DeliveryError{UserID: userID, Err: err}
	}
	return nil
}

func (c *Controller) fail(log zerolog.Logger, op string, err error) Result {
	kind := "error"
	switch err.(type) {
	case *PermissionError:
		kind = "permission"
	case *DeliveryError:
		kind = "delivery"
	}
	metrics.AccessOperationsTotal.WithLabelValues(op, kind).Inc()
	log.Error().Err(err).Str("op", op).Msg("Access: operation failed")
	return Result{OK: false, Err: err}
}
