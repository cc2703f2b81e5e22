package access

import (
	"fmt"
	"strings"
)

// PermissionError: у бота нет прав в канале или канал не найден.
type PermissionError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("access %s: no permission in channel %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// DeliveryError: личное сообщение пользователю не доставлено.
type DeliveryError struct {
	UserID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("access: message to user %s not delivered: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SideEffectError: всё остальное, что вернул мессенджер.
type SideEffectError struct {
	Op  string
	Err error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("access %s: %v", e.Op, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }

// Тексты ошибок Bot API, по которым классифицируем ответы.
var (
	permissionMarkers = []string{
		"not enough rights",
		"chat_admin_required",
		"need administrator rights",
		"have no rights",
		"chat not found",
		"bot is not a member",
		"bot was kicked",
	}
	goneMarkers = []string{
		"user not found",
		"participant_id_invalid",
		"user_not_participant",
		"member not found",
		"user is not a member",
	}
)

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsUserGone: пользователь уже не в канале, удалять нечего.
func IsUserGone(err error) bool {
	return containsAny(err, goneMarkers)
}

func classifyChannelErr(op, channelID string, err error) error {
	if containsAny(err, permissionMarkers) {
		return &PermissionError{Op: op, ChannelID: channelID, Err: err}
	}
	return &SideEffectError{Op: op, Err: err}
}
