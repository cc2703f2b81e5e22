package dto

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type CheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=64"`
}

type TonPaymentRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=64"`
}

type ManualGrantRequest struct {
	UserID    string `json:"user_id" validate:"required,numeric,max=20"`
	PlanID    string `json:"plan_id" validate:"required,max=64"`
	ChannelID string `json:"channel_id" validate:"omitempty,max=64"`
}

type KickRequest struct {
	UserID    string `json:"user_id" validate:"required,numeric,max=20"`
	ChannelID string `json:"channel_id" validate:"required,max=64"`
}

var Validate = validator.New()

// Decode читает JSON-тело и валидирует его. Возвращает имя поля, не прошедшего проверку.
func Decode(r *http.Request, v any) (string, error) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return "", errors.New("invalid JSON")
	}
	if err := Validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return verrs[0].Field(), err
		}
		return "", err
	}
	return "", nil
}
