// Package dashboard выдаёт ссылки на веб-панель с JWT внутри.
package dashboard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"vipgate/pkg/jwt"
)

const DefaultTTL = time.Hour

var ErrNoBaseURL = errors.New("dashboard base url is not configured")

type Issuer struct {
	secret  string
	baseURL string
	admins  map[string]struct{}
	ttl     time.Duration
}

func NewIssuer(secret, baseURL string, adminIDs []string) *Issuer {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[strings.TrimSpace(id)] = struct{}{}
	}
	return &Issuer{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		admins:  admins,
		ttl:     DefaultTTL,
	}
}

func (i *Issuer) Role(telegramID string) string {
	if _, ok := i.admins[telegramID]; ok {
		return jwt.RoleAdmin
	}
	return jwt.RoleUser
}

// Token: подписанный токен с ролью пользователя.
func (i *Issuer) Token(telegramID string) (string, string, error) {
	role := i.Role(telegramID)
	token, err := jwt.GenerateToken(i.secret, telegramID, role, i.ttl)
	if err != nil {
		return "", "", fmt.Errorf("sign dashboard token: %w", err)
	}
	return token, role, nil
}

// Link: ссылка вида <base>/dashboard/<role>?t=<token>.
func (i *Issuer) Link(telegramID string) (string, error) {
	if i.baseURL == "" {
		return "", ErrNoBaseURL
	}
	token, role, err := i.Token(telegramID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/dashboard/%s?t=%s", i.baseURL, role, url.QueryEscape(token)), nil
}
