// Package middleware содержит HTTP middleware для сервиса гоферкарт.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

type contextKey string

const (
	ownerKey     contextKey = "owner"
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

const (
	sessionCookieName = "cart_session"
	sessionCookieTTL  = 30 * 24 * time.Hour

	userIDHeader = "X-User-ID"
)

// IdentityMiddleware разрешает владельца корзины для каждого запроса:
// аутентифицированный пользователь по заголовку либо гостевая сессия по
// подписанному cookie. Гостю без cookie выдаётся новая сессия.
type IdentityMiddleware struct {
	secretKey []byte
}

// NewIdentityMiddleware создаёт новый экземпляр IdentityMiddleware с указанным секретным ключом.
func NewIdentityMiddleware(secret string) *IdentityMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &IdentityMiddleware{
		secretKey: key,
	}
}

// Middleware определяет владельца корзины и добавляет его в контекст запроса.
// Невалидная подпись cookie не отклоняет запрос: гость получает новую сессию.
func (m *IdentityMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID := r.Header.Get(userIDHeader)
		if userID != "" {
			ctx = context.WithValue(ctx, userIDKey, userID)
			ctx = context.WithValue(ctx, ownerKey, model.UserOwner(userID))
		}

		sessionID, ok := m.sessionFromRequest(r)
		if !ok {
			sessionID = uuid.NewString()
			m.SetSessionCookie(w, sessionID)
		}
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
		if userID == "" {
			ctx = context.WithValue(ctx, ownerKey, model.SessionOwner(sessionID))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает подписанный cookie гостевой сессии.
func (m *IdentityMiddleware) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    m.sign(sessionID),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (m *IdentityMiddleware) sessionFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	return m.parseCookie(cookie.Value)
}

func (m *IdentityMiddleware) sign(sessionID string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(sessionID))
	signature := mac.Sum(nil)
	return sessionID + "." + hex.EncodeToString(signature)
}

func (m *IdentityMiddleware) parseCookie(cookieValue string) (string, bool) {
	idx := strings.LastIndex(cookieValue, ".")
	if idx <= 0 {
		return "", false
	}

	sessionID := cookieValue[:idx]
	signature := cookieValue[idx+1:]

	expected := strings.TrimPrefix(m.sign(sessionID), sessionID+".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return sessionID, true
}

// GetOwnerFromContext извлекает ключ владельца корзины из контекста запроса.
func GetOwnerFromContext(ctx context.Context) (model.OwnerKey, bool) {
	owner, ok := ctx.Value(ownerKey).(model.OwnerKey)
	return owner, ok
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// GetSessionIDFromContext извлекает идентификатор гостевой сессии из контекста запроса.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}
