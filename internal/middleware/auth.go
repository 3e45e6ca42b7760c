// Package middleware содержит HTTP middleware сервиса автошколы.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmeshcher/drivingschool/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const authCookieName = "auth_token"

// Identity описывает проверенную личность вызывающего.
type Identity struct {
	UserID int64
	Role   model.Role
}

// Verifier проверяет токен сессии и возвращает личность пользователя.
type Verifier interface {
	Verify(token string) (Identity, bool)
}

// HMACVerifier проверяет токены, подписанные веб-приложением.
// Формат токена: "<userID>.<role>.<hex(hmac-sha256)>".
type HMACVerifier struct {
	secretKey []byte
}

// NewHMACVerifier создаёт проверяющий с указанным секретным ключом.
func NewHMACVerifier(secret string) *HMACVerifier {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &HMACVerifier{
		secretKey: key,
	}
}

// Verify проверяет подпись токена и разбирает идентификатор и роль.
func (v *HMACVerifier) Verify(token string) (Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(v.signature(payload))) {
		return Identity{}, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, false
	}

	role, err := model.ParseRole(parts[1])
	if err != nil {
		return Identity{}, false
	}

	return Identity{UserID: id, Role: role}, true
}

func (v *HMACVerifier) signature(payload string) string {
	mac := hmac.New(sha256.New, v.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthMiddleware выполняет проверку аутентификации пользователя по cookie сессии.
type AuthMiddleware struct {
	verifier Verifier
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным проверяющим.
func NewAuthMiddleware(verifier Verifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Middleware проверяет cookie авторизации и добавляет личность пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		identity, ok := a.verifier.Verify(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только пользователей с правами администратора.
// Должен стоять после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentityFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if !identity.Role.CanAdminister() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetIdentityFromContext извлекает личность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
