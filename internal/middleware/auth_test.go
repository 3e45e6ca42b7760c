package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/mmeshcher/drivingschool/internal/model"
)

// signToken подписывает токен так же, как это делает веб-приложение.
func signToken(v *HMACVerifier, identity Identity) string {
	payload := strconv.FormatInt(identity.UserID, 10) + "." + identity.Role.String()
	return payload + "." + v.signature(payload)
}

type stubVerifier map[string]Identity

func (s stubVerifier) Verify(token string) (Identity, bool) {
	identity, ok := s[token]
	return identity, ok
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	m := NewAuthMiddleware(v)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		identity, ok := GetIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity not in context")
		}
		if identity.UserID != 42 {
			t.Fatalf("user id from context = %d, want 42", identity.UserID)
		}
		if identity.Role != model.RoleTeacher {
			t.Fatalf("role from context = %s, want teacher", identity.Role)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: signToken(v, Identity{UserID: 42, Role: model.RoleTeacher})})

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware(NewHMACVerifier("test-secret"))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_UsesVerifier(t *testing.T) {
	m := NewAuthMiddleware(stubVerifier{"good": {UserID: 5, Role: model.RoleAdmin}})

	var got Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := m.Middleware(next)

	for token, want := range map[string]int{"good": http.StatusNoContent, "bad": http.StatusUnauthorized} {
		r := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.AddCookie(&http.Cookie{Name: authCookieName, Value: token})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		if w.Code != want {
			t.Fatalf("token %q: status = %d, want %d", token, w.Code, want)
		}
	}

	if got.UserID != 5 || got.Role != model.RoleAdmin {
		t.Fatalf("identity from verifier = %+v", got)
	}
}

func TestHMACVerifier_RejectsTamperedToken(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	token := signToken(v, Identity{UserID: 7, Role: model.RoleStudent})

	tests := []struct {
		name  string
		token string
	}{
		{name: "role escalated", token: strings.Replace(token, ".student.", ".admin.", 1)},
		{name: "user swapped", token: "8" + token[1:]},
		{name: "signature cut", token: token[:len(token)-2]},
		{name: "wrong secret", token: signToken(NewHMACVerifier("other"), Identity{UserID: 7, Role: model.RoleStudent})},
		{name: "garbage", token: "not-a-token"},
		{name: "unknown role", token: "7.owner." + v.signature("7.owner")},
		{name: "zero user", token: "0.student." + v.signature("0.student")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := v.Verify(tt.token); ok {
				t.Fatalf("token %q unexpectedly verified", tt.token)
			}
		})
	}

	identity, ok := v.Verify(token)
	if !ok || identity.UserID != 7 || identity.Role != model.RoleStudent {
		t.Fatalf("valid token not verified: %+v %v", identity, ok)
	}
}

func TestRequireAdmin(t *testing.T) {
	verifier := stubVerifier{
		"admin":   {UserID: 1, Role: model.RoleAdmin},
		"teacher": {UserID: 2, Role: model.RoleTeacher},
		"student": {UserID: 3, Role: model.RoleStudent},
	}
	m := NewAuthMiddleware(verifier)

	tests := []struct {
		token      string
		wantStatus int
	}{
		{token: "admin", wantStatus: http.StatusNoContent},
		{token: "teacher", wantStatus: http.StatusForbidden},
		{token: "student", wantStatus: http.StatusForbidden},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := m.Middleware(RequireAdmin(next))

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin/invoices", nil)
			r.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.token})
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	w := httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/invoices", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without identity = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
