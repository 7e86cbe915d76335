package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

func TestIdentityMiddleware_NewGuestGetsSession(t *testing.T) {
	m := NewIdentityMiddleware("test-secret")

	var gotOwner model.OwnerKey
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := GetOwnerFromContext(r.Context())
		if !ok {
			t.Fatalf("owner not in context")
		}
		gotOwner = owner
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cart", nil)

	m.Middleware(next).ServeHTTP(w, r)

	if gotOwner.Kind != model.OwnerKindSession || gotOwner.Key == "" {
		t.Fatalf("owner = %+v, want session owner", gotOwner)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != sessionCookieName {
		t.Fatalf("session cookie not set")
	}
}

func TestIdentityMiddleware_ExistingSessionIsKept(t *testing.T) {
	m := NewIdentityMiddleware("test-secret")

	seed := httptest.NewRecorder()
	m.SetSessionCookie(seed, "session-1")
	cookie := seed.Result().Cookies()[0]

	var gotSession string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetSessionIDFromContext(r.Context())
		if !ok {
			t.Fatalf("session id not in context")
		}
		gotSession = id
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	r.AddCookie(cookie)

	m.Middleware(next).ServeHTTP(w, r)

	if gotSession != "session-1" {
		t.Fatalf("session id = %s, want session-1", gotSession)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("valid session must not be reissued")
	}
}

func TestIdentityMiddleware_TamperedCookieGetsNewSession(t *testing.T) {
	m := NewIdentityMiddleware("test-secret")

	var gotSession string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession, _ = GetSessionIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-1.deadbeef"})

	m.Middleware(next).ServeHTTP(w, r)

	if gotSession == "" || gotSession == "session-1" {
		t.Fatalf("tampered cookie must produce a fresh session, got %q", gotSession)
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatalf("new session cookie not set")
	}
}

func TestIdentityMiddleware_UserHeaderWins(t *testing.T) {
	m := NewIdentityMiddleware("test-secret")

	var gotOwner model.OwnerKey
	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = GetOwnerFromContext(r.Context())
		gotUser, _ = GetUserIDFromContext(r.Context())
	})

	seed := httptest.NewRecorder()
	m.SetSessionCookie(seed, "session-1")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	r.Header.Set(userIDHeader, "u1")
	r.AddCookie(seed.Result().Cookies()[0])

	m.Middleware(next).ServeHTTP(w, r)

	if gotOwner.Kind != model.OwnerKindUser || gotOwner.Key != "u1" {
		t.Fatalf("owner = %+v, want user u1", gotOwner)
	}
	if gotUser != "u1" {
		t.Fatalf("user id = %s, want u1", gotUser)
	}
}
