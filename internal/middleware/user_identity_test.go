package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestUserIdentityMiddleware_ValidHeader_InjectsUserID(t *testing.T) {
	mw := NewUserIdentityMiddleware()

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/inbox/recent", nil)
	req.Header.Set(UserIDHeader, "U0123ABCD")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "U0123ABCD" {
		t.Errorf("userID = %q, want %q", capturedUserID, "U0123ABCD")
	}
}

func TestUserIdentityMiddleware_NoHeader_Returns401(t *testing.T) {
	mw := NewUserIdentityMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/inbox/recent", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", body.Code)
	}
}

func TestUserIdentityMiddleware_MalformedHeader_Returns401(t *testing.T) {
	mw := NewUserIdentityMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	for _, v := range []string{"user-123", "u0123abcd", "C0979H6S0P8", "U", "U1' OR 1=1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/inbox/recent", nil)
		req.Header.Set(UserIDHeader, v)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want %d", v, w.Result().StatusCode, http.StatusUnauthorized)
		}
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user id")
	}
}

func TestContextWithUserID_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "U999")
	got, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "U999" {
		t.Errorf("userID = %q, want %q", got, "U999")
	}
}

// TestMiddlewareChain_ProtectedGroup はchi.Routerのグループ内でのみ
// ユーザー識別が必須になることを検証する。
func TestMiddlewareChain_ProtectedGroup(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(NewUserIdentityMiddleware())
		r.Get("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health_no_header", "/health", "", http.StatusOK},
		{"api_no_header", "/api/tasks", "", http.StatusUnauthorized},
		{"api_with_header", "/api/tasks", "U0123ABCD", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.want {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.want)
			}
		})
	}
}
