package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  abc-123 ", "abc-123", true},
		{"telegram:42", "telegram:42", true},
		{"", "", false},
		{"has space", "", false},
		{strings.Repeat("a", 129), "", false},
	}
	for _, tt := range tests {
		got, ok := Sanitize(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Sanitize(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	t.Parallel()
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat?session_id=from-query", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "from-header" {
		t.Fatalf("session id = %q, want from-header", seen)
	}
}

func TestMiddlewareMintsCookie(t *testing.T) {
	t.Parallel()
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if !strings.HasPrefix(seen, "web_") {
		t.Fatalf("expected minted id, got %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != seen {
		t.Fatalf("expected cookie carrying %q, got %+v", seen, cookies)
	}
	if got := rec.Header().Get(SessionHeaderName); got != seen {
		t.Fatalf("%s header = %q, want %q", SessionHeaderName, got, seen)
	}
}
