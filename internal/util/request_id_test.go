package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestWithRequestID(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagates incoming", "req-incoming-123", true},
		{"generates when missing", "", false},
		{"replaces spaces", "bad id", false},
		{"replaces oversized", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.incoming != "" {
				req.Header.Set(RequestIDHeader, tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if got != seen {
				t.Fatalf("header id = %q, context id = %q", got, seen)
			}
			if tc.keep {
				if got != tc.incoming {
					t.Fatalf("request id = %q, want %q", got, tc.incoming)
				}
				return
			}
			if _, err := ulid.ParseStrict(got); err != nil {
				t.Fatalf("generated id %q is not a ulid: %v", got, err)
			}
		})
	}
}

func TestForwardRequestID(t *testing.T) {
	ctx := ContextWithRequestID(t.Context(), "req-7")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://outline/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ForwardRequestID(req)
	if got := req.Header.Get(RequestIDHeader); got != "req-7" {
		t.Fatalf("forwarded id = %q, want req-7", got)
	}

	bare, _ := http.NewRequest(http.MethodGet, "http://outline/healthz", nil)
	ForwardRequestID(bare)
	if got := bare.Header.Get(RequestIDHeader); got != "" {
		t.Fatalf("forwarded id = %q, want empty", got)
	}
}
