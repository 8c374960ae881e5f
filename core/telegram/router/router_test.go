package router

import (
	"errors"
	"fmt"
	"testing"
)

type codedErr struct{ code string }

func (e *codedErr) Error() string { return "coded" }
func (e *codedErr) Code() string  { return e.code }

type plainErr struct{}

func (plainErr) Error() string { return "plain" }

func TestDeriveErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&codedErr{code: "not found"}, "NOT_FOUND"},
		{fmt.Errorf("wrapped: %w", &codedErr{code: "precondition"}), "PRECONDITION"},
		{plainErr{}, "PLAINERR"},
		{&codedErr{code: " "}, "CODEDERR"},
	}
	for _, tc := range cases {
		if got := deriveErrorCode(tc.err); got != tc.want {
			t.Fatalf("deriveErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if got := deriveErrorCode(errors.New("x")); got != "ERRORSTRING" {
		t.Fatalf("errors.New code = %q", got)
	}
}

func TestNormalizeHandlerName(t *testing.T) {
	cases := map[string]string{
		"":            "unknown",
		"/start":      "start",
		" /AdmPanel ": "admpanel",
		"Create deal": "create_deal",
	}
	for in, want := range cases {
		if got := normalizeHandlerName(in); got != want {
			t.Fatalf("normalizeHandlerName(%q) = %q, want %q", in, got, want)
		}
	}
}
