package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("answer: %w", context.DeadlineExceeded), "timeout"},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.telegram.org"}, "dns"},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, "dial"},
		{"api 5xx", &tele.Error{Code: 503, Description: "Service Unavailable"}, "http_5xx"},
		{"api 4xx", &tele.Error{Code: 400, Description: "Bad Request"}, "http_4xx"},
		{"parsed", errors.New("telegram: Forbidden: bot was blocked by the user (403)"), "http_4xx"},
		{"plain", errors.New("boom"), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Fatalf("Kind = %s, want %s", got, tc.want)
			}
		})
	}
	if Kind(nil) != "" {
		t.Fatal("nil error has no kind")
	}
}

func TestRedactMasksToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:ABC-def_ghi/sendMessage": timeout`)
	if got := Redact(err); got != `Post "https://api.telegram.org/bot<redacted>/sendMessage": timeout` {
		t.Fatalf("got %q", got)
	}
	if Redact(nil) != "" {
		t.Fatal("nil error should redact to empty")
	}
}
