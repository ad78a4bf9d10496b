package logger

import (
	"context"
	"testing"
)

func TestMasking(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{name: "email", got: MaskEmail("john.doe@example.com"), want: "joh***@example.com"},
		{name: "short email", got: MaskEmail("jd@example.com"), want: "jd***@example.com"},
		{name: "ipv4", got: MaskIP("192.168.1.100"), want: "192.168.*.*"},
		{name: "ipv6", got: MaskIP("2001:0db8:85a3:0000:0000:8a2e:0370:7334"), want: "2001:0db8:85a3:0000:*:*:*:*"},
		{name: "string", got: MaskString("secret123"), want: "se***23"},
		{name: "short string", got: MaskString("abc"), want: "***"},
		{name: "identifier email", got: MaskIdentifier("admin@example.com"), want: "adm***@example.com"},
		{name: "identifier username", got: MaskIdentifier("warehouse-clerk"), want: "wa***rk"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, tc.got)
			}
		})
	}
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected req-42, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if WithContext(ctx) == nil {
		t.Fatalf("expected non-nil logger")
	}
}
