package signing

import (
	"errors"
	"strings"
	"testing"

	"github.com/devicepay/gate402"
)

func TestLegacyRoundTrip(t *testing.T) {
	l, err := NewLegacy("shared-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := l.Sign("header-bytes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(token, "v1=") {
		t.Fatalf("legacy token missing version prefix: %s", token)
	}

	v := l.Verify("header-bytes", token)
	if !v.Valid {
		t.Fatalf("round trip failed: %v", v.Reason)
	}
	if v.Algorithm != "HMAC-SHA256" {
		t.Errorf("algorithm: got %s", v.Algorithm)
	}
}

func TestLegacyRejections(t *testing.T) {
	l, err := NewLegacy("shared-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, err := l.Sign("header-bytes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		header string
		token  string
		want   error
	}{
		{name: "different header", header: "other-bytes", token: token, want: gate402.ErrSignatureMismatch},
		{name: "tampered signature", header: "header-bytes", token: tamperHex(token), want: gate402.ErrSignatureMismatch},
		{name: "not hex", header: "header-bytes", token: "v1=zzzz", want: gate402.ErrMalformedInput},
		{name: "wrong version", header: "header-bytes", token: "v2=123.k.sig", want: gate402.ErrUnsupportedSignatureVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := l.Verify(tt.header, tt.token)
			if v.Valid {
				t.Fatal("expected invalid verdict")
			}
			if !errors.Is(v.Reason, tt.want) {
				t.Errorf("got %v, want %v", v.Reason, tt.want)
			}
		})
	}
}

func TestLegacyRequiresSecret(t *testing.T) {
	if _, err := NewLegacy(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

// tamperHex flips one hex digit near the end of a token.
func tamperHex(token string) string {
	b := []byte(token)
	i := len(b) - 1
	if b[i] == 'a' {
		b[i] = 'b'
	} else {
		b[i] = 'a'
	}
	return string(b)
}
