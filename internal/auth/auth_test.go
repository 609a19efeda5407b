package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func testCredentials() *Credentials {
	return &Credentials{APIKey: "test-key", SecretKey: "test-secret", Passphrase: "test-pass"}
}

func expectedSign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNewCredentials(t *testing.T) {
	tests := []struct {
		name                    string
		key, secret, passphrase string
		wantErr                 bool
	}{
		{"complete", "k", "s", "p", false},
		{"missing key", "", "s", "p", true},
		{"missing secret", "k", "", "p", true},
		{"missing passphrase", "k", "s", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredentials(tt.key, tt.secret, tt.passphrase)
			if tt.wantErr && !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("err = %v, want ErrMissingCredentials", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCredentials_Sign(t *testing.T) {
	creds := testCredentials()

	got := creds.Sign("2020-12-08T09:08:57.715Z", "GET", "/api/v5/account/balance?ccy=BTC", "")
	want := expectedSign("test-secret", "2020-12-08T09:08:57.715ZGET/api/v5/account/balance?ccy=BTC")
	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}

	// Body participates in the signature.
	withBody := creds.Sign("2020-12-08T09:08:57.715Z", "POST", "/api/v5/trade/order", `{"sz":"1"}`)
	if withBody == got {
		t.Error("signature should change with body")
	}
}

func TestCredentials_RESTHeaders(t *testing.T) {
	creds := testCredentials()
	now := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

	headers, err := creds.restHeadersAt(now, "GET", "/api/v5/account/balance", "")
	if err != nil {
		t.Fatalf("restHeadersAt failed: %v", err)
	}

	if headers[HeaderAccessKey] != "test-key" {
		t.Errorf("%s = %q, want %q", HeaderAccessKey, headers[HeaderAccessKey], "test-key")
	}
	if headers[HeaderAccessTimestamp] != "2026-03-01T12:00:00.123Z" {
		t.Errorf("%s = %q, want %q", HeaderAccessTimestamp, headers[HeaderAccessTimestamp], "2026-03-01T12:00:00.123Z")
	}
	if headers[HeaderAccessPassphrase] != "test-pass" {
		t.Errorf("%s = %q, want %q", HeaderAccessPassphrase, headers[HeaderAccessPassphrase], "test-pass")
	}
	want := expectedSign("test-secret", "2026-03-01T12:00:00.123ZGET/api/v5/account/balance")
	if headers[HeaderAccessSign] != want {
		t.Errorf("%s = %q, want %q", HeaderAccessSign, headers[HeaderAccessSign], want)
	}
}

func TestCredentials_RESTHeadersMissing(t *testing.T) {
	var creds *Credentials
	if _, err := creds.RESTHeaders("GET", "/", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestCredentials_LoginArgs(t *testing.T) {
	creds := testCredentials()
	now := time.Unix(1538054050, 0)

	args, err := creds.LoginArgs(now)
	if err != nil {
		t.Fatalf("LoginArgs failed: %v", err)
	}

	if args.Timestamp != "1538054050" {
		t.Errorf("Timestamp = %q, want %q", args.Timestamp, "1538054050")
	}
	if args.APIKey != "test-key" || args.Passphrase != "test-pass" {
		t.Errorf("unexpected key fields: %+v", args)
	}
	want := expectedSign("test-secret", "1538054050GET/users/self/verify")
	if args.Sign != want {
		t.Errorf("Sign = %q, want %q", args.Sign, want)
	}
}
