// Package auth signs upstream REST requests and WebSocket logins with
// HMAC-SHA256 over timestamp+method+path+body.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// ErrMissingCredentials is returned when a signed operation is attempted
// without a complete key set.
var ErrMissingCredentials = errors.New("api key, secret key and passphrase are required")

// Header names used on signed REST requests.
const (
	HeaderAccessKey        = "OK-ACCESS-KEY"
	HeaderAccessSign       = "OK-ACCESS-SIGN"
	HeaderAccessTimestamp  = "OK-ACCESS-TIMESTAMP"
	HeaderAccessPassphrase = "OK-ACCESS-PASSPHRASE"
)

// VerifyPath is the request path signed for WebSocket logins.
const VerifyPath = "/users/self/verify"

// Credentials holds the API key set for signing requests.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// NewCredentials returns credentials, or ErrMissingCredentials if any part is empty.
func NewCredentials(apiKey, secretKey, passphrase string) (*Credentials, error) {
	c := &Credentials{APIKey: apiKey, SecretKey: secretKey, Passphrase: passphrase}
	if !c.Valid() {
		return nil, ErrMissingCredentials
	}
	return c, nil
}

// Valid reports whether every part of the key set is present.
func (c *Credentials) Valid() bool {
	return c != nil && c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// Sign returns base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (c *Credentials) Sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.SecretKey))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RESTHeaders generates authentication headers for a REST request.
// path must include the query string when one is sent.
func (c *Credentials) RESTHeaders(method, path, body string) (map[string]string, error) {
	return c.restHeadersAt(time.Now(), method, path, body)
}

func (c *Credentials) restHeadersAt(now time.Time, method, path, body string) (map[string]string, error) {
	if !c.Valid() {
		return nil, ErrMissingCredentials
	}

	timestamp := now.UTC().Format("2006-01-02T15:04:05.000Z")

	return map[string]string{
		HeaderAccessKey:        c.APIKey,
		HeaderAccessSign:       c.Sign(timestamp, method, path, body),
		HeaderAccessTimestamp:  timestamp,
		HeaderAccessPassphrase: c.Passphrase,
	}, nil
}

// LoginArgs is the single argument of a WebSocket login frame.
type LoginArgs struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// LoginArgs builds the login argument signed at now. The timestamp is in
// Unix seconds.
func (c *Credentials) LoginArgs(now time.Time) (LoginArgs, error) {
	if !c.Valid() {
		return LoginArgs{}, ErrMissingCredentials
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)

	return LoginArgs{
		APIKey:     c.APIKey,
		Passphrase: c.Passphrase,
		Timestamp:  timestamp,
		Sign:       c.Sign(timestamp, "GET", VerifyPath, ""),
	}, nil
}
