// Package auth implements §4.13: allow-list, static bearer tokens, and
// an HMAC-signed time-boxed token, OR-combined, grounded on the
// source AuthMiddleware's generate_token/verify_token.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized is returned by Authenticate on any failed check.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Config is the static policy loaded from server configuration.
type Config struct {
	Enabled        bool
	AllowedDevices map[string]struct{}
	StaticTokens   map[string]struct{}
	HMACSecret     string
	ExpireSeconds  int64
}

// NewConfig builds a Config from slices, as loaded from ServerConfig.
func NewConfig(enabled bool, allowedDevices, staticTokens []string, hmacSecret string, expireSeconds int64) Config {
	cfg := Config{
		Enabled:        enabled,
		AllowedDevices: make(map[string]struct{}, len(allowedDevices)),
		StaticTokens:   make(map[string]struct{}, len(staticTokens)),
		HMACSecret:     hmacSecret,
		ExpireSeconds:  expireSeconds,
	}
	for _, d := range allowedDevices {
		cfg.AllowedDevices[d] = struct{}{}
	}
	for _, t := range staticTokens {
		cfg.StaticTokens[t] = struct{}{}
	}
	return cfg
}

// Middleware evaluates an incoming connection's credentials.
type Middleware struct {
	cfg Config
	now func() time.Time
}

// New creates a Middleware from policy config.
func New(cfg Config) *Middleware {
	return &Middleware{cfg: cfg, now: time.Now}
}

// Authenticate runs the allow-list, static-token, and HMAC checks
// OR-combined: any one passing authenticates the connection. Disabled
// auth returns nil unconditionally.
func (m *Middleware) Authenticate(deviceID, clientID, bearerToken string) error {
	if !m.cfg.Enabled {
		return nil
	}

	if deviceID != "" {
		if _, ok := m.cfg.AllowedDevices[deviceID]; ok {
			return nil
		}
	}

	token := strings.TrimPrefix(bearerToken, "Bearer ")
	if token == "" {
		return fmt.Errorf("%w: no token", ErrUnauthorized)
	}

	if _, ok := m.cfg.StaticTokens[token]; ok {
		return nil
	}

	if m.verifyHMAC(clientID, deviceID, token) {
		return nil
	}

	return fmt.Errorf("%w: token rejected", ErrUnauthorized)
}

// GenerateToken mints "${base64url(HMAC-SHA256(secret, payload))}.${ts}"
// where payload is "${client_id}|${device_id}|${ts}", per §4.13.
func GenerateToken(secret, clientID, deviceID string, ts int64) string {
	sig := sign(secret, clientID, deviceID, ts)
	return sig + "." + strconv.FormatInt(ts, 10)
}

func sign(secret, clientID, deviceID string, ts int64) string {
	payload := fmt.Sprintf("%s|%s|%d", clientID, deviceID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyHMAC recomputes the signature and compares it in constant time,
// rejecting tokens whose timestamp is older than ExpireSeconds.
func (m *Middleware) verifyHMAC(clientID, deviceID, token string) bool {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return false
	}
	sigPart, tsPart := token[:idx], token[idx+1:]

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return false
	}

	if m.now().Unix()-ts > m.cfg.ExpireSeconds {
		return false
	}

	expected := sign(m.cfg.HMACSecret, clientID, deviceID, ts)
	return hmac.Equal([]byte(expected), []byte(sigPart))
}
