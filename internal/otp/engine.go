// Package otp implements the time-windowed one-time code scheme used for
// redemption proof tokens.
//
// The derivation is NOT standard RFC-6238 TOTP: the counter is bound into
// the HMAC input as text, and truncation slices the hex digest at an offset
// taken from its last hex digit. Already-issued codes and the staff-scanning
// tooling depend on this exact algorithm, so it must not be normalised to a
// standard TOTP library.
package otp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"waypoint/georeward-api/internal/domain"
)

// CodeWindowMillis is the validity window of a single code, and the lifetime
// of an issued redemption token.
const CodeWindowMillis = 30_000

// Token validation failure kinds, surfaced to the caller as distinct errors.
var (
	ErrTokenExpired     = errors.New("redemption token expired")
	ErrTokenInvalidCode = errors.New("redemption token code invalid")
	ErrTokenMalformed   = errors.New("redemption token malformed")
)

// Engine generates and verifies one-time codes keyed by a server-side
// secret. It holds no mutable state beyond that secret and the wall clock.
type Engine struct {
	secret []byte
}

// NewEngine creates a code engine from the configured server secret.
// An empty secret is a configuration error: the engine refuses to fall
// back to a hardcoded default.
func NewEngine(secret string) (*Engine, error) {
	if secret == "" {
		return nil, errors.New("otp: server secret must be configured (set TOTP_SECRET)")
	}
	return &Engine{secret: []byte(secret)}, nil
}

// ─── Code generation / verification ──────────────────────────────────────────

// GenerateCode derives the 6-digit code for the given per-redemption secret
// at the given time (epoch milliseconds). Deterministic: the same inputs
// always produce the same code.
func (e *Engine) GenerateCode(secret string, timestampMillis int64) string {
	counter := timestampMillis / CodeWindowMillis

	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(secret + "-" + strconv.FormatInt(counter, 10)))
	digest := hex.EncodeToString(mac.Sum(nil))

	// Dynamic truncation: the last hex digit picks where in the digest the
	// 8-char (4-byte) code slice starts.
	offset := hexDigitValue(digest[len(digest)-1])
	slice := digest[offset : offset+8]

	// The slice is guaranteed valid hex, so this cannot fail.
	v, _ := strconv.ParseUint(slice, 16, 64)
	return fmt.Sprintf("%06d", v%1_000_000)
}

// VerifyCode reports whether code matches the expected code for the secret
// within +/- window code periods of the current time, tolerating clock skew
// of up to window*30s in either direction.
func (e *Engine) VerifyCode(code, secret string, window int) bool {
	now := time.Now().UnixMilli()
	for k := -window; k <= window; k++ {
		at := now + int64(k)*CodeWindowMillis
		if hmac.Equal([]byte(e.GenerateCode(secret, at)), []byte(code)) {
			return true
		}
	}
	return false
}

// ─── Redemption tokens ────────────────────────────────────────────────────────

// IssueRedemptionToken packages a redemption proof as an opaque base64
// string suitable for display as a QR payload, along with its expiry
// (epoch milliseconds). The code inside is bound to the redemption by
// deriving its secret from the three identifiers.
func (e *Engine) IssueRedemptionToken(redemptionID, userID, campaignID string) (token string, expiresAt int64) {
	now := time.Now().UnixMilli()
	expiresAt = now + CodeWindowMillis

	payload := domain.RedemptionToken{
		RedemptionID: redemptionID,
		UserID:       userID,
		CampaignID:   campaignID,
		Code:         e.GenerateCode(redemptionSecret(redemptionID, userID, campaignID), now),
		ExpiresAt:    expiresAt,
	}

	// Marshalling a plain struct cannot fail.
	raw, _ := json.Marshal(payload)
	return base64.StdEncoding.EncodeToString(raw), expiresAt
}

// ValidateRedemptionToken decodes and verifies a previously issued token.
// It fails with ErrTokenMalformed on any decode or parse problem,
// ErrTokenExpired when past the embedded expiry, and ErrTokenInvalidCode
// when the code does not verify against the reconstructed secret.
func (e *Engine) ValidateRedemptionToken(encoded string) (*domain.RedemptionToken, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	var payload domain.RedemptionToken
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrTokenMalformed
	}
	if payload.RedemptionID == "" || payload.UserID == "" || payload.CampaignID == "" || payload.Code == "" {
		return nil, ErrTokenMalformed
	}

	if time.Now().UnixMilli() > payload.ExpiresAt {
		return nil, ErrTokenExpired
	}

	secret := redemptionSecret(payload.RedemptionID, payload.UserID, payload.CampaignID)
	if !e.VerifyCode(payload.Code, secret, 1) {
		return nil, ErrTokenInvalidCode
	}

	return &payload, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// redemptionSecret derives the per-redemption code secret by concatenating
// the three identifiers. The same derivation runs at issue and validate
// time, so the token carries no secret material itself.
func redemptionSecret(redemptionID, userID, campaignID string) string {
	return redemptionID + userID + campaignID
}

func hexDigitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	default:
		return int(c-'a') + 10
	}
}
