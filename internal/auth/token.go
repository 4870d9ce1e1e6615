package auth

import (
	"strconv"
	"time"
)

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = 3 * time.Hour

// TokenRecord is the persisted token state. A record with an empty access
// token or a zero expiry is absent, never valid.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix milliseconds
	TokenType    string `json:"token_type"`
}

// Present reports whether the record holds a usable token at all.
func (t TokenRecord) Present() bool {
	return t.AccessToken != "" && t.ExpiresAt != 0
}

// Expired reports whether the token must be renewed before use. The buffer
// keeps a safety margin so a token never expires mid-request.
func (t TokenRecord) Expired(now time.Time, buffer time.Duration) bool {
	if !t.Present() {
		return true
	}
	return now.UnixMilli() >= t.ExpiresAt-buffer.Milliseconds()
}

// tokenResponse is the wire shape of every token-endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    any    `json:"expires_in"` // the API returns both numbers and numeric strings
	TokenType    string `json:"token_type"`
}

// newTokenRecord builds a record from a token response. The previous record's
// refresh token is carried forward when the response omits one.
func newTokenRecord(resp tokenResponse, now time.Time, prev TokenRecord) TokenRecord {
	lifetime := defaultTokenLifetime
	if secs := expiresInSeconds(resp.ExpiresIn); secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}

	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = prev.RefreshToken
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    now.UnixMilli() + lifetime.Milliseconds(),
		TokenType:    tokenType,
	}
}

func expiresInSeconds(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		secs, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return secs
	default:
		return 0
	}
}
