package auth

import (
	"testing"
	"time"
)

func TestTokenRecordExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	buffer := 5 * time.Minute

	tests := []struct {
		name    string
		record  TokenRecord
		expired bool
	}{
		{"empty record", TokenRecord{}, true},
		{"missing access token", TokenRecord{ExpiresAt: now.Add(time.Hour).UnixMilli()}, true},
		{"zero expiry", TokenRecord{AccessToken: "abc"}, true},
		{"fresh token", TokenRecord{AccessToken: "abc", ExpiresAt: now.Add(time.Hour).UnixMilli()}, false},
		{"inside buffer", TokenRecord{AccessToken: "abc", ExpiresAt: now.Add(4 * time.Minute).UnixMilli()}, true},
		{"exactly at buffer edge", TokenRecord{AccessToken: "abc", ExpiresAt: now.Add(buffer).UnixMilli()}, true},
		{"just outside buffer", TokenRecord{AccessToken: "abc", ExpiresAt: now.Add(buffer + time.Second).UnixMilli()}, false},
		{"already expired", TokenRecord{AccessToken: "abc", ExpiresAt: now.Add(-time.Minute).UnixMilli()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Expired(now, buffer); got != tt.expired {
				t.Fatalf("Expired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestNewTokenRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("numeric expires_in", func(t *testing.T) {
		rec := newTokenRecord(tokenResponse{AccessToken: "abc", ExpiresIn: float64(3600)}, now, TokenRecord{})
		want := now.UnixMilli() + 3600*1000
		if rec.ExpiresAt != want {
			t.Fatalf("ExpiresAt = %d, want %d", rec.ExpiresAt, want)
		}
		if rec.TokenType != "bearer" {
			t.Fatalf("TokenType = %q, want bearer", rec.TokenType)
		}
	})

	t.Run("string expires_in", func(t *testing.T) {
		rec := newTokenRecord(tokenResponse{AccessToken: "abc", ExpiresIn: "10800"}, now, TokenRecord{})
		want := now.UnixMilli() + 10800*1000
		if rec.ExpiresAt != want {
			t.Fatalf("ExpiresAt = %d, want %d", rec.ExpiresAt, want)
		}
	})

	t.Run("missing expires_in uses default lifetime", func(t *testing.T) {
		rec := newTokenRecord(tokenResponse{AccessToken: "abc"}, now, TokenRecord{})
		want := now.UnixMilli() + defaultTokenLifetime.Milliseconds()
		if rec.ExpiresAt != want {
			t.Fatalf("ExpiresAt = %d, want %d", rec.ExpiresAt, want)
		}
	})

	t.Run("garbage string expires_in uses default lifetime", func(t *testing.T) {
		rec := newTokenRecord(tokenResponse{AccessToken: "abc", ExpiresIn: "soon"}, now, TokenRecord{})
		want := now.UnixMilli() + defaultTokenLifetime.Milliseconds()
		if rec.ExpiresAt != want {
			t.Fatalf("ExpiresAt = %d, want %d", rec.ExpiresAt, want)
		}
	})

	t.Run("refresh token carried forward", func(t *testing.T) {
		prev := TokenRecord{RefreshToken: "old-refresh"}
		rec := newTokenRecord(tokenResponse{AccessToken: "abc", ExpiresIn: float64(60)}, now, prev)
		if rec.RefreshToken != "old-refresh" {
			t.Fatalf("RefreshToken = %q, want carried-forward old-refresh", rec.RefreshToken)
		}
	})

	t.Run("new refresh token replaces previous", func(t *testing.T) {
		prev := TokenRecord{RefreshToken: "old-refresh"}
		rec := newTokenRecord(tokenResponse{AccessToken: "abc", RefreshToken: "new-refresh"}, now, prev)
		if rec.RefreshToken != "new-refresh" {
			t.Fatalf("RefreshToken = %q, want new-refresh", rec.RefreshToken)
		}
	})
}
