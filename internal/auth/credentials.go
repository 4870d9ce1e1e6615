package auth

import (
	"context"
	"encoding/json"
)

// State keys in the durable key-value store.
const (
	stateKeyCredentials = "credentials"
	stateKeyToken       = "token"
	stateKeyUserCode    = "user_code"
)

// StateStore is the durable key-value store state is persisted to. Absent or
// malformed entries are treated as not present, never as fatal.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// Credentials identify the integration against the merchant API. ClientSecret
// stays empty for public-client user-code deployments.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	MerchantID   string `json:"merchant_id"`
	MerchantUUID string `json:"merchant_uuid"`
}

// merge overlays non-empty fields of partial over c.
func (c Credentials) merge(partial Credentials) Credentials {
	if partial.ClientID != "" {
		c.ClientID = partial.ClientID
	}
	if partial.ClientSecret != "" {
		c.ClientSecret = partial.ClientSecret
	}
	if partial.MerchantID != "" {
		c.MerchantID = partial.MerchantID
	}
	if partial.MerchantUUID != "" {
		c.MerchantUUID = partial.MerchantUUID
	}
	return c
}

// CredentialStore persists credentials merged over built-in defaults.
type CredentialStore struct {
	store    StateStore
	defaults Credentials
}

// NewCredentialStore wraps the key-value store with default credentials taken
// from configuration.
func NewCredentialStore(store StateStore, defaults Credentials) *CredentialStore {
	return &CredentialStore{store: store, defaults: defaults}
}

// Load returns the last-saved credentials merged over the defaults. Corrupt
// or missing stored data yields the defaults; Load never fails.
func (s *CredentialStore) Load(ctx context.Context) Credentials {
	creds := s.defaults
	raw, ok, err := s.store.GetState(ctx, stateKeyCredentials)
	if err != nil || !ok {
		return creds
	}
	var saved Credentials
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return creds
	}
	return creds.merge(saved)
}

// Save merges the partial update over the current credentials, persists the
// whole object and returns the merged result.
func (s *CredentialStore) Save(ctx context.Context, partial Credentials) (Credentials, error) {
	merged := s.Load(ctx).merge(partial)
	raw, err := json.Marshal(merged)
	if err != nil {
		return Credentials{}, err
	}
	if err := s.store.SetState(ctx, stateKeyCredentials, string(raw)); err != nil {
		return Credentials{}, err
	}
	return merged, nil
}
