package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"merchantbridge/internal/upstream"
)

// Grant names accepted as the deployment default.
const (
	GrantClientCredentials = "client_credentials"
	GrantUserCode          = "user_code"
)

const (
	grantRefreshToken      = "refresh_token"
	grantAuthorizationCode = "authorization_code"
)

// ManagerOptions configure a token Manager.
type ManagerOptions struct {
	Store       StateStore
	Credentials *CredentialStore
	// AuthBaseURL is the authentication base, e.g.
	// https://merchant-api.ifood.com.br/authentication/v1.0.
	AuthBaseURL string
	// Grant selects the fallback when no refresh is possible:
	// client_credentials re-authenticates headlessly, user_code fails with
	// ErrReauthenticationRequired until an operator completes the flow.
	Grant        string
	ExpiryBuffer time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Manager owns the OAuth token state machine. All consumers obtain bearer
// tokens through AccessToken; concurrent renewals are coalesced into a single
// token-endpoint call.
type Manager struct {
	store    StateStore
	creds    *CredentialStore
	authBase string
	grant    string
	buffer   time.Duration
	http     *http.Client
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	loaded  bool
	token   TokenRecord
	session *DeviceCodeSession

	renew singleflight.Group
}

// NewManager builds a Manager. Persisted token and session state is loaded
// lazily on first use.
func NewManager(opts ManagerOptions) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	grant := opts.Grant
	if grant == "" {
		grant = GrantClientCredentials
	}
	buffer := opts.ExpiryBuffer
	if buffer <= 0 {
		buffer = 5 * time.Minute
	}
	return &Manager{
		store:    opts.Store,
		creds:    opts.Credentials,
		authBase: strings.TrimRight(opts.AuthBaseURL, "/"),
		grant:    grant,
		buffer:   buffer,
		http:     httpClient,
		log:      log,
		now:      now,
	}
}

// AccessToken returns a valid bearer token, renewing it first when the cached
// one is expired or inside the expiry buffer. A cache hit makes no network
// call.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if tok := m.current(ctx); !tok.Expired(m.now(), m.buffer) {
		return tok.AccessToken, nil
	}
	return m.renewToken(ctx, false)
}

// ForceReauthenticate renews the token regardless of the cached record. Used
// by the request wrapper after the upstream rejected a token that looked
// valid locally.
func (m *Manager) ForceReauthenticate(ctx context.Context) (string, error) {
	return m.renewToken(ctx, true)
}

// Token returns the current token record for inspection.
func (m *Manager) Token(ctx context.Context) TokenRecord {
	return m.current(ctx)
}

// Expired reports whether the given record needs renewal at now, honoring the
// configured expiry buffer.
func (m *Manager) Expired(rec TokenRecord, now time.Time) bool {
	return rec.Expired(now, m.buffer)
}

func (m *Manager) renewToken(ctx context.Context, force bool) (string, error) {
	token, err, _ := m.renew.Do("renew", func() (any, error) {
		cur := m.current(ctx)
		// Another coalesced caller may have renewed already.
		if !force && !cur.Expired(m.now(), m.buffer) {
			return cur.AccessToken, nil
		}

		if cur.RefreshToken != "" {
			rec, err := m.refreshGrant(ctx, cur)
			if err == nil {
				return rec.AccessToken, nil
			}
			m.log.WarnContext(ctx, "refresh grant failed, falling back to re-authentication", "error", err)
		}

		if m.grant == GrantClientCredentials {
			rec, err := m.AuthenticateClientCredentials(ctx)
			if err != nil {
				return "", err
			}
			return rec.AccessToken, nil
		}
		return "", ErrReauthenticationRequired
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// AuthenticateClientCredentials performs the client_credentials grant and
// persists the resulting record.
func (m *Manager) AuthenticateClientCredentials(ctx context.Context) (TokenRecord, error) {
	creds := m.creds.Load(ctx)
	if creds.ClientID == "" {
		return TokenRecord{}, &GrantError{Grant: GrantClientCredentials, Reason: "client id not configured"}
	}

	form := url.Values{}
	form.Set("grant_type", GrantClientCredentials)
	form.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}
	return m.requestToken(ctx, GrantClientCredentials, form)
}

func (m *Manager) refreshGrant(ctx context.Context, cur TokenRecord) (TokenRecord, error) {
	creds := m.creds.Load(ctx)

	form := url.Values{}
	form.Set("grant_type", grantRefreshToken)
	form.Set("refresh_token", cur.RefreshToken)
	form.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}
	return m.requestToken(ctx, grantRefreshToken, form)
}

// requestToken posts a form-encoded grant to the token endpoint and persists
// the resulting record.
func (m *Manager) requestToken(ctx context.Context, grant string, form url.Values) (TokenRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authBase+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenRecord{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return TokenRecord{}, &upstream.TransportError{Op: "token request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenRecord{}, &upstream.TransportError{Op: "read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenRecord{}, &GrantError{Grant: grant, Status: resp.StatusCode, Reason: upstream.ErrorMessage(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenRecord{}, &upstream.TransportError{Op: "decode token response", Err: err}
	}
	if tr.AccessToken == "" {
		return TokenRecord{}, &GrantError{Grant: grant, Status: resp.StatusCode, Reason: "response missing access_token"}
	}

	rec := newTokenRecord(tr, m.now(), m.current(ctx))
	m.saveToken(ctx, rec)
	return rec, nil
}

func (m *Manager) current(ctx context.Context) TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStateLocked(ctx)
	return m.token
}

func (m *Manager) saveToken(ctx context.Context, rec TokenRecord) {
	m.mu.Lock()
	m.token = rec
	m.loaded = true
	m.mu.Unlock()

	raw, err := json.Marshal(rec)
	if err != nil {
		m.log.ErrorContext(ctx, "failed to serialize token record", "error", err)
		return
	}
	if err := m.store.SetState(ctx, stateKeyToken, string(raw)); err != nil {
		m.log.ErrorContext(ctx, "failed to persist token record", "error", err)
	}
}

// loadStateLocked restores the persisted token and user-code session once.
// Corrupt entries are treated as absent.
func (m *Manager) loadStateLocked(ctx context.Context) {
	if m.loaded {
		return
	}
	m.loaded = true

	if raw, ok, err := m.store.GetState(ctx, stateKeyToken); err == nil && ok {
		var rec TokenRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			m.token = rec
		} else {
			m.log.WarnContext(ctx, "discarding corrupt persisted token", "error", err)
		}
	}

	if raw, ok, err := m.store.GetState(ctx, stateKeyUserCode); err == nil && ok {
		var session DeviceCodeSession
		if err := json.Unmarshal([]byte(raw), &session); err == nil && session.UserCode != "" {
			m.session = &session
		}
	}
}
