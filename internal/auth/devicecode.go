package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"merchantbridge/internal/upstream"
)

// User-code authorization statuses reported by the upstream.
const (
	UserCodePending = "AUTHORIZATION_PENDING"
	UserCodeGranted = "AUTHORIZATION_GRANTED"
	UserCodeExpired = "EXPIRED"
	UserCodeDenied  = "DENIED"
)

// minPollInterval floors the status polling cadence regardless of what the
// upstream suggests.
const minPollInterval = 5 * time.Second

// DeviceCodeSession is the state of one user-code authorization attempt. The
// code verifier issued here must be resubmitted unchanged at exchange time.
type DeviceCodeSession struct {
	UserCode                string `json:"user_code"`
	VerificationURL         string `json:"verification_url"`
	VerificationURLComplete string `json:"verification_url_complete"`
	ExpiresIn               int64  `json:"expires_in"` // seconds
	PollInterval            int64  `json:"poll_interval"`
	CodeVerifier            string `json:"code_verifier"`
	CreatedAt               int64  `json:"created_at"` // unix milliseconds
}

// Deadline is the wall-clock moment the user code stops being exchangeable.
func (s DeviceCodeSession) Deadline() time.Time {
	return time.UnixMilli(s.CreatedAt).Add(time.Duration(s.ExpiresIn) * time.Second)
}

// Interval is the polling cadence for this session.
func (s DeviceCodeSession) Interval() time.Duration {
	interval := time.Duration(s.PollInterval) * time.Second
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return interval
}

// UserCodeStatus is one status poll result.
type UserCodeStatus struct {
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorizationCode"`
}

type userCodeResponse struct {
	UserCode                string `json:"userCode"`
	VerificationURL         string `json:"verificationUrl"`
	VerificationURLComplete string `json:"verificationUrlComplete"`
	ExpiresIn               int64  `json:"expiresIn"`
	Interval                int64  `json:"interval"`
	CodeVerifier            string `json:"authorizationCodeVerifier"`
}

// RequestUserCode starts a new user-code session, replacing any previous one.
func (m *Manager) RequestUserCode(ctx context.Context) (DeviceCodeSession, error) {
	creds := m.creds.Load(ctx)
	if creds.ClientID == "" {
		return DeviceCodeSession{}, &GrantError{Grant: grantAuthorizationCode, Reason: "client id not configured"}
	}

	form := url.Values{}
	form.Set("clientId", creds.ClientID)
	form.Set("grantType", grantAuthorizationCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authBase+"/oauth/userCode", strings.NewReader(form.Encode()))
	if err != nil {
		return DeviceCodeSession{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return DeviceCodeSession{}, &upstream.TransportError{Op: "user code request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DeviceCodeSession{}, &upstream.TransportError{Op: "read user code response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DeviceCodeSession{}, &GrantError{Grant: grantAuthorizationCode, Status: resp.StatusCode, Reason: upstream.ErrorMessage(body)}
	}

	var uc userCodeResponse
	if err := json.Unmarshal(body, &uc); err != nil {
		return DeviceCodeSession{}, &upstream.TransportError{Op: "decode user code response", Err: err}
	}

	session := DeviceCodeSession{
		UserCode:                uc.UserCode,
		VerificationURL:         uc.VerificationURL,
		VerificationURLComplete: uc.VerificationURLComplete,
		ExpiresIn:               uc.ExpiresIn,
		PollInterval:            uc.Interval,
		CodeVerifier:            uc.CodeVerifier,
		CreatedAt:               m.now().UnixMilli(),
	}
	m.saveSession(ctx, session)
	return session, nil
}

// ActiveSession returns the current user-code session, if any.
func (m *Manager) ActiveSession(ctx context.Context) (DeviceCodeSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadStateLocked(ctx)
	if m.session == nil {
		return DeviceCodeSession{}, false
	}
	return *m.session, true
}

// CheckUserCode polls the authorization status of the active session.
func (m *Manager) CheckUserCode(ctx context.Context) (UserCodeStatus, error) {
	session, ok := m.ActiveSession(ctx)
	if !ok {
		return UserCodeStatus{}, ErrNoDeviceSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.authBase+"/oauth/userCode/status", nil)
	if err != nil {
		return UserCodeStatus{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("user-code", session.UserCode)

	resp, err := m.http.Do(req)
	if err != nil {
		return UserCodeStatus{}, &upstream.TransportError{Op: "user code status request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UserCodeStatus{}, &upstream.TransportError{Op: "read user code status", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UserCodeStatus{}, &upstream.Error{Status: resp.StatusCode, Message: upstream.ErrorMessage(body)}
	}

	var status UserCodeStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return UserCodeStatus{}, &upstream.TransportError{Op: "decode user code status", Err: err}
	}
	return status, nil
}

// ExchangeAuthorizationCode trades the granted authorization code for a token.
// The verifier must be the exact one issued with the user code; a mismatch
// fails with ErrInvalidVerifier without hitting the network.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (TokenRecord, error) {
	if session, ok := m.ActiveSession(ctx); ok && verifier != session.CodeVerifier {
		return TokenRecord{}, ErrInvalidVerifier
	}

	creds := m.creds.Load(ctx)

	form := url.Values{}
	form.Set("grant_type", grantAuthorizationCode)
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	rec, err := m.requestToken(ctx, grantAuthorizationCode, form)
	if err != nil {
		return TokenRecord{}, err
	}
	m.clearSession(ctx)
	return rec, nil
}

// RunDeviceFlow drives the active user-code session to completion: it polls
// the status at the session's interval, exchanges the code once granted, and
// gives up at the session deadline. Transient poll failures are retried until
// the deadline; terminal statuses stop the loop.
func (m *Manager) RunDeviceFlow(ctx context.Context) error {
	session, ok := m.ActiveSession(ctx)
	if !ok {
		return ErrNoDeviceSession
	}

	deadline := session.Deadline()
	if !m.now().Before(deadline) {
		m.clearSession(ctx)
		return ErrUserCodeExpired
	}

	flowCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(session.Interval())
	defer ticker.Stop()

	for {
		status, err := m.CheckUserCode(flowCtx)
		switch {
		case err != nil:
			var ue *upstream.Error
			if errors.As(err, &ue) && ue.Status == http.StatusNotFound {
				// The upstream forgets expired codes.
				m.clearSession(ctx)
				return ErrUserCodeExpired
			}
			m.log.WarnContext(flowCtx, "user code status check failed", "error", err)
		case status.Status == UserCodeGranted:
			if _, err := m.ExchangeAuthorizationCode(flowCtx, status.AuthorizationCode, session.CodeVerifier); err != nil {
				return err
			}
			m.log.InfoContext(flowCtx, "user code authorization completed")
			return nil
		case status.Status == UserCodeExpired:
			m.clearSession(ctx)
			return ErrUserCodeExpired
		case status.Status == UserCodeDenied:
			m.clearSession(ctx)
			return ErrUserCodeDenied
		default:
			m.log.DebugContext(flowCtx, "user code authorization pending", "user_code", session.UserCode)
		}

		select {
		case <-flowCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.clearSession(ctx)
			return ErrUserCodeExpired
		case <-ticker.C:
		}
	}
}

func (m *Manager) saveSession(ctx context.Context, session DeviceCodeSession) {
	m.mu.Lock()
	m.loadStateLocked(ctx)
	m.session = &session
	m.mu.Unlock()

	raw, err := json.Marshal(session)
	if err != nil {
		m.log.ErrorContext(ctx, "failed to serialize user code session", "error", err)
		return
	}
	if err := m.store.SetState(ctx, stateKeyUserCode, string(raw)); err != nil {
		m.log.ErrorContext(ctx, "failed to persist user code session", "error", err)
	}
}

func (m *Manager) clearSession(ctx context.Context) {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	if err := m.store.DeleteState(ctx, stateKeyUserCode); err != nil {
		m.log.ErrorContext(ctx, "failed to clear user code session", "error", err)
	}
}
