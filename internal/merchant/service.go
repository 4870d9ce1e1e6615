// Package merchant wraps the merchant-facing upstream endpoints the dashboard
// consumes: availability status, opening hours, interruptions and reviews.
// Payload schemas are upstream-defined and passed through untouched.
package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"merchantbridge/internal/auth"
	"merchantbridge/internal/upstream"
)

// ErrMerchantNotConfigured means no merchant identifier is saved yet.
var ErrMerchantNotConfigured = errors.New("merchant id not configured")

// Client issues authenticated upstream calls.
type Client interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// CredentialSource resolves the saved merchant identifiers.
type CredentialSource interface {
	Load(ctx context.Context) auth.Credentials
}

// Service proxies merchant endpoints through the authenticated client.
type Service struct {
	client Client
	creds  CredentialSource
}

// NewService builds a merchant service.
func NewService(client Client, creds CredentialSource) *Service {
	return &Service{client: client, creds: creds}
}

// Status fetches the merchant availability state.
func (s *Service) Status(ctx context.Context) (json.RawMessage, error) {
	id, err := s.merchantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, fmt.Sprintf("/merchant/v1.0/merchants/%s/status", id))
}

// OpeningHours fetches the configured opening hours.
func (s *Service) OpeningHours(ctx context.Context) (json.RawMessage, error) {
	id, err := s.merchantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, fmt.Sprintf("/merchant/v1.0/merchants/%s/opening-hours", id))
}

// SetOpeningHours replaces the opening hours with the given upstream-shaped
// payload.
func (s *Service) SetOpeningHours(ctx context.Context, payload json.RawMessage) error {
	id, err := s.merchantID(ctx)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, http.MethodPut, fmt.Sprintf("/merchant/v1.0/merchants/%s/opening-hours", id), payload)
	return err
}

// CreateInterruption opens an availability interruption.
func (s *Service) CreateInterruption(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	id, err := s.merchantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, http.MethodPost, fmt.Sprintf("/merchant/v1.0/merchants/%s/interruptions", id), payload)
}

// DeleteInterruption removes an availability interruption.
func (s *Service) DeleteInterruption(ctx context.Context, interruptionID string) error {
	id, err := s.merchantID(ctx)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, http.MethodDelete, fmt.Sprintf("/merchant/v1.0/merchants/%s/interruptions/%s", id, interruptionID), nil)
	return err
}

// Reviews lists customer reviews. Reviews are keyed by the merchant UUID.
func (s *Service) Reviews(ctx context.Context) (json.RawMessage, error) {
	id, err := s.reviewMerchantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, fmt.Sprintf("/review/v1.0/merchants/%s/reviews", id))
}

// Review fetches one review.
func (s *Service) Review(ctx context.Context, reviewID string) (json.RawMessage, error) {
	id, err := s.reviewMerchantID(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, fmt.Sprintf("/review/v1.0/merchants/%s/reviews/%s", id, reviewID))
}

// AnswerReview posts a reply to a review.
func (s *Service) AnswerReview(ctx context.Context, reviewID, text string) error {
	id, err := s.reviewMerchantID(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	_, err = s.send(ctx, http.MethodPost, fmt.Sprintf("/review/v1.0/merchants/%s/reviews/%s/answers", id, reviewID), payload)
	return err
}

func (s *Service) merchantID(ctx context.Context) (string, error) {
	creds := s.creds.Load(ctx)
	if creds.MerchantID == "" {
		return "", ErrMerchantNotConfigured
	}
	return creds.MerchantID, nil
}

// reviewMerchantID prefers the merchant UUID, which the review API keys on.
func (s *Service) reviewMerchantID(ctx context.Context) (string, error) {
	creds := s.creds.Load(ctx)
	if creds.MerchantUUID != "" {
		return creds.MerchantUUID, nil
	}
	if creds.MerchantID != "" {
		return creds.MerchantID, nil
	}
	return "", ErrMerchantNotConfigured
}

func (s *Service) get(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := s.client.Do(ctx, upstream.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	return rawBody(resp), nil
}

func (s *Service) send(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	header := http.Header{}
	if len(payload) > 0 {
		header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(ctx, upstream.Request{Method: method, Path: path, Header: header, Body: payload})
	if err != nil {
		return nil, err
	}
	return rawBody(resp), nil
}

func rawBody(resp *upstream.Response) json.RawMessage {
	if len(resp.Body) == 0 {
		return nil
	}
	if resp.JSON {
		return json.RawMessage(resp.Body)
	}
	raw, err := json.Marshal(resp.Text())
	if err != nil {
		return nil
	}
	return raw
}
