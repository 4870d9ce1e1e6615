package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource produces bearer tokens for outgoing calls. ForceReauthenticate
// bypasses any cached token after the upstream rejected one.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceReauthenticate(ctx context.Context) (string, error)
}

// Request describes one upstream call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response carries the upstream reply. JSON is true when the content type
// indicated a JSON body; Decode is only meaningful in that case.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	JSON   bool
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return decodeJSON(r.Body, v)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Client issues authenticated calls against the merchant API. Every call
// carries a bearer token from the TokenSource; a 401 triggers exactly one
// forced re-authentication and retry.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	log    *slog.Logger
}

// NewClient builds an authenticated client for the given API base URL.
func NewClient(base string, tokens TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		log:    log,
	}
}

// Do performs the request. Non-2xx statuses other than 401 surface as *Error;
// a second 401 after the retry surfaces as ErrUnauthorized.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, token, req)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		c.log.WarnContext(ctx, "upstream returned 401, re-authenticating", "path", req.Path)
		token, err = c.tokens.ForceReauthenticate(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, token, req)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
	}

	if resp.Status < 200 || resp.Status > 299 {
		return nil, &Error{Status: resp.Status, Message: ErrorMessage(resp.Body)}
	}
	return resp, nil
}

// Get issues a GET and decodes the JSON reply into v when v is non-nil.
func (c *Client) Get(ctx context.Context, path string, header http.Header, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Header: header})
	if err != nil {
		return err
	}
	if v == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(v)
}

func (c *Client) send(ctx context.Context, token string, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.base+req.Path, body)
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}

	// Caller headers first; Authorization is always ours.
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "upstream request", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read upstream response", Err: err}
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
		JSON:   strings.Contains(httpResp.Header.Get("Content-Type"), "application/json"),
	}, nil
}
