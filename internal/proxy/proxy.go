// Package proxy implements the same-origin relay the browser dashboard uses
// to reach the merchant API without tripping cross-origin restrictions. It
// rewrites the inbound path onto the upstream base, copies a fixed allow-list
// of headers and passes method, body and status through unchanged.
package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RoutePrefix is the same-origin mount point the dashboard calls.
const RoutePrefix = "/api"

// allowedHeaders is the only request metadata forwarded upstream.
var allowedHeaders = []string{"Authorization", "Content-Type", "X-Polling-Merchants", "user-code"}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Polling-Merchants, user-code",
	"Access-Control-Max-Age":       "86400",
}

// Handler relays dashboard requests to the upstream merchant API.
type Handler struct {
	apiBase    string
	authPrefix string
	http       *http.Client
	log        *slog.Logger
}

// NewHandler builds a relay for the given upstream base. authPrefix is
// inserted before /oauth/* paths, which live under the authentication API.
func NewHandler(apiBase, authPrefix string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		apiBase:    strings.TrimRight(apiBase, "/"),
		authPrefix: strings.TrimRight(authPrefix, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// RegisterRoutes mounts the relay under RoutePrefix.
func (h *Handler) RegisterRoutes(s *echo.Echo) {
	s.Any(RoutePrefix+"/*", h.handle)
}

func (h *Handler) handle(c echo.Context) error {
	if c.Request().Method == http.MethodOptions {
		writeCORS(c.Response().Header())
		return c.NoContent(http.StatusNoContent)
	}

	req := c.Request()
	target := h.upstreamURL(req.URL.Path)
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	var body io.Reader
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = req.Body
	}

	upReq, err := http.NewRequestWithContext(req.Context(), req.Method, target, body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to build upstream request")
	}

	for _, name := range allowedHeaders {
		if value := req.Header.Get(name); value != "" {
			upReq.Header.Set(name, value)
		}
	}
	// The token endpoints expect form encoding unless told otherwise.
	if upReq.Header.Get("Content-Type") == "" && body != nil {
		upReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	upResp, err := h.http.Do(upReq)
	if err != nil {
		h.log.ErrorContext(req.Context(), "proxy relay failed", "target", target, "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream unreachable"})
	}
	defer upResp.Body.Close()

	respBody, err := io.ReadAll(upResp.Body)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to read upstream response"})
	}

	writeCORS(c.Response().Header())
	contentType := upResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(upResp.StatusCode, contentType, respBody)
}

// upstreamURL strips the relay prefix and maps /oauth/* onto the
// authentication API.
func (h *Handler) upstreamURL(path string) string {
	apiPath := strings.TrimPrefix(path, RoutePrefix)
	if apiPath == "" {
		apiPath = "/"
	}
	if strings.HasPrefix(apiPath, "/oauth/") {
		return h.apiBase + h.authPrefix + apiPath
	}
	return h.apiBase + apiPath
}

func writeCORS(header http.Header) {
	for name, value := range corsHeaders {
		header.Set(name, value)
	}
}
