package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/auth"
	"merchantbridge/internal/merchant"
	"merchantbridge/internal/upstream"
)

// writeError maps domain errors onto HTTP replies with a short message; the
// detail stays in the logs only.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrReauthenticationRequired):
		return c.JSON(http.StatusUnauthorized, errBody("authentication required"))
	case errors.Is(err, upstream.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errBody("upstream rejected credentials"))
	case errors.Is(err, auth.ErrInvalidVerifier):
		return c.JSON(http.StatusBadRequest, errBody("code verifier mismatch"))
	case errors.Is(err, auth.ErrNoDeviceSession):
		return c.JSON(http.StatusConflict, errBody("no active user code"))
	case errors.Is(err, merchant.ErrMerchantNotConfigured):
		return c.JSON(http.StatusBadRequest, errBody("merchant id not configured"))
	}

	var grantErr *auth.GrantError
	if errors.As(err, &grantErr) {
		return c.JSON(http.StatusBadGateway, errBody("authentication with upstream failed"))
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		return c.JSON(upErr.Status, errBody(upErr.Message))
	}

	return c.JSON(http.StatusBadGateway, errBody("upstream request failed"))
}

func errBody(message string) map[string]string {
	return map[string]string{"error": message}
}
