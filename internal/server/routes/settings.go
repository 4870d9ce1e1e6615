package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/auth"
)

// SettingsRoutes exposes credential configuration to the dashboard.
type SettingsRoutes struct {
	creds *auth.CredentialStore
}

// NewSettingsRoutes constructs settings routes.
func NewSettingsRoutes(creds *auth.CredentialStore) *SettingsRoutes {
	return &SettingsRoutes{creds: creds}
}

// RegisterRoutes registers settings endpoints.
func (r *SettingsRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/settings/credentials", r.getCredentials)
	s.PUT("/settings/credentials", r.saveCredentials)
}

type credentialsView struct {
	ClientID     string `json:"clientId"`
	HasSecret    bool   `json:"hasSecret"`
	MerchantID   string `json:"merchantId"`
	MerchantUUID string `json:"merchantUuid"`
}

type credentialsUpdate struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	MerchantID   string `json:"merchantId"`
	MerchantUUID string `json:"merchantUuid"`
}

func (r *SettingsRoutes) getCredentials(c echo.Context) error {
	creds := r.creds.Load(c.Request().Context())
	return c.JSON(http.StatusOK, viewOf(creds))
}

// saveCredentials merges the submitted fields over the saved values. The
// client secret is write-only: it is never echoed back.
func (r *SettingsRoutes) saveCredentials(c echo.Context) error {
	var update credentialsUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid payload"))
	}

	merged, err := r.creds.Save(c.Request().Context(), auth.Credentials{
		ClientID:     update.ClientID,
		ClientSecret: update.ClientSecret,
		MerchantID:   update.MerchantID,
		MerchantUUID: update.MerchantUUID,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody("failed to save credentials"))
	}
	return c.JSON(http.StatusOK, viewOf(merged))
}

func viewOf(creds auth.Credentials) credentialsView {
	return credentialsView{
		ClientID:     creds.ClientID,
		HasSecret:    creds.ClientSecret != "",
		MerchantID:   creds.MerchantID,
		MerchantUUID: creds.MerchantUUID,
	}
}
