package routes

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/merchant"
)

// maxPayloadBytes caps pass-through payload sizes.
const maxPayloadBytes = 1 << 20

// MerchantRoutes exposes merchant status, opening hours, interruptions and
// reviews to the dashboard.
type MerchantRoutes struct {
	svc *merchant.Service
}

// NewMerchantRoutes constructs merchant routes.
func NewMerchantRoutes(svc *merchant.Service) *MerchantRoutes {
	return &MerchantRoutes{svc: svc}
}

// RegisterRoutes registers merchant endpoints.
func (r *MerchantRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/merchant/status", r.status)
	s.GET("/merchant/opening-hours", r.openingHours)
	s.PUT("/merchant/opening-hours", r.setOpeningHours)
	s.POST("/merchant/interruptions", r.createInterruption)
	s.DELETE("/merchant/interruptions/:id", r.deleteInterruption)
	s.GET("/merchant/reviews", r.reviews)
	s.GET("/merchant/reviews/:id", r.review)
	s.POST("/merchant/reviews/:id/answers", r.answerReview)
}

func (r *MerchantRoutes) status(c echo.Context) error {
	raw, err := r.svc.Status(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *MerchantRoutes) openingHours(c echo.Context) error {
	raw, err := r.svc.OpeningHours(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *MerchantRoutes) setOpeningHours(c echo.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid payload"))
	}
	if err := r.svc.SetOpeningHours(c.Request().Context(), payload); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *MerchantRoutes) createInterruption(c echo.Context) error {
	payload, err := readPayload(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid payload"))
	}
	raw, err := r.svc.CreateInterruption(c.Request().Context(), payload)
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *MerchantRoutes) deleteInterruption(c echo.Context) error {
	if err := r.svc.DeleteInterruption(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *MerchantRoutes) reviews(c echo.Context) error {
	raw, err := r.svc.Reviews(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *MerchantRoutes) review(c echo.Context) error {
	raw, err := r.svc.Review(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *MerchantRoutes) answerReview(c echo.Context) error {
	var payload struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&payload); err != nil || payload.Text == "" {
		return c.JSON(http.StatusBadRequest, errBody("answer text is required"))
	}
	if err := r.svc.AnswerReview(c.Request().Context(), c.Param("id"), payload.Text); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func readPayload(c echo.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if !json.Valid(body) {
		return nil, io.ErrUnexpectedEOF
	}
	return body, nil
}

func writeRaw(c echo.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(http.StatusOK, raw)
}
