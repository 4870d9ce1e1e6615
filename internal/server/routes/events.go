package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/events"
)

// EventRoutes controls the event poller from the dashboard.
type EventRoutes struct {
	poller   *events.Poller
	interval time.Duration
}

// NewEventRoutes constructs event routes.
func NewEventRoutes(poller *events.Poller, interval time.Duration) *EventRoutes {
	return &EventRoutes{poller: poller, interval: interval}
}

// RegisterRoutes registers event poller endpoints.
func (r *EventRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/events/status", r.status)
	s.POST("/events/start", r.start)
	s.POST("/events/stop", r.stop)
	s.POST("/events/poll", r.pollNow)
}

func (r *EventRoutes) status(c echo.Context) error {
	return c.JSON(http.StatusOK, r.poller.Status())
}

func (r *EventRoutes) start(c echo.Context) error {
	r.poller.Start(r.interval)
	return c.JSON(http.StatusOK, r.poller.Status())
}

func (r *EventRoutes) stop(c echo.Context) error {
	r.poller.Stop()
	return c.JSON(http.StatusOK, r.poller.Status())
}

// pollNow runs one cycle synchronously, for the dashboard's refresh button.
func (r *EventRoutes) pollNow(c echo.Context) error {
	r.poller.Tick(c.Request().Context())
	return c.JSON(http.StatusOK, r.poller.Status())
}
