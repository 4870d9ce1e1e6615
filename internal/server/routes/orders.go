package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"merchantbridge/internal/orders"
)

// OrderRoutes exposes the local order cache and the order status actions.
type OrderRoutes struct {
	svc *orders.Service
}

// NewOrderRoutes constructs order routes.
func NewOrderRoutes(svc *orders.Service) *OrderRoutes {
	return &OrderRoutes{svc: svc}
}

// RegisterRoutes registers order endpoints.
func (r *OrderRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/orders", r.list)
	s.GET("/orders/:id", r.details)
	s.POST("/orders/:id/confirm", r.confirm)
	s.POST("/orders/:id/start-preparation", r.startPreparation)
	s.POST("/orders/:id/ready-to-pickup", r.readyToPickup)
	s.POST("/orders/:id/dispatch", r.dispatch)
	s.POST("/orders/:id/request-cancellation", r.requestCancellation)
}

type orderView struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Order     json.RawMessage `json:"order,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (r *OrderRoutes) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := r.svc.List(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody("failed to list orders"))
	}

	views := make([]orderView, 0, len(rows))
	for _, row := range rows {
		view := orderView{ID: row.ID, Status: row.Status, UpdatedAt: row.UpdatedAt}
		if row.RawJSON != "{}" {
			view.Order = json.RawMessage(row.RawJSON)
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

func (r *OrderRoutes) details(c echo.Context) error {
	raw, err := r.svc.Details(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return writeRaw(c, raw)
}

func (r *OrderRoutes) confirm(c echo.Context) error {
	return r.action(c, r.svc.Confirm)
}

func (r *OrderRoutes) startPreparation(c echo.Context) error {
	return r.action(c, r.svc.StartPreparation)
}

func (r *OrderRoutes) readyToPickup(c echo.Context) error {
	return r.action(c, r.svc.ReadyToPickup)
}

func (r *OrderRoutes) dispatch(c echo.Context) error {
	return r.action(c, r.svc.Dispatch)
}

func (r *OrderRoutes) requestCancellation(c echo.Context) error {
	var payload struct {
		Reason string `json:"reason"`
		Code   string `json:"cancellationCode"`
	}
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid payload"))
	}
	if err := r.svc.RequestCancellation(c.Request().Context(), c.Param("id"), payload.Reason, payload.Code); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (r *OrderRoutes) action(c echo.Context, fn func(ctx context.Context, orderID string) error) error {
	if err := fn(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
