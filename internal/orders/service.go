// Package orders tracks order state driven by the upstream event feed and
// exposes the order actions the dashboard triggers.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"merchantbridge/internal/db"
	"merchantbridge/internal/events"
	"merchantbridge/internal/upstream"
)

// Client issues authenticated upstream calls.
type Client interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Service fetches order details, performs status actions and keeps a local
// cache the dashboard reads.
type Service struct {
	client Client
	db     *db.Database
	log    *slog.Logger
}

// NewService builds an order service.
func NewService(client Client, database *db.Database, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, db: database, log: log}
}

// Details fetches an order from upstream and refreshes the local cache.
func (s *Service) Details(ctx context.Context, orderID string) (json.RawMessage, error) {
	resp, err := s.client.Do(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/order/v1.0/orders/%s", orderID),
	})
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(resp.Body)
	if err := s.db.UpsertOrder(ctx, orderID, "", string(resp.Body)); err != nil {
		s.log.WarnContext(ctx, "failed to cache order details", "order_id", orderID, "error", err)
	}
	return raw, nil
}

// List returns locally cached orders, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]db.OrderRow, error) {
	return s.db.ListOrders(ctx, limit)
}

// Order action endpoints, POSTed with no body.
const (
	actionConfirm             = "confirm"
	actionStartPreparation    = "startPreparation"
	actionReadyToPickup       = "readyToPickup"
	actionDispatch            = "dispatch"
	actionRequestCancellation = "requestCancellation"
)

// Confirm accepts a placed order.
func (s *Service) Confirm(ctx context.Context, orderID string) error {
	return s.action(ctx, orderID, actionConfirm, "CONFIRMED", nil)
}

// StartPreparation marks the order as being prepared.
func (s *Service) StartPreparation(ctx context.Context, orderID string) error {
	return s.action(ctx, orderID, actionStartPreparation, "PREPARATION_STARTED", nil)
}

// ReadyToPickup marks the order ready for pickup.
func (s *Service) ReadyToPickup(ctx context.Context, orderID string) error {
	return s.action(ctx, orderID, actionReadyToPickup, "READY_TO_PICKUP", nil)
}

// Dispatch marks the order as out for delivery.
func (s *Service) Dispatch(ctx context.Context, orderID string) error {
	return s.action(ctx, orderID, actionDispatch, "DISPATCHED", nil)
}

// RequestCancellation asks upstream to cancel the order.
func (s *Service) RequestCancellation(ctx context.Context, orderID, reason, code string) error {
	payload, err := json.Marshal(map[string]string{"reason": reason, "cancellationCode": code})
	if err != nil {
		return err
	}
	return s.action(ctx, orderID, actionRequestCancellation, "CANCELLATION_REQUESTED", payload)
}

func (s *Service) action(ctx context.Context, orderID, action, localStatus string, payload []byte) error {
	header := http.Header{}
	if len(payload) > 0 {
		header.Set("Content-Type", "application/json")
	}
	_, err := s.client.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/order/v1.0/orders/%s/%s", orderID, action),
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return err
	}
	if err := s.db.UpdateOrderStatus(ctx, orderID, localStatus); err != nil {
		s.log.WarnContext(ctx, "failed to update local order status", "order_id", orderID, "error", err)
	}
	return nil
}

// eventStatus maps feed event codes to the local order status they imply.
var eventStatus = map[string]string{
	"PLACED":                 "PLACED",
	"ORDER_PLACED":           "PLACED",
	"CONFIRMED":              "CONFIRMED",
	"ORDER_CONFIRMED":        "CONFIRMED",
	"PREPARATION_STARTED":    "PREPARATION_STARTED",
	"READY_TO_PICKUP":        "READY_TO_PICKUP",
	"ORDER_READY_FOR_PICKUP": "READY_TO_PICKUP",
	"DISPATCHED":             "DISPATCHED",
	"ORDER_DISPATCHED":       "DISPATCHED",
	"CONCLUDED":              "CONCLUDED",
	"ORDER_CONCLUDED":        "CONCLUDED",
	"CANCELLED":              "CANCELLED",
	"ORDER_CANCELLED":        "CANCELLED",
	"CANCELLED_BY_CUSTOMER":  "CANCELLED",
}

// HandleEvent is the poller handler: it reflects lifecycle events into the
// local order cache and pulls details for newly placed orders.
func (s *Service) HandleEvent(ctx context.Context, ev events.Event) error {
	orderID := ev.ReferenceID()
	if orderID == "" {
		s.log.DebugContext(ctx, "event without order reference", "event_id", ev.ID, "code", ev.Code)
		return nil
	}

	if status, ok := eventStatus[ev.Code]; ok {
		if err := s.db.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
	}

	if isOrderEvent(ev.Code) {
		if _, err := s.Details(ctx, orderID); err != nil {
			// Detail fetch failures are not fatal: the status is already
			// recorded and the next event retries the fetch.
			s.log.WarnContext(ctx, "failed to fetch order details for event", "order_id", orderID, "error", err)
		}
	}
	return nil
}

func isOrderEvent(code string) bool {
	return strings.HasPrefix(code, "ORDER") || strings.HasPrefix(code, "PLACED") || strings.HasPrefix(code, "CANCELLED")
}
