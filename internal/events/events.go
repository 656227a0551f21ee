// Package events binds exchange routing keys to the handlers that turn
// platform events into client notifications. Each handler is a small
// typed unit; the table built here is what the broker client dispatches
// against.
package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aabine/flow-realtime/internal/broker"
	"github.com/aabine/flow-realtime/internal/dispatch"
	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/zones"
	"github.com/aabine/flow-realtime/pkg/log"
)

// Routing keys consumed from the exchange.
const (
	KeyOrderCreated       = "order.created"
	KeyOrderStatusChanged = "order.status_changed"
	KeyOrderCancelled     = "order.cancelled"
	KeyPaymentCompleted   = "payment.completed"
	KeyPaymentFailed      = "payment.failed"
	KeyInventoryLowStock  = "inventory.low_stock"
	KeyDeliveryAssigned   = "delivery.assigned"
	KeyDeliveryStatus     = "delivery.status_changed"
	KeyUserRegistered     = "user.registered"
	KeySystemAlert        = "system.alert"
)

// Patterns returns the exchange subscription globs covering every
// registered routing key.
func Patterns() []string {
	return []string{"order.*", "payment.*", "inventory.*", "delivery.*", "user.*", "system.*"}
}

// NewHandlerTable wires every routing key to its handler.
func NewHandlerTable(h *hub.Hub, d *dispatch.Dispatcher, logger zerolog.Logger) *broker.HandlerTable {
	e := &eventHandlers{hub: h, dispatcher: d, logger: logger}
	return broker.NewHandlerTable().
		Register(KeyOrderCreated, broker.HandlerFunc(e.orderCreated)).
		Register(KeyOrderStatusChanged, broker.HandlerFunc(e.orderStatusChanged)).
		Register(KeyOrderCancelled, broker.HandlerFunc(e.orderCancelled)).
		Register(KeyPaymentCompleted, broker.HandlerFunc(e.paymentCompleted)).
		Register(KeyPaymentFailed, broker.HandlerFunc(e.paymentFailed)).
		Register(KeyInventoryLowStock, broker.HandlerFunc(e.inventoryLowStock)).
		Register(KeyDeliveryAssigned, broker.HandlerFunc(e.deliveryAssigned)).
		Register(KeyDeliveryStatus, broker.HandlerFunc(e.deliveryStatus)).
		Register(KeyUserRegistered, broker.HandlerFunc(e.userRegistered)).
		Register(KeySystemAlert, broker.HandlerFunc(e.systemAlert))
}

type eventHandlers struct {
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// orderCreated alerts vendors near the ordering hospital. Emergency
// orders go through the geo dispatcher; routine ones are a plain topic
// broadcast.
func (e *eventHandlers) orderCreated(ctx context.Context, ev broker.Event) error {
	orderID := str(ev.Payload, "order_id")
	fields := map[string]any{
		"order_id":    orderID,
		"hospital_id": str(ev.Payload, "hospital_id"),
		"cylinders":   ev.Payload["cylinders"],
	}

	if boolean(ev.Payload, "is_emergency") {
		center, ok := point(ev.Payload)
		if !ok {
			e.logger.Warn().
				Str(log.FieldRoutingKey, ev.RoutingKey).
				Str("order_id", orderID).
				Msg("emergency order without coordinates, broadcasting without geo targeting")
			e.hub.BroadcastToTopic(domain.TopicEmergencyAlert,
				domain.NewEnvelope(domain.MsgTypeEmergencyAlert, fields))
			return nil
		}
		e.dispatcher.SendLocationAlert(ctx, "emergency_order", zones.PriorityCritical,
			center, 0, "emergency oxygen order placed", fields)
		return nil
	}

	e.hub.BroadcastToTopic(domain.TopicOrderPlaced,
		domain.NewEnvelope(domain.TopicOrderPlaced, fields))
	return nil
}

// orderStatusChanged tells the hospital that placed the order, plus
// anyone following order status.
func (e *eventHandlers) orderStatusChanged(_ context.Context, ev broker.Event) error {
	env := domain.NewEnvelope(domain.TopicOrderStatusUpdate, map[string]any{
		"order_id": str(ev.Payload, "order_id"),
		"status":   str(ev.Payload, "status"),
		"notes":    str(ev.Payload, "notes"),
	})
	if hospitalID := str(ev.Payload, "hospital_id"); hospitalID != "" {
		e.hub.Send(hospitalID, env)
	}
	e.hub.BroadcastToTopic(domain.TopicOrderStatusUpdate, env)
	return nil
}

// orderCancelled tells both counterparties directly.
func (e *eventHandlers) orderCancelled(_ context.Context, ev broker.Event) error {
	env := domain.NewEnvelope(domain.TopicOrderStatusUpdate, map[string]any{
		"order_id": str(ev.Payload, "order_id"),
		"status":   "cancelled",
		"reason":   str(ev.Payload, "reason"),
	})
	for _, key := range []string{"hospital_id", "vendor_id"} {
		if id := str(ev.Payload, key); id != "" {
			e.hub.Send(id, env)
		}
	}
	return nil
}

func (e *eventHandlers) paymentCompleted(_ context.Context, ev broker.Event) error {
	env := domain.NewEnvelope(domain.TopicPaymentCompleted, map[string]any{
		"payment_id": str(ev.Payload, "payment_id"),
		"order_id":   str(ev.Payload, "order_id"),
		"amount":     ev.Payload["amount"],
	})
	for _, key := range []string{"hospital_id", "vendor_id"} {
		if id := str(ev.Payload, key); id != "" {
			e.hub.Send(id, env)
		}
	}
	return nil
}

// paymentFailed only concerns the payer.
func (e *eventHandlers) paymentFailed(_ context.Context, ev broker.Event) error {
	if hospitalID := str(ev.Payload, "hospital_id"); hospitalID != "" {
		e.hub.Send(hospitalID, domain.NewEnvelope("payment_failed", map[string]any{
			"payment_id": str(ev.Payload, "payment_id"),
			"order_id":   str(ev.Payload, "order_id"),
			"reason":     str(ev.Payload, "reason"),
		}))
	}
	return nil
}

// inventoryLowStock warns hospitals near the vendor running low. With
// no coordinates it degrades to a role broadcast.
func (e *eventHandlers) inventoryLowStock(ctx context.Context, ev broker.Event) error {
	fields := map[string]any{
		"vendor_id":     str(ev.Payload, "vendor_id"),
		"cylinder_size": str(ev.Payload, "cylinder_size"),
		"remaining":     ev.Payload["remaining"],
	}

	alertType := "inventory_low"
	priority := zones.PriorityMedium
	if boolean(ev.Payload, "is_critical") {
		alertType = "inventory_critical"
		priority = zones.PriorityHigh
	}

	if center, ok := point(ev.Payload); ok {
		e.dispatcher.SendLocationAlert(ctx, alertType, priority, center, 0, "vendor stock running low", fields)
		return nil
	}
	e.hub.BroadcastToRole(domain.RoleHospital, domain.NewEnvelope(domain.TopicInventoryUpdate, fields))
	return nil
}

// deliveryAssigned tells the driver and the waiting hospital.
func (e *eventHandlers) deliveryAssigned(_ context.Context, ev broker.Event) error {
	env := domain.NewEnvelope(domain.TopicDeliveryAssigned, map[string]any{
		"delivery_id": str(ev.Payload, "delivery_id"),
		"order_id":    str(ev.Payload, "order_id"),
		"eta":         str(ev.Payload, "eta"),
	})
	for _, key := range []string{"driver_id", "hospital_id"} {
		if id := str(ev.Payload, key); id != "" {
			e.hub.Send(id, env)
		}
	}
	e.hub.BroadcastToTopic(domain.TopicDeliveryAssigned, env)
	return nil
}

func (e *eventHandlers) deliveryStatus(_ context.Context, ev broker.Event) error {
	env := domain.NewEnvelope(domain.TopicDeliveryUpdate, map[string]any{
		"delivery_id": str(ev.Payload, "delivery_id"),
		"order_id":    str(ev.Payload, "order_id"),
		"status":      str(ev.Payload, "status"),
		"location":    ev.Payload["location"],
	})
	if hospitalID := str(ev.Payload, "hospital_id"); hospitalID != "" {
		e.hub.Send(hospitalID, env)
	}
	e.hub.BroadcastToTopic(domain.TopicDeliveryUpdate, env)
	return nil
}

// userRegistered is an admin-only signal.
func (e *eventHandlers) userRegistered(_ context.Context, ev broker.Event) error {
	e.hub.BroadcastToRole(domain.RoleAdmin, domain.NewEnvelope(domain.TopicUserActivity, map[string]any{
		"user_id": str(ev.Payload, "user_id"),
		"role":    str(ev.Payload, "role"),
		"event":   "registered",
	}))
	return nil
}

// systemAlert reaches everyone; critical outages additionally run
// through the dispatcher so they are tracked and escalated.
func (e *eventHandlers) systemAlert(ctx context.Context, ev broker.Event) error {
	fields := map[string]any{
		"title":    str(ev.Payload, "title"),
		"message":  str(ev.Payload, "message"),
		"severity": str(ev.Payload, "severity"),
	}

	if str(ev.Payload, "severity") == "critical" {
		if center, ok := point(ev.Payload); ok {
			e.dispatcher.SendLocationAlert(ctx, "system_outage", zones.PriorityCritical,
				center, 0, str(ev.Payload, "message"), fields)
			return nil
		}
	}
	e.hub.BroadcastToAll(domain.NewEnvelope(domain.TopicSystemAlert, fields))
	return nil
}

func str(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func boolean(payload map[string]any, key string) bool {
	v, ok := payload[key].(bool)
	return ok && v
}

// point pulls latitude/longitude out of a payload, accepting them at
// the top level or under a "location" object. JSON numbers arrive as
// float64.
func point(payload map[string]any) (geo.Point, bool) {
	src := payload
	if loc, ok := payload["location"].(map[string]any); ok {
		src = loc
	}
	lat, latOK := src["latitude"].(float64)
	lon, lonOK := src["longitude"].(float64)
	if !latOK || !lonOK {
		return geo.Point{}, false
	}
	p := geo.Point{Latitude: lat, Longitude: lon}
	if !geo.Valid(p) {
		return geo.Point{}, false
	}
	return p, true
}
