package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aabine/flow-realtime/internal/broker"
	"github.com/aabine/flow-realtime/internal/dispatch"
	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/zones"
)

type fixture struct {
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	table      *broker.HandlerTable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.New(hub.Config{SendBuffer: 16}, zerolog.Nop())
	d := dispatch.New(h, zones.NewDefaultManager(), nil, zerolog.Nop())
	return &fixture{hub: h, dispatcher: d, table: NewHandlerTable(h, d, zerolog.Nop())}
}

func (f *fixture) connect(t *testing.T, id string, role domain.Role) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, role, f.hub, nil)
	f.hub.Connect(c)
	return c
}

func (f *fixture) handle(t *testing.T, routingKey string, payload map[string]any) {
	t.Helper()
	handler, ok := f.table.Lookup(routingKey)
	require.True(t, ok, "no handler for %s", routingKey)
	require.NoError(t, handler.Handle(context.Background(), broker.Event{
		RoutingKey: routingKey,
		Payload:    payload,
	}))
}

func TestTableCoversEveryRoutingKey(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{
		KeyOrderCreated, KeyOrderStatusChanged, KeyOrderCancelled,
		KeyPaymentCompleted, KeyPaymentFailed, KeyInventoryLowStock,
		KeyDeliveryAssigned, KeyDeliveryStatus, KeyUserRegistered, KeySystemAlert,
	} {
		_, ok := f.table.Lookup(key)
		assert.True(t, ok, key)
	}
	assert.Len(t, f.table.Keys(), 10)
}

func TestOrderCreatedRoutineGoesToOrderTopic(t *testing.T) {
	f := newFixture(t)
	vendor := f.connect(t, "v1", domain.RoleVendor)
	hospital := f.connect(t, "h1", domain.RoleHospital)

	f.handle(t, KeyOrderCreated, map[string]any{
		"order_id":    "ord-1",
		"hospital_id": "h1",
	})

	// Vendors are auto-subscribed to order_placed; hospitals are not.
	assert.Equal(t, 1, vendor.Queued())
	assert.Equal(t, 0, hospital.Queued())
	assert.Empty(t, f.dispatcher.ActiveAlerts(), "routine orders are not tracked alerts")
}

func TestOrderCreatedEmergencyDispatchesGeoAlert(t *testing.T) {
	f := newFixture(t)
	near := f.connect(t, "vendor-near", domain.RoleVendor)
	require.True(t, f.hub.UpdateLocation("vendor-near", 6.5300, 3.3800))
	far := f.connect(t, "vendor-abuja", domain.RoleVendor)
	require.True(t, f.hub.UpdateLocation("vendor-abuja", 9.0765, 7.3986))

	f.handle(t, KeyOrderCreated, map[string]any{
		"order_id":     "ord-2",
		"hospital_id":  "h1",
		"is_emergency": true,
		"latitude":     6.5244,
		"longitude":    3.3792,
	})

	assert.Equal(t, 1, near.Queued())
	assert.Equal(t, 0, far.Queued())

	alerts := f.dispatcher.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "emergency_order", alerts[0].Type)
	assert.Equal(t, zones.PriorityCritical, alerts[0].Priority)
}

func TestOrderStatusChangedNotifiesHospitalDirectly(t *testing.T) {
	f := newFixture(t)
	hospital := f.connect(t, "h1", domain.RoleHospital)
	other := f.connect(t, "v1", domain.RoleVendor)

	f.handle(t, KeyOrderStatusChanged, map[string]any{
		"order_id":    "ord-1",
		"hospital_id": "h1",
		"status":      "confirmed",
	})

	// Direct send plus the order_status_update topic the hospital is
	// auto-subscribed to.
	assert.Equal(t, 2, hospital.Queued())
	assert.Equal(t, 0, other.Queued(), "vendors do not follow order status")
}

func TestPaymentCompletedNotifiesBothParties(t *testing.T) {
	f := newFixture(t)
	hospital := f.connect(t, "h1", domain.RoleHospital)
	vendor := f.connect(t, "v1", domain.RoleVendor)

	f.handle(t, KeyPaymentCompleted, map[string]any{
		"payment_id":  "pay-1",
		"order_id":    "ord-1",
		"hospital_id": "h1",
		"vendor_id":   "v1",
		"amount":      125000.0,
	})

	assert.Equal(t, 1, hospital.Queued())
	assert.Equal(t, 1, vendor.Queued())
}

func TestInventoryLowStockWithoutCoordinatesBroadcastsToHospitals(t *testing.T) {
	f := newFixture(t)
	hospital := f.connect(t, "h1", domain.RoleHospital)
	vendor := f.connect(t, "v1", domain.RoleVendor)

	f.handle(t, KeyInventoryLowStock, map[string]any{
		"vendor_id": "v1",
		"remaining": 3.0,
	})

	assert.Equal(t, 1, hospital.Queued())
	assert.Equal(t, 0, vendor.Queued())
	assert.Empty(t, f.dispatcher.ActiveAlerts())
}

func TestInventoryCriticalWithCoordinatesUsesDispatcher(t *testing.T) {
	f := newFixture(t)
	hospital := f.connect(t, "h1", domain.RoleHospital)
	require.True(t, f.hub.UpdateLocation("h1", 6.5300, 3.3800))

	f.handle(t, KeyInventoryLowStock, map[string]any{
		"vendor_id":   "v1",
		"is_critical": true,
		"location":    map[string]any{"latitude": 6.5244, "longitude": 3.3792},
	})

	assert.Equal(t, 1, hospital.Queued())
	alerts := f.dispatcher.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "inventory_critical", alerts[0].Type)
}

func TestDeliveryAssignedNotifiesDriverAndHospital(t *testing.T) {
	f := newFixture(t)
	driver := f.connect(t, "d1", domain.RoleDriver)
	hospital := f.connect(t, "h1", domain.RoleHospital)

	f.handle(t, KeyDeliveryAssigned, map[string]any{
		"delivery_id": "del-1",
		"driver_id":   "d1",
		"hospital_id": "h1",
	})

	// Both get the direct send; the driver also follows the
	// delivery_assigned topic.
	assert.Equal(t, 2, driver.Queued())
	assert.Equal(t, 1, hospital.Queued())
}

func TestUserRegisteredOnlyReachesAdmins(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, "a1", domain.RoleAdmin)
	vendor := f.connect(t, "v1", domain.RoleVendor)

	f.handle(t, KeyUserRegistered, map[string]any{
		"user_id": "new-user",
		"role":    "hospital",
	})

	assert.Equal(t, 1, admin.Queued())
	assert.Equal(t, 0, vendor.Queued())
}

func TestSystemAlertCriticalWithLocationIsTracked(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "h1", domain.RoleHospital)

	f.handle(t, KeySystemAlert, map[string]any{
		"title":     "Regional outage",
		"message":   "API degraded in Lagos",
		"severity":  "critical",
		"latitude":  6.5244,
		"longitude": 3.3792,
	})

	alerts := f.dispatcher.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "system_outage", alerts[0].Type)
}

func TestSystemAlertInfoBroadcastsToEveryone(t *testing.T) {
	f := newFixture(t)
	hospital := f.connect(t, "h1", domain.RoleHospital)
	driver := f.connect(t, "d1", domain.RoleDriver)

	f.handle(t, KeySystemAlert, map[string]any{
		"title":    "Maintenance window",
		"message":  "Sunday 02:00 UTC",
		"severity": "info",
	})

	assert.Equal(t, 1, hospital.Queued())
	assert.Equal(t, 1, driver.Queued())
	assert.Empty(t, f.dispatcher.ActiveAlerts())
}
