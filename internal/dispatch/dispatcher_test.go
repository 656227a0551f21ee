package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/zones"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (p *capturingPublisher) Publish(_ context.Context, routingKey string, payload map[string]any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload["_routing_key"] = routingKey
	p.messages = append(p.messages, payload)
	return true
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type fixture struct {
	hub        *hub.Hub
	dispatcher *Dispatcher
	publisher  *capturingPublisher
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.New(hub.Config{SendBuffer: 16}, zerolog.Nop())
	pub := &capturingPublisher{}
	d := New(h, zones.NewDefaultManager(), pub, zerolog.Nop())

	f := &fixture{hub: h, dispatcher: d, publisher: pub,
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	d.now = func() time.Time { return f.clock }
	seq := 0
	d.newID = func() string {
		seq++
		return "alert-" + string(rune('0'+seq))
	}
	return f
}

func (f *fixture) connectAt(t *testing.T, id string, role domain.Role, lat, lon float64) {
	t.Helper()
	f.hub.Connect(hub.NewClient(id, role, f.hub, nil))
	require.True(t, f.hub.UpdateLocation(id, lat, lon))
}

// Lagos mainland center from the built-in catalogue.
var lagosCenter = geo.Point{Latitude: 6.5244, Longitude: 3.3792}

func TestSendLocationAlertReachesVendorsInRadius(t *testing.T) {
	f := newFixture(t)
	f.connectAt(t, "vendor-near", domain.RoleVendor, 6.5300, 3.3800)
	f.connectAt(t, "vendor-abuja", domain.RoleVendor, 9.0765, 7.3986)
	f.connectAt(t, "driver-near", domain.RoleDriver, 6.5300, 3.3800)

	alert, sent := f.dispatcher.SendLocationAlert(context.Background(),
		"emergency_order", zones.PriorityCritical, lagosCenter, 0, "urgent oxygen needed", nil)

	// emergency_order targets vendors; critical doubles the 25 km base.
	assert.Equal(t, 1, sent)
	assert.InDelta(t, 50.0, alert.RadiusKm, 1e-9)
	assert.Equal(t, "lagos_mainland", alert.ZoneID)
	assert.Equal(t, 1, f.publisher.count(), "alert mirrored to the exchange")

	got, ok := f.dispatcher.Alert(alert.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.SentCount)
}

func TestSendLocationAlertExplicitRadiusAndRoles(t *testing.T) {
	f := newFixture(t)
	f.connectAt(t, "driver-near", domain.RoleDriver, 6.5300, 3.3800)
	f.connectAt(t, "vendor-near", domain.RoleVendor, 6.5300, 3.3800)

	_, sent := f.dispatcher.SendLocationAlert(context.Background(),
		"delivery_delayed", zones.PriorityMedium, lagosCenter, 5, "", nil, domain.RoleDriver)

	assert.Equal(t, 1, sent, "explicit role filter overrides the profile audience")
}

func TestSendZoneAlertFallsBackToBackupZones(t *testing.T) {
	f := newFixture(t)
	// lagos_island (radius 15 km) requires 3 responders and backs up
	// to lagos_mainland (radius 25 km). One vendor on the island; two
	// more ~16 km north, outside the island circle but inside the
	// mainland one.
	f.connectAt(t, "vendor-island", domain.RoleVendor, 6.4541, 3.3947)
	f.connectAt(t, "vendor-north-1", domain.RoleVendor, 6.6000, 3.3500)
	f.connectAt(t, "vendor-north-2", domain.RoleVendor, 6.6020, 3.3510)

	alert, sent, err := f.dispatcher.SendZoneAlert(context.Background(),
		"lagos_island", "emergency_order", "", "cylinders needed now", nil)

	require.NoError(t, err)
	assert.Equal(t, zones.PriorityCritical, alert.Priority, "zone priority applies when none given")
	// First pass reaches only the island vendor, below the required
	// three, so the mainland backup pass runs. Its circle covers all
	// three vendors, so the island vendor is counted twice.
	assert.Equal(t, 4, sent)
}

func TestSendZoneAlertUnknownZone(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.dispatcher.SendZoneAlert(context.Background(),
		"atlantis", "emergency_order", zones.PriorityHigh, "", nil)
	assert.ErrorIs(t, err, ErrUnknownZone)
}

func TestSendProximityAlertRequiresKnownLocation(t *testing.T) {
	f := newFixture(t)
	f.hub.Connect(hub.NewClient("hospital-1", domain.RoleHospital, f.hub, nil))
	f.connectAt(t, "vendor-near", domain.RoleVendor, 6.5250, 3.3795)

	_, _, err := f.dispatcher.SendProximityAlert(context.Background(),
		"hospital-1", "emergency_order", zones.PriorityHigh, 10, "", nil)
	assert.ErrorIs(t, err, ErrNoKnownLocation)

	require.True(t, f.hub.UpdateLocation("hospital-1", 6.5244, 3.3792))
	_, sent, err := f.dispatcher.SendProximityAlert(context.Background(),
		"hospital-1", "emergency_order", zones.PriorityHigh, 10, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestEscalateWidensRadiusUpToRuleCeiling(t *testing.T) {
	f := newFixture(t)
	f.connectAt(t, "vendor-near", domain.RoleVendor, 6.5300, 3.3800)

	alert, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"emergency_order", zones.PriorityCritical, lagosCenter, 40, "", nil)

	// Critical rule: ceiling 100 km, max 5 escalations.
	_, err := f.dispatcher.Escalate(context.Background(), alert.ID)
	require.NoError(t, err)
	got, _ := f.dispatcher.Alert(alert.ID)
	assert.InDelta(t, 60.0, got.RadiusKm, 1e-9)
	assert.Equal(t, 1, got.EscalationCount)

	_, err = f.dispatcher.Escalate(context.Background(), alert.ID)
	require.NoError(t, err)
	got, _ = f.dispatcher.Alert(alert.ID)
	assert.InDelta(t, 90.0, got.RadiusKm, 1e-9)

	_, err = f.dispatcher.Escalate(context.Background(), alert.ID)
	require.NoError(t, err)
	got, _ = f.dispatcher.Alert(alert.ID)
	assert.InDelta(t, 100.0, got.RadiusKm, 1e-9, "radius capped at the rule ceiling")
}

func TestEscalateStopsAtMaxEscalations(t *testing.T) {
	f := newFixture(t)
	alert, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"inventory_low", zones.PriorityLow, lagosCenter, 10, "", nil)

	// Low rule allows 2 escalations.
	for i := 0; i < 2; i++ {
		_, err := f.dispatcher.Escalate(context.Background(), alert.ID)
		require.NoError(t, err)
	}
	_, err := f.dispatcher.Escalate(context.Background(), alert.ID)
	assert.ErrorIs(t, err, ErrEscalationLimit)

	got, _ := f.dispatcher.Alert(alert.ID)
	assert.Equal(t, 2, got.EscalationCount, "count never exceeds the rule maximum")
}

func TestEscalateDueUsesIntervalAndClock(t *testing.T) {
	f := newFixture(t)
	alert, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"emergency_order", zones.PriorityCritical, lagosCenter, 40, "", nil)

	assert.Equal(t, 0, f.dispatcher.EscalateDue(context.Background()),
		"nothing due immediately after dispatch")

	// Critical escalation interval is 5 minutes.
	f.clock = f.clock.Add(6 * time.Minute)
	assert.Equal(t, 1, f.dispatcher.EscalateDue(context.Background()))

	got, _ := f.dispatcher.Alert(alert.ID)
	assert.Equal(t, 1, got.EscalationCount)
	assert.Equal(t, f.clock, got.LastEscalatedAt)

	// The interval restarts from the last escalation.
	f.clock = f.clock.Add(time.Minute)
	assert.Equal(t, 0, f.dispatcher.EscalateDue(context.Background()))
}

func TestEscalateKeepsOriginalAudience(t *testing.T) {
	f := newFixture(t)
	driver := hub.NewClient("driver-near", domain.RoleDriver, f.hub, nil)
	vendor := hub.NewClient("vendor-near", domain.RoleVendor, f.hub, nil)
	f.hub.Connect(driver)
	f.hub.Connect(vendor)
	require.True(t, f.hub.UpdateLocation("driver-near", 6.5300, 3.3800))
	require.True(t, f.hub.UpdateLocation("vendor-near", 6.5300, 3.3800))

	alert, sent := f.dispatcher.SendLocationAlert(context.Background(),
		"emergency_order", zones.PriorityCritical, lagosCenter, 40, "", nil, domain.RoleDriver)
	require.Equal(t, 1, sent)
	assert.Equal(t, []domain.Role{domain.RoleDriver}, alert.TargetRoles)

	driverBefore, vendorBefore := driver.Queued(), vendor.Queued()
	reached, err := f.dispatcher.Escalate(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	assert.Equal(t, driverBefore+1, driver.Queued())
	assert.Equal(t, vendorBefore, vendor.Queued(),
		"escalation stays within the role filter the alert was created with")
}

func TestEscalateDueSkipsLowAndMediumAlerts(t *testing.T) {
	f := newFixture(t)
	low, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"inventory_low", zones.PriorityLow, lagosCenter, 10, "", nil)

	// Low alerts are well past their 60-minute interval here, but only
	// high and critical alerts self-escalate on the sweep.
	f.clock = f.clock.Add(2 * time.Hour)
	assert.Equal(t, 0, f.dispatcher.EscalateDue(context.Background()))
	got, _ := f.dispatcher.Alert(low.ID)
	assert.Equal(t, 0, got.EscalationCount)

	// An explicit escalation still widens them.
	_, err := f.dispatcher.Escalate(context.Background(), low.ID)
	require.NoError(t, err)
}

func TestResolveAndExpire(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"emergency_order", zones.PriorityHigh, lagosCenter, 10, "", nil)
	a2, _ := f.dispatcher.SendLocationAlert(context.Background(),
		"system_outage", zones.PriorityHigh, lagosCenter, 10, "", nil)

	assert.True(t, f.dispatcher.Resolve(a1.ID))
	assert.False(t, f.dispatcher.Resolve(a1.ID))
	assert.Len(t, f.dispatcher.ActiveAlerts(), 1)

	f.clock = f.clock.Add(25 * time.Hour)
	assert.Equal(t, 1, f.dispatcher.ExpireOlderThan(24*time.Hour))
	_, ok := f.dispatcher.Alert(a2.ID)
	assert.False(t, ok)
}
