// Package dispatch turns emergency events into targeted notifications:
// it resolves the audience for an alert (by radius, zone, or proximity
// to another user), pushes envelopes through the hub, tracks active
// alerts, and widens the radius when an alert goes unanswered.
package dispatch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/metrics"
	"github.com/aabine/flow-realtime/internal/zones"
	"github.com/aabine/flow-realtime/pkg/log"
)

// Publisher pushes alert events to the message exchange so other
// services see them too. *broker.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload map[string]any) bool
}

// alertRoutingKey is the exchange routing key alerts are mirrored to.
const alertRoutingKey = "emergency.alert"

// ActiveAlert is an in-flight emergency alert awaiting resolution.
type ActiveAlert struct {
	ID              string         `json:"alert_id"`
	Type            string         `json:"alert_type"`
	Priority        zones.Priority `json:"priority"`
	Center          geo.Point      `json:"center"`
	RadiusKm        float64        `json:"radius_km"`
	ZoneID          string         `json:"zone_id,omitempty"`
	TargetRoles     []domain.Role  `json:"target_roles,omitempty"`
	Message         string         `json:"message,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastEscalatedAt time.Time      `json:"last_escalated_at"`
	EscalationCount int            `json:"escalation_count"`
	SentCount       int            `json:"sent_count"`
}

// Dispatcher fans emergency alerts out to nearby connections and keeps
// the active-alert table.
type Dispatcher struct {
	hub       *hub.Hub
	zones     *zones.Manager
	publisher Publisher
	logger    zerolog.Logger

	mu     sync.Mutex
	alerts map[string]*ActiveAlert

	now   func() time.Time
	newID func() string
}

// New builds a dispatcher. publisher may be nil when the exchange is
// not wired (alerts are then push-only).
func New(h *hub.Hub, zm *zones.Manager, publisher Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:       h,
		zones:     zm,
		publisher: publisher,
		logger:    logger,
		alerts:    make(map[string]*ActiveAlert),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// SetPublisher wires the exchange publisher after construction. The
// broker client's handler table needs the dispatcher, so the two are
// tied together in a second step by the composition root.
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.publisher = p
}

// SendLocationAlert notifies every matching connection within radius
// of the point. A zero radius means "use the configured radius for
// this alert type and priority"; empty roles mean "use the alert
// type's default audience". Returns the tracked alert and how many
// connections received it.
func (d *Dispatcher) SendLocationAlert(ctx context.Context, alertType string, priority zones.Priority, center geo.Point, radiusKm float64, message string, data map[string]any, roles ...domain.Role) (*ActiveAlert, int) {
	if radiusKm <= 0 {
		radiusKm = d.zones.NotificationRadius(alertType, priority)
	}
	if len(roles) == 0 {
		roles = d.zones.TargetRoles(alertType)
	}

	now := d.now()
	alert := &ActiveAlert{
		ID:          d.newID(),
		Type:        alertType,
		Priority:    priority,
		Center:      center,
		RadiusKm:    radiusKm,
		TargetRoles: roles,
		Message:     message,
		Data:        data,
		CreatedAt:   now,
	}
	if z, ok := d.zones.ZoneForLocation(center); ok {
		alert.ZoneID = z.ZoneID
	}

	alert.SentCount = d.deliver(alert, roles)

	d.mu.Lock()
	d.alerts[alert.ID] = alert
	d.mu.Unlock()

	metrics.IncAlertDispatched(alertType, string(priority))
	d.mirror(ctx, alert)
	d.logger.Info().
		Str(log.FieldAlertID, alert.ID).
		Str(log.FieldAlertType, alertType).
		Str(log.FieldPriority, string(priority)).
		Float64("radius_km", radiusKm).
		Int("delivered", alert.SentCount).
		Msg("location alert dispatched")
	return alert, alert.SentCount
}

// SendZoneAlert notifies the responders of a configured zone. When
// fewer connections than the zone's required responder count receive
// the alert, the zone's backup zones are notified as well.
func (d *Dispatcher) SendZoneAlert(ctx context.Context, zoneID, alertType string, priority zones.Priority, message string, data map[string]any) (*ActiveAlert, int, error) {
	zone, ok := d.zones.Zone(zoneID)
	if !ok {
		return nil, 0, ErrUnknownZone
	}
	if priority == "" {
		priority = zone.Priority
	}
	roles := d.zones.TargetRoles(alertType)

	now := d.now()
	alert := &ActiveAlert{
		ID:          d.newID(),
		Type:        alertType,
		Priority:    priority,
		Center:      zone.Center,
		RadiusKm:    zone.RadiusKm,
		ZoneID:      zone.ZoneID,
		TargetRoles: roles,
		Message:     message,
		Data:        data,
		CreatedAt:   now,
	}
	alert.SentCount = d.deliver(alert, roles)

	if alert.SentCount < zone.RequiredResponderCount {
		for _, backup := range d.zones.BackupZones(zone.ZoneID) {
			n := d.deliverAt(alert, backup.Center, backup.RadiusKm, roles, map[string]any{
				"backup_for_zone": zone.ZoneID,
			})
			alert.SentCount += n
			d.logger.Info().
				Str(log.FieldAlertID, alert.ID).
				Str(log.FieldZoneID, backup.ZoneID).
				Int("delivered", n).
				Msg("alert widened to backup zone")
		}
	}

	d.mu.Lock()
	d.alerts[alert.ID] = alert
	d.mu.Unlock()

	metrics.IncAlertDispatched(alertType, string(priority))
	d.mirror(ctx, alert)
	return alert, alert.SentCount, nil
}

// SendProximityAlert notifies connections near another user's last
// known location. A user without a location yields no alert.
func (d *Dispatcher) SendProximityAlert(ctx context.Context, anchorUserID, alertType string, priority zones.Priority, radiusKm float64, message string, data map[string]any, roles ...domain.Role) (*ActiveAlert, int, error) {
	center, ok := d.hub.LastLocation(anchorUserID)
	if !ok {
		d.logger.Warn().
			Str(log.FieldUserID, anchorUserID).
			Str(log.FieldAlertType, alertType).
			Msg("proximity alert skipped, anchor has no known location")
		return nil, 0, ErrNoKnownLocation
	}
	alert, sent := d.SendLocationAlert(ctx, alertType, priority, center, radiusKm, message, data, roles...)
	return alert, sent, nil
}

// Escalate widens an active alert's radius and re-notifies the larger
// audience. The radius grows by half each time, capped by the
// priority's escalation ceiling; the escalation count never exceeds
// the rule's maximum.
func (d *Dispatcher) Escalate(ctx context.Context, alertID string) (int, error) {
	d.mu.Lock()
	alert, ok := d.alerts[alertID]
	if !ok {
		d.mu.Unlock()
		return 0, ErrUnknownAlert
	}
	rule := d.zones.Rule(alert.Priority)
	if alert.EscalationCount >= rule.MaxEscalations {
		d.mu.Unlock()
		return 0, ErrEscalationLimit
	}
	alert.RadiusKm = math.Min(alert.RadiusKm*1.5, rule.EscalationRadiusKm)
	alert.EscalationCount++
	alert.LastEscalatedAt = d.now()
	snapshot := *alert
	d.mu.Unlock()

	// Re-notify the audience the alert was created for, not the alert
	// type's default one.
	sent := d.deliverAt(&snapshot, snapshot.Center, snapshot.RadiusKm, snapshot.TargetRoles, map[string]any{
		"escalation_count": snapshot.EscalationCount,
	})

	d.mu.Lock()
	if a, ok := d.alerts[alertID]; ok {
		a.SentCount += sent
	}
	d.mu.Unlock()

	metrics.IncAlertEscalation()
	d.logger.Info().
		Str(log.FieldAlertID, alertID).
		Int("escalation_count", snapshot.EscalationCount).
		Float64("radius_km", snapshot.RadiusKm).
		Int("delivered", sent).
		Msg("alert escalated")
	return sent, nil
}

// EscalateDue escalates every HIGH or CRITICAL active alert whose
// escalation interval has elapsed. LOW and MEDIUM alerts only widen
// through an explicit Escalate call. Intended to run on a fixed
// interval from the composition root.
func (d *Dispatcher) EscalateDue(ctx context.Context) int {
	now := d.now()

	d.mu.Lock()
	var due []string
	for id, a := range d.alerts {
		if a.Priority != zones.PriorityHigh && a.Priority != zones.PriorityCritical {
			continue
		}
		since := a.LastEscalatedAt
		if since.IsZero() {
			since = a.CreatedAt
		}
		if d.zones.ShouldEscalate(a.Priority, a.EscalationCount, now.Sub(since)) {
			due = append(due, id)
		}
	}
	d.mu.Unlock()

	escalated := 0
	for _, id := range due {
		if _, err := d.Escalate(ctx, id); err == nil {
			escalated++
		}
	}
	return escalated
}

// Resolve removes an alert from the active table.
func (d *Dispatcher) Resolve(alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.alerts[alertID]; !ok {
		return false
	}
	delete(d.alerts, alertID)
	return true
}

// ExpireOlderThan drops active alerts created more than maxAge ago and
// returns how many were dropped. Unresolved alerts do not live
// forever.
func (d *Dispatcher) ExpireOlderThan(maxAge time.Duration) int {
	cutoff := d.now().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	expired := 0
	for id, a := range d.alerts {
		if a.CreatedAt.Before(cutoff) {
			delete(d.alerts, id)
			expired++
		}
	}
	return expired
}

// ActiveAlerts returns a snapshot of the active-alert table.
func (d *Dispatcher) ActiveAlerts() []ActiveAlert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ActiveAlert, 0, len(d.alerts))
	for _, a := range d.alerts {
		out = append(out, *a)
	}
	return out
}

// Alert returns one active alert by id.
func (d *Dispatcher) Alert(alertID string) (ActiveAlert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.alerts[alertID]
	if !ok {
		return ActiveAlert{}, false
	}
	return *a, true
}

// deliver pushes the alert to its current audience.
func (d *Dispatcher) deliver(alert *ActiveAlert, roles []domain.Role) int {
	return d.deliverAt(alert, alert.Center, alert.RadiusKm, roles, nil)
}

// deliverAt pushes the alert to every matching connection inside the
// circle, one envelope per target so each carries its own distance.
func (d *Dispatcher) deliverAt(alert *ActiveAlert, center geo.Point, radiusKm float64, roles []domain.Role, extra map[string]any) int {
	targets := d.hub.WithinRadius(center, radiusKm, roles...)
	sent := 0
	for _, target := range targets {
		fields := map[string]any{
			"alert_id":    alert.ID,
			"alert_type":  alert.Type,
			"priority":    string(alert.Priority),
			"message":     alert.Message,
			"distance_km": math.Round(target.DistanceKm*100) / 100,
			"location": map[string]float64{
				"latitude":  center.Latitude,
				"longitude": center.Longitude,
			},
		}
		if alert.ZoneID != "" {
			fields["zone_id"] = alert.ZoneID
		}
		if alert.Data != nil {
			fields["data"] = alert.Data
		}
		for k, v := range extra {
			fields[k] = v
		}
		if d.hub.Send(target.ID, domain.NewEnvelope(domain.MsgTypeEmergencyAlert, fields)) {
			sent++
		}
	}
	return sent
}

// mirror publishes the alert to the exchange for other services.
func (d *Dispatcher) mirror(ctx context.Context, alert *ActiveAlert) {
	if d.publisher == nil {
		return
	}
	d.publisher.Publish(ctx, alertRoutingKey, map[string]any{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"priority":   string(alert.Priority),
		"zone_id":    alert.ZoneID,
		"latitude":   alert.Center.Latitude,
		"longitude":  alert.Center.Longitude,
		"radius_km":  alert.RadiusKm,
		"message":    alert.Message,
		"sent_count": alert.SentCount,
		"created_at": alert.CreatedAt.UTC().Format(time.RFC3339),
	})
}
