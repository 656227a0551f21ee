package zones

import (
	"time"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
)

// Manager answers zone-membership and escalation questions over a
// static catalogue. It is read-only after construction and safe for
// concurrent use.
type Manager struct {
	zones    []Zone
	byID     map[string]Zone
	profiles map[string]AlertProfile
	rules    map[Priority]EscalationRule
}

// NewManager builds a manager over the supplied catalogue. Zone slice
// order is preserved: lookups by location return the first match.
func NewManager(catalogue []Zone, profiles []AlertProfile, rules map[Priority]EscalationRule) *Manager {
	m := &Manager{
		zones:    catalogue,
		byID:     make(map[string]Zone, len(catalogue)),
		profiles: make(map[string]AlertProfile, len(profiles)),
		rules:    rules,
	}
	for _, z := range catalogue {
		m.byID[z.ZoneID] = z
	}
	for _, p := range profiles {
		m.profiles[p.AlertType] = p
	}
	return m
}

// NewDefaultManager builds a manager over the built-in catalogue.
func NewDefaultManager() *Manager {
	return NewManager(DefaultZones(), DefaultAlertProfiles(), DefaultEscalationRules())
}

// Zone returns the zone with the given id.
func (m *Manager) Zone(zoneID string) (Zone, bool) {
	z, ok := m.byID[zoneID]
	return z, ok
}

// Zones returns the catalogue in declaration order.
func (m *Manager) Zones() []Zone {
	out := make([]Zone, len(m.zones))
	copy(out, m.zones)
	return out
}

// ZoneForLocation returns the first zone in catalogue order whose
// center is within RadiusKm of the point. Overlapping zones are not
// disambiguated by priority or nearest center; declaration order wins.
func (m *Manager) ZoneForLocation(p geo.Point) (Zone, bool) {
	for _, z := range m.zones {
		if geo.DistanceKm(z.Center, p) <= z.RadiusKm {
			return z, true
		}
	}
	return Zone{}, false
}

// NotificationRadius returns the effective broadcast radius for an
// alert type at a priority level: the profile's base radius (25 km for
// unknown alert types) scaled by the severity multiplier.
func (m *Manager) NotificationRadius(alertType string, priority Priority) float64 {
	base := defaultBaseRadiusKm
	if p, ok := m.profiles[alertType]; ok {
		base = p.RadiusKm
	}
	return base * severityMultiplier(priority)
}

// TargetRoles returns the default audience for an alert type. Unknown
// alert types go to admins only.
func (m *Manager) TargetRoles(alertType string) []domain.Role {
	if p, ok := m.profiles[alertType]; ok {
		return p.TargetRoles
	}
	return []domain.Role{domain.RoleAdmin}
}

// Rule returns the escalation rule for a priority level. Unknown
// levels fall back to the medium rule.
func (m *Manager) Rule(priority Priority) EscalationRule {
	if r, ok := m.rules[priority]; ok {
		return r
	}
	return m.rules[PriorityMedium]
}

// ShouldEscalate reports whether an alert at the given priority, with
// the given escalation count, is due for another escalation after the
// elapsed time.
func (m *Manager) ShouldEscalate(priority Priority, escalationCount int, elapsed time.Duration) bool {
	rule := m.Rule(priority)
	return elapsed >= rule.EscalationInterval && escalationCount < rule.MaxEscalations
}

// BackupZones returns the configured backup zones for fallback
// responder sourcing. Unknown backup ids are skipped.
func (m *Manager) BackupZones(zoneID string) []Zone {
	z, ok := m.byID[zoneID]
	if !ok {
		return nil
	}
	var out []Zone
	for _, id := range z.BackupZoneIDs {
		if backup, ok := m.byID[id]; ok {
			out = append(out, backup)
		}
	}
	return out
}

func severityMultiplier(priority Priority) float64 {
	switch priority {
	case PriorityLow:
		return 0.8
	case PriorityHigh:
		return 1.5
	case PriorityCritical:
		return 2.0
	default:
		return 1.0
	}
}
