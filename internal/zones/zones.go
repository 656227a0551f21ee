// Package zones holds the static emergency-zone catalogue and the
// escalation rules that drive geo-targeted alerting.
package zones

import (
	"time"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
)

// Priority is the response priority of a zone or alert.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is a known level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Zone is a static named geographic circle with an associated response
// priority. The catalogue is loaded at startup and read-only afterwards.
type Zone struct {
	ZoneID                 string    `json:"zone_id" mapstructure:"zone_id"`
	Name                   string    `json:"name" mapstructure:"name"`
	Center                 geo.Point `json:"center" mapstructure:"center"`
	RadiusKm               float64   `json:"radius_km" mapstructure:"radius_km"`
	Priority               Priority  `json:"priority_level" mapstructure:"priority_level"`
	RequiredResponderCount int       `json:"required_responder_count" mapstructure:"required_responder_count"`
	BackupZoneIDs          []string  `json:"backup_zone_ids" mapstructure:"backup_zone_ids"`
}

// EscalationRule controls how an unresolved alert widens over time.
type EscalationRule struct {
	InitialRadiusKm    float64
	EscalationRadiusKm float64
	EscalationInterval time.Duration
	MaxEscalations     int
}

// AlertProfile maps an alert type to its notification defaults.
type AlertProfile struct {
	AlertType          string
	RadiusKm           float64
	TargetRoles        []domain.Role
	Priority           Priority
	EscalationInterval time.Duration
}

// defaultBaseRadiusKm applies to alert types without a profile.
const defaultBaseRadiusKm = 25.0

// DefaultZones returns the built-in zone catalogue covering the major
// Nigerian cities the platform operates in. Declaration order matters:
// ZoneForLocation returns the first match.
func DefaultZones() []Zone {
	return []Zone{
		{
			ZoneID:                 "lagos_mainland",
			Name:                   "Lagos Mainland Emergency Zone",
			Center:                 geo.Point{Latitude: 6.5244, Longitude: 3.3792},
			RadiusKm:               25.0,
			Priority:               PriorityHigh,
			RequiredResponderCount: 5,
			BackupZoneIDs:          []string{"lagos_island", "ikeja"},
		},
		{
			ZoneID:                 "lagos_island",
			Name:                   "Lagos Island Emergency Zone",
			Center:                 geo.Point{Latitude: 6.4541, Longitude: 3.3947},
			RadiusKm:               15.0,
			Priority:               PriorityCritical,
			RequiredResponderCount: 3,
			BackupZoneIDs:          []string{"lagos_mainland", "victoria_island"},
		},
		{
			ZoneID:                 "ikeja",
			Name:                   "Ikeja Emergency Zone",
			Center:                 geo.Point{Latitude: 6.6018, Longitude: 3.3515},
			RadiusKm:               20.0,
			Priority:               PriorityHigh,
			RequiredResponderCount: 4,
			BackupZoneIDs:          []string{"lagos_mainland"},
		},
		{
			ZoneID:                 "abuja_central",
			Name:                   "Abuja Central Emergency Zone",
			Center:                 geo.Point{Latitude: 9.0765, Longitude: 7.3986},
			RadiusKm:               30.0,
			Priority:               PriorityHigh,
			RequiredResponderCount: 4,
			BackupZoneIDs:          []string{"abuja_gwagwalada"},
		},
		{
			ZoneID:                 "kano_central",
			Name:                   "Kano Central Emergency Zone",
			Center:                 geo.Point{Latitude: 12.0022, Longitude: 8.5920},
			RadiusKm:               25.0,
			Priority:               PriorityMedium,
			RequiredResponderCount: 3,
			BackupZoneIDs:          []string{"kano_nassarawa"},
		},
		{
			ZoneID:                 "port_harcourt",
			Name:                   "Port Harcourt Emergency Zone",
			Center:                 geo.Point{Latitude: 4.8156, Longitude: 7.0498},
			RadiusKm:               20.0,
			Priority:               PriorityHigh,
			RequiredResponderCount: 3,
			BackupZoneIDs:          []string{"rivers_state"},
		},
		{
			ZoneID:                 "ibadan_central",
			Name:                   "Ibadan Central Emergency Zone",
			Center:                 geo.Point{Latitude: 7.3775, Longitude: 3.9470},
			RadiusKm:               25.0,
			Priority:               PriorityMedium,
			RequiredResponderCount: 3,
			BackupZoneIDs:          []string{"oyo_state"},
		},
	}
}

// DefaultAlertProfiles returns the built-in alert-type configuration.
func DefaultAlertProfiles() []AlertProfile {
	return []AlertProfile{
		{
			AlertType:          "inventory_low",
			RadiusKm:           30.0,
			TargetRoles:        []domain.Role{domain.RoleHospital, domain.RoleAdmin},
			Priority:           PriorityMedium,
			EscalationInterval: 60 * time.Minute,
		},
		{
			AlertType:          "inventory_critical",
			RadiusKm:           50.0,
			TargetRoles:        []domain.Role{domain.RoleHospital, domain.RoleVendor, domain.RoleAdmin},
			Priority:           PriorityHigh,
			EscalationInterval: 30 * time.Minute,
		},
		{
			AlertType:          "emergency_order",
			RadiusKm:           25.0,
			TargetRoles:        []domain.Role{domain.RoleVendor},
			Priority:           PriorityCritical,
			EscalationInterval: 10 * time.Minute,
		},
		{
			AlertType:          "vendor_offline",
			RadiusKm:           40.0,
			TargetRoles:        []domain.Role{domain.RoleHospital, domain.RoleAdmin},
			Priority:           PriorityMedium,
			EscalationInterval: 45 * time.Minute,
		},
		{
			AlertType:          "delivery_delayed",
			RadiusKm:           15.0,
			TargetRoles:        []domain.Role{domain.RoleHospital, domain.RoleVendor, domain.RoleAdmin},
			Priority:           PriorityMedium,
			EscalationInterval: 30 * time.Minute,
		},
		{
			AlertType:          "system_outage",
			RadiusKm:           100.0,
			TargetRoles:        []domain.Role{domain.RoleHospital, domain.RoleVendor, domain.RoleAdmin},
			Priority:           PriorityHigh,
			EscalationInterval: 15 * time.Minute,
		},
	}
}

// DefaultEscalationRules returns the per-priority escalation policy.
func DefaultEscalationRules() map[Priority]EscalationRule {
	return map[Priority]EscalationRule{
		PriorityLow: {
			InitialRadiusKm:    15.0,
			EscalationRadiusKm: 30.0,
			EscalationInterval: 60 * time.Minute,
			MaxEscalations:     2,
		},
		PriorityMedium: {
			InitialRadiusKm:    25.0,
			EscalationRadiusKm: 50.0,
			EscalationInterval: 30 * time.Minute,
			MaxEscalations:     3,
		},
		PriorityHigh: {
			InitialRadiusKm:    35.0,
			EscalationRadiusKm: 75.0,
			EscalationInterval: 15 * time.Minute,
			MaxEscalations:     4,
		},
		PriorityCritical: {
			InitialRadiusKm:    50.0,
			EscalationRadiusKm: 100.0,
			EscalationInterval: 5 * time.Minute,
			MaxEscalations:     5,
		},
	}
}
