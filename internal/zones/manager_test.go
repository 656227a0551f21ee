package zones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
)

func TestZoneForLocation(t *testing.T) {
	m := NewDefaultManager()

	t.Run("point inside a zone", func(t *testing.T) {
		z, ok := m.ZoneForLocation(geo.Point{Latitude: 6.5244, Longitude: 3.3792})
		require.True(t, ok)
		assert.Equal(t, "lagos_mainland", z.ZoneID)
	})

	t.Run("point outside every zone", func(t *testing.T) {
		_, ok := m.ZoneForLocation(geo.Point{Latitude: 51.5074, Longitude: -0.1278})
		assert.False(t, ok)
	})

	t.Run("overlap resolves to catalogue order", func(t *testing.T) {
		// Both circles cover the point; the first declared zone wins.
		catalogue := []Zone{
			{ZoneID: "declared_first", Center: geo.Point{Latitude: 6.5, Longitude: 3.38}, RadiusKm: 50},
			{ZoneID: "declared_second", Center: geo.Point{Latitude: 6.5, Longitude: 3.38}, RadiusKm: 50},
		}
		m := NewManager(catalogue, nil, DefaultEscalationRules())
		z, ok := m.ZoneForLocation(geo.Point{Latitude: 6.52, Longitude: 3.39})
		require.True(t, ok)
		assert.Equal(t, "declared_first", z.ZoneID)
	})
}

func TestNotificationRadius(t *testing.T) {
	m := NewDefaultManager()

	tests := []struct {
		name      string
		alertType string
		priority  Priority
		want      float64
	}{
		{"known type, medium", "inventory_low", PriorityMedium, 30.0},
		{"known type, low scales down", "inventory_low", PriorityLow, 24.0},
		{"known type, high scales up", "emergency_order", PriorityHigh, 37.5},
		{"known type, critical doubles", "emergency_order", PriorityCritical, 50.0},
		{"unknown type uses 25km base", "unheard_of", PriorityMedium, 25.0},
		{"unknown type critical", "unheard_of", PriorityCritical, 50.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.NotificationRadius(tt.alertType, tt.priority), 0.001)
		})
	}
}

func TestTargetRoles(t *testing.T) {
	m := NewDefaultManager()

	assert.Equal(t, []domain.Role{domain.RoleVendor}, m.TargetRoles("emergency_order"))
	assert.Equal(t, []domain.Role{domain.RoleAdmin}, m.TargetRoles("unknown_alert"))
}

func TestShouldEscalate(t *testing.T) {
	m := NewDefaultManager()

	t.Run("due after interval", func(t *testing.T) {
		assert.True(t, m.ShouldEscalate(PriorityCritical, 0, 5*time.Minute))
	})

	t.Run("not yet due", func(t *testing.T) {
		assert.False(t, m.ShouldEscalate(PriorityCritical, 0, 4*time.Minute))
	})

	t.Run("max escalations reached", func(t *testing.T) {
		rule := m.Rule(PriorityCritical)
		assert.False(t, m.ShouldEscalate(PriorityCritical, rule.MaxEscalations, time.Hour))
	})
}

func TestBackupZones(t *testing.T) {
	m := NewDefaultManager()

	t.Run("configured backups resolve, unknown ids skipped", func(t *testing.T) {
		// lagos_island lists lagos_mainland and victoria_island; only the
		// former exists in the catalogue.
		backups := m.BackupZones("lagos_island")
		require.Len(t, backups, 1)
		assert.Equal(t, "lagos_mainland", backups[0].ZoneID)
	})

	t.Run("unknown zone has no backups", func(t *testing.T) {
		assert.Empty(t, m.BackupZones("atlantis"))
	})
}
