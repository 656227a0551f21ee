package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Latitude: 6.5244, Longitude: 3.3792},
			b:         Point{Latitude: 6.5244, Longitude: 3.3792},
			wantKm:    0,
			tolerance: 0.0001,
		},
		{
			name:      "lagos mainland to nearby point",
			a:         Point{Latitude: 6.5244, Longitude: 3.3792},
			b:         Point{Latitude: 6.5300, Longitude: 3.3800},
			wantKm:    0.63,
			tolerance: 0.05,
		},
		{
			name:      "lagos to abuja",
			a:         Point{Latitude: 6.5244, Longitude: 3.3792},
			b:         Point{Latitude: 9.0765, Longitude: 7.3986},
			wantKm:    526,
			tolerance: 5,
		},
		{
			name:      "symmetric",
			a:         Point{Latitude: 4.8156, Longitude: 7.0498},
			b:         Point{Latitude: 12.0022, Longitude: 8.5920},
			wantKm:    DistanceKm(Point{Latitude: 12.0022, Longitude: 8.5920}, Point{Latitude: 4.8156, Longitude: 7.0498}),
			tolerance: 0.0001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Point{Latitude: 6.5, Longitude: 3.4}))
	assert.True(t, Valid(Point{Latitude: -90, Longitude: 180}))
	assert.False(t, Valid(Point{Latitude: 91, Longitude: 0}))
	assert.False(t, Valid(Point{Latitude: 0, Longitude: -181}))
}
