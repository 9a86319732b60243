package pgstore

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		wantKm                 float64
		tolerance              float64
	}{
		{"same point", -33.87, 151.21, -33.87, 151.21, 0, 0.001},
		{"sydney to melbourne", -33.8688, 151.2093, -37.8136, 144.9631, 713, 10},
		{"short hop", -33.8688, 151.2093, -33.9, 151.21, 3.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("expected about %.1f km, got %.1f km", tt.wantKm, got)
			}
		})
	}
}
