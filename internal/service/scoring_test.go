package service

import (
	"testing"
	"time"
)

func TestPoints(t *testing.T) {
	tests := []struct {
		name    string
		correct bool
		elapsed float64
		want    int
	}{
		{"wrong answer", false, 3, 0},
		{"wrong answer late", false, 70, 0},
		{"instant", true, 0, 15},
		{"just under ten seconds", true, 9.99, 15},
		{"ten seconds", true, 10, 14},
		{"twenty five seconds", true, 25, 13},
		{"forty nine seconds", true, 49.9, 11},
		{"fifty seconds", true, 50, 10},
		{"after timeout", true, 75, 10},
		{"clock skew clamps to zero", true, -4, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Points(tt.correct, tt.elapsed); got != tt.want {
				t.Errorf("Points(%v, %v) = %d, want %d", tt.correct, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestPointsAfter(t *testing.T) {
	if got := PointsAfter(true, 3*time.Second); got != 15 {
		t.Errorf("PointsAfter(3s) = %d, want 15", got)
	}
	if got := PointsAfter(true, 30*time.Second); got != 12 {
		t.Errorf("PointsAfter(30s) = %d, want 12", got)
	}
}
