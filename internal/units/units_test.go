package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("expected %q to be valid", u)
		}
	}
	if IsValid("furlong") {
		t.Error("expected furlong to be invalid")
	}
	if IsValid("") {
		t.Error("expected empty unit to be invalid")
	}
}

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name  string
		cm    float64
		units string
		want  float64
	}{
		{"cm passthrough", 250, CM, 250},
		{"cm to metres", 250, M, 2.5},
		{"cm to feet", 100, FT, 3.28084},
		{"unknown unit defaults to cm", 42, "parsec", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertDistance(tt.cm, tt.units)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("ConvertDistance(%v, %q) = %v, want %v", tt.cm, tt.units, got, tt.want)
			}
		})
	}
}
