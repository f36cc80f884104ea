package usage

import "testing"

func TestErrorRate(t *testing.T) {
	tests := []struct {
		errs, count int64
		want        float64
	}{
		{0, 0, 0},
		{5, 10, 0.5},
		{1, 3, 0.33},
		{0, 10, 0},
	}
	for _, tt := range tests {
		if got := errorRate(tt.errs, tt.count); got != tt.want {
			t.Errorf("errorRate(%d, %d) = %v, want %v", tt.errs, tt.count, got, tt.want)
		}
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		v    float64
		want float64
	}{
		{0.3333333, 0.33},
		{0.666666, 0.67},
		{1.0, 1.0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := round2(tt.v); got != tt.want {
			t.Errorf("round2(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestDeref(t *testing.T) {
	if got := deref(nil); got != 0 {
		t.Errorf("deref(nil) = %d, want 0", got)
	}
	v := int64(42)
	if got := deref(&v); got != 42 {
		t.Errorf("deref(&42) = %d, want 42", got)
	}
}
