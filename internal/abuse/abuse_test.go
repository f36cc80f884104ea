package abuse

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		v, min, max, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{11, 1, 10, 10},
		{-5, 1, 24 * 60, 1},
		{99999, 1, 200, 200},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.min, tt.max); got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestClampUsesSpecBounds(t *testing.T) {
	if got := Clamp(0, SuspectsWindowMin, SuspectsWindowMax); got != SuspectsWindowMin {
		t.Errorf("window clamp floor = %d, want %d", got, SuspectsWindowMin)
	}
	if got := Clamp(999999999, SuspectsMinUnauthMin, SuspectsMinUnauthMax); got != SuspectsMinUnauthMax {
		t.Errorf("min_unauth_401 clamp ceiling = %d, want %d", got, SuspectsMinUnauthMax)
	}
	if got := Clamp(0, NearQuotaLimitMin, NearQuotaLimitMax); got != NearQuotaLimitMin {
		t.Errorf("near-quota clamp floor = %d, want %d", got, NearQuotaLimitMin)
	}
}
