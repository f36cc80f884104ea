package admin

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, min, max, want int
	}{
		{5, 1, 10, 5},
		{-5, 1, 10, 1},
		{50, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.v, tt.min, tt.max); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		seconds int
		want    int
	}{
		{600, 600},
		{1, 10},               // below the 10s floor
		{10 * 24 * 3600, 7 * 24 * 3600}, // above the 7-day ceiling
	}
	for _, tt := range tests {
		if got := clampTTL(tt.seconds); got != tt.want {
			t.Errorf("clampTTL(%d) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestQueryIntDefaultsOnBadInput(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=notanumber", nil)
	if got := queryInt(r, "limit", 20); got != 20 {
		t.Errorf("queryInt() = %d, want default 20", got)
	}

	r = httptest.NewRequest("GET", "/?limit=50", nil)
	if got := queryInt(r, "limit", 20); got != 50 {
		t.Errorf("queryInt() = %d, want 50", got)
	}
}

func TestResolveTimeRangeRejectsInvertedRange(t *testing.T) {
	now := time.Now().UTC()
	from := now.Format(time.RFC3339)
	to := now.Add(-time.Hour).Format(time.RFC3339)

	r := httptest.NewRequest("GET", "/?from_ts="+from+"&to_ts="+to, nil)
	w := httptest.NewRecorder()

	_, _, ok := resolveTimeRange(w, r)
	if ok {
		t.Fatal("resolveTimeRange() with from_ts > to_ts should return ok=false")
	}
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestResolveTimeRangeDefaultsToTrailing24h(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	from, to, ok := resolveTimeRange(w, r)
	if !ok {
		t.Fatal("resolveTimeRange() with no params should succeed")
	}
	if to.Sub(from) != 24*time.Hour {
		t.Errorf("default window = %v, want 24h", to.Sub(from))
	}
}
