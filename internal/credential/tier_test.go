package credential

import "testing"

func TestTiers(t *testing.T) {
	tests := []struct {
		name       string
		rateLimit  int
		rateWindow int
	}{
		{"free", 10, 60},
		{"pro", 120, 60},
		{"enterprise", 600, 60},
	}

	if len(Tiers) != len(tests) {
		t.Fatalf("Tiers has %d entries, want %d", len(Tiers), len(tests))
	}

	for _, tt := range tests {
		tier, ok := Tiers[tt.name]
		if !ok {
			t.Fatalf("missing tier %q", tt.name)
		}
		if tier.RateLimit != tt.rateLimit || tier.RateWindow != tt.rateWindow {
			t.Errorf("tier %q = (%d, %d), want (%d, %d)", tt.name, tier.RateLimit, tier.RateWindow, tt.rateLimit, tt.rateWindow)
		}
	}

	if _, ok := Tiers["superadmin"]; ok {
		t.Error("unexpected tier \"superadmin\" found")
	}
}
