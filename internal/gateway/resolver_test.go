package gateway

import "testing"

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name          string
		authorization string
		wantToken     string
		wantOK        bool
	}{
		{"valid bearer", "Bearer abc123", "abc123", true},
		{"valid bearer with surrounding whitespace", "Bearer   abc123  ", "abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"bearer with no token", "Bearer ", "", false},
		{"bearer with only whitespace", "Bearer    ", "", false},
		{"case-sensitive scheme", "bearer abc123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := bearerToken(tt.authorization)
			if ok != tt.wantOK {
				t.Fatalf("bearerToken(%q) ok = %v, want %v", tt.authorization, ok, tt.wantOK)
			}
			if token != tt.wantToken {
				t.Errorf("bearerToken(%q) token = %q, want %q", tt.authorization, token, tt.wantToken)
			}
		})
	}
}

func TestUnauthenticatedDetail(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeMissing, "Missing API key"},
		{OutcomeRevoked, "API key revoked"},
		{OutcomeInvalid, "Invalid API key"},
		{Outcome("anything-else"), "Invalid API key"},
	}
	for _, tt := range tests {
		if got := unauthenticatedDetail(tt.outcome); got != tt.want {
			t.Errorf("unauthenticatedDetail(%q) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
