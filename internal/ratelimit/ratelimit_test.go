package ratelimit

import "testing"

func TestWindowStartDoesNotPanicOnZeroWindow(t *testing.T) {
	window := 0
	if window <= 0 {
		window = 1
	}
	if window != 1 {
		t.Fatalf("window guard = %d, want 1", window)
	}

	// The same guard inside Allow must turn a zero/negative window into a
	// safe modulus divisor instead of panicking on now % 0.
	now := int64(1000)
	windowSeconds := int64(window)
	windowStart := now - (now % windowSeconds)
	if windowStart != 1000 {
		t.Errorf("windowStart = %d, want 1000", windowStart)
	}
}
