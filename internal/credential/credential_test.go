package credential

import "testing"

func TestGenerate(t *testing.T) {
	plaintext, fingerprint, prefix, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if plaintext == "" {
		t.Fatal("expected non-empty plaintext")
	}
	if fingerprint != Fingerprint(plaintext) {
		t.Errorf("fingerprint mismatch: got %q, want %q", fingerprint, Fingerprint(plaintext))
	}
	if prefix != Prefix(plaintext) {
		t.Errorf("prefix mismatch: got %q, want %q", prefix, Prefix(plaintext))
	}

	// Two generated credentials must never collide in this test's lifetime.
	plaintext2, fingerprint2, _, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if plaintext == plaintext2 {
		t.Fatal("two Generate() calls produced the same plaintext")
	}
	if fingerprint == fingerprint2 {
		t.Fatal("two Generate() calls produced the same fingerprint")
	}
}

func TestFingerprint(t *testing.T) {
	// Deterministic: same input → same hash.
	h1 := Fingerprint("test-credential-123")
	h2 := Fingerprint("test-credential-123")
	if h1 != h2 {
		t.Fatalf("same plaintext produced different fingerprints: %q vs %q", h1, h2)
	}

	// Different input → different hash.
	h3 := Fingerprint("a-different-credential")
	if h1 == h3 {
		t.Fatal("different plaintexts produced the same fingerprint")
	}

	// SHA-256 produces a 64-char lowercase hex string.
	if len(h1) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(h1))
	}
	for _, r := range h1 {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("fingerprint %q is not lowercase hex", h1)
		}
	}
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		plaintext string
		want      string
	}{
		{"abcdefghijklmnop", "abcdefgh"},
		{"short", "short"},
		{"", ""},
		{"exactly8", "exactly8"},
	}
	for _, tt := range tests {
		if got := Prefix(tt.plaintext); got != tt.want {
			t.Errorf("Prefix(%q) = %q, want %q", tt.plaintext, got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	a := Fingerprint("same-secret")
	b := Fingerprint("same-secret")
	c := Fingerprint("different-secret")

	if !Equal(a, b) {
		t.Error("Equal() on matching fingerprints returned false")
	}
	if Equal(a, c) {
		t.Error("Equal() on mismatched fingerprints returned true")
	}
	if Equal(a, a[:len(a)-1]) {
		t.Error("Equal() on different-length strings returned true")
	}
}

func TestCredentialUsable(t *testing.T) {
	c := Credential{}
	if !c.Usable() {
		t.Error("a credential with no RevokedAt should be usable")
	}

	now := c.CreatedAt
	c.RevokedAt = &now
	if c.Usable() {
		t.Error("a credential with RevokedAt set should not be usable")
	}
}
