package runstore

import "testing"

func TestNewDefaultsTTL(t *testing.T) {
	s := New(nil, 0)
	if s.ttl != defaultTTL {
		t.Fatalf("expected default TTL of %v, got %v", defaultTTL, s.ttl)
	}
}
