package cache

import (
	"context"
	"testing"
)

func TestDisabledClientIsAlwaysAMiss(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Enabled() {
		t.Fatalf("expected an empty connection string to produce a disabled client")
	}

	var dest string
	hit, err := c.Get(context.Background(), "k", &dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Fatalf("expected a miss on a disabled client")
	}

	if err := c.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set on disabled client should no-op, got %v", err)
	}
	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete on disabled client should no-op, got %v", err)
	}
}

func TestNewRejectsInvalidConnectionString(t *testing.T) {
	if _, err := New("not a valid redis url \x7f"); err == nil {
		t.Fatalf("expected an error for a malformed connection string")
	}
}
