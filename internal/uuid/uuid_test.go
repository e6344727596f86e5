package uuid

import (
	"testing"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if len(id1) == 0 {
		t.Error("UUID should not be empty")
	}

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}
}

func TestNewOrdered(t *testing.T) {
	prev := NewOrdered()
	for i := 0; i < 100; i++ {
		next := NewOrdered()
		if next == prev {
			t.Fatal("ordered UUIDs should be unique")
		}
		if next < prev {
			t.Fatalf("ordered UUIDs should sort by creation: %s < %s", next, prev)
		}
		prev = next
	}
}
