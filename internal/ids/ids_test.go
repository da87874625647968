package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestPrefixedIDsCarryTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	for _, id := range []string{Request(), Connection()} {
		if !strings.HasPrefix(id, "req_") && !strings.HasPrefix(id, "ws_") {
			t.Fatalf("unexpected prefix: %s", id)
		}
		ts, ok := Time(id)
		if !ok {
			t.Fatalf("Time(%q) failed", id)
		}
		if ts.Before(before) {
			t.Fatalf("embedded time %v too old", ts)
		}
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}
