package discover

import (
	"testing"

	"github.com/ndxnet/discv5/internal/mclock"
)

func TestTimeoutMapSetGetDelete(t *testing.T) {
	m := newTimeoutMap[string, int]()

	if _, ok := m.get("a"); ok {
		t.Fatalf("get on empty map returned ok=true")
	}

	m.set("a", 1, mclock.AbsTime(100))
	v, ok := m.get("a")
	if !ok || v != 1 {
		t.Fatalf("get(a) = (%d, %v), want (1, true)", v, ok)
	}
	if m.len() != 1 {
		t.Fatalf("len() = %d, want 1", m.len())
	}

	m.delete("a")
	if _, ok := m.get("a"); ok {
		t.Fatalf("get(a) after delete returned ok=true")
	}
	if m.len() != 0 {
		t.Fatalf("len() after delete = %d, want 0", m.len())
	}
}

func TestTimeoutMapExtend(t *testing.T) {
	m := newTimeoutMap[string, int]()

	if ok := m.extend("missing", mclock.AbsTime(10)); ok {
		t.Fatalf("extend on missing key returned true")
	}

	m.set("a", 1, mclock.AbsTime(10))
	if ok := m.extend("a", mclock.AbsTime(1000)); !ok {
		t.Fatalf("extend on present key returned false")
	}

	var expired []string
	m.forEachExpired(mclock.AbsTime(10), func(key string, value int) {
		expired = append(expired, key)
	})
	if len(expired) != 0 {
		t.Fatalf("entry fired as expired after its deadline was extended: %v", expired)
	}
}

func TestTimeoutMapClear(t *testing.T) {
	m := newTimeoutMap[string, int]()
	m.set("a", 1, mclock.AbsTime(10))
	m.set("b", 2, mclock.AbsTime(20))

	m.clear()
	if m.len() != 0 {
		t.Fatalf("len() after clear = %d, want 0", m.len())
	}
	if _, ok := m.get("a"); ok {
		t.Fatalf("get(a) after clear returned ok=true")
	}
}

func TestTimeoutMapForEachExpiredIsInclusiveAndOrderless(t *testing.T) {
	m := newTimeoutMap[string, int]()
	m.set("due", 1, mclock.AbsTime(100))
	m.set("exact", 2, mclock.AbsTime(200))
	m.set("future", 3, mclock.AbsTime(300))

	seen := map[string]bool{}
	m.forEachExpired(mclock.AbsTime(200), func(key string, value int) {
		seen[key] = true
	})

	if !seen["due"] || !seen["exact"] {
		t.Fatalf("expected both due and exact-deadline entries to fire, got %v", seen)
	}
	if seen["future"] {
		t.Fatalf("entry with a deadline after now fired early: %v", seen)
	}
}

func TestTimeoutMapForEachExpiredToleratesSelfDeletion(t *testing.T) {
	m := newTimeoutMap[string, int]()
	m.set("a", 1, mclock.AbsTime(10))
	m.set("b", 2, mclock.AbsTime(10))

	var fired []string
	m.forEachExpired(mclock.AbsTime(10), func(key string, value int) {
		fired = append(fired, key)
		// fn deleting the key it was just called with is the documented
		// pattern (e.g. a sweep that expires and removes in one step).
		m.delete(key)
	})

	if len(fired) != 2 {
		t.Fatalf("expected forEachExpired to visit both keys once each, got %v", fired)
	}
	if m.len() != 0 {
		t.Fatalf("expected both entries removed by fn, len() = %d", m.len())
	}
}
