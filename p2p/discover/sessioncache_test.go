package discover

import (
	"testing"
	"time"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/mclock"
)

func TestSessionStoreInsertGetRemove(t *testing.T) {
	clock := new(mclock.Simulated)
	store := newSessionStore(clock, time.Minute)

	id := enode.ID{1}
	if store.get(id) != nil {
		t.Fatalf("get on empty store returned non-nil")
	}

	sess := &Session{state: Established}
	store.insert(id, sess)
	if got := store.get(id); got != sess {
		t.Fatalf("get returned %v, want the inserted session", got)
	}
	if store.len() != 1 {
		t.Fatalf("len() = %d, want 1", store.len())
	}

	store.remove(id)
	if store.get(id) != nil {
		t.Fatalf("get after remove returned non-nil")
	}
	if store.len() != 0 {
		t.Fatalf("len() after remove = %d, want 0", store.len())
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	clock := new(mclock.Simulated)
	store := newSessionStore(clock, 50*time.Millisecond)

	id := enode.ID{2}
	store.insert(id, &Session{state: Established})

	clock.Run(25 * time.Millisecond)
	var expired []enode.ID
	store.forEachExpired(func(id enode.ID, sess *Session) {
		expired = append(expired, id)
	})
	if len(expired) != 0 {
		t.Fatalf("session expired before its timeout: %v", expired)
	}

	clock.Run(25 * time.Millisecond)
	store.forEachExpired(func(id enode.ID, sess *Session) {
		expired = append(expired, id)
	})
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("forEachExpired = %v, want [%v]", expired, id)
	}
}

func TestSessionStoreExtendTimeoutDelaysExpiry(t *testing.T) {
	clock := new(mclock.Simulated)
	store := newSessionStore(clock, 50*time.Millisecond)

	id := enode.ID{3}
	store.insert(id, &Session{state: Established})

	clock.Run(40 * time.Millisecond)
	store.extendTimeout(id)

	// The original deadline (at 50ms) has passed, but extendTimeout reset
	// it to now+50ms (=90ms), so the session must not be expired yet.
	clock.Run(10 * time.Millisecond)
	var expired []enode.ID
	store.forEachExpired(func(id enode.ID, sess *Session) { expired = append(expired, id) })
	if len(expired) != 0 {
		t.Fatalf("extendTimeout did not delay expiry: %v", expired)
	}

	clock.Run(40 * time.Millisecond)
	store.forEachExpired(func(id enode.ID, sess *Session) { expired = append(expired, id) })
	if len(expired) != 1 {
		t.Fatalf("session never expired after its extended deadline passed: %v", expired)
	}
}

func TestSessionStoreExtendTimeoutByArbitraryDuration(t *testing.T) {
	clock := new(mclock.Simulated)
	store := newSessionStore(clock, 10*time.Millisecond)

	id := enode.ID{4}
	store.insert(id, &Session{state: Established})
	store.extendTimeoutBy(id, time.Second)

	clock.Run(500 * time.Millisecond)
	var expired []enode.ID
	store.forEachExpired(func(id enode.ID, sess *Session) { expired = append(expired, id) })
	if len(expired) != 0 {
		t.Fatalf("extendTimeoutBy did not apply the requested duration: %v", expired)
	}
}

func TestSessionStoreClear(t *testing.T) {
	clock := new(mclock.Simulated)
	store := newSessionStore(clock, time.Minute)

	store.insert(enode.ID{5}, &Session{state: Established})
	store.insert(enode.ID{6}, &Session{state: Established})
	store.clear()

	if store.len() != 0 {
		t.Fatalf("len() after clear = %d, want 0", store.len())
	}
}
