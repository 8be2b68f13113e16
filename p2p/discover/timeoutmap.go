package discover

import "github.com/ndxnet/discv5/internal/mclock"

// timeoutEntry pairs a stored value with the absolute time it expires.
// timeoutMap is a generic "map whose entries carry individual deadlines"
// abstraction. Its only user is the session store, whose entries can have
// their deadline extended while the pending request table still holds a
// request for that peer; the pending request table keeps its own two-level
// map instead (see pending.go).
type timeoutEntry[V any] struct {
	value    V
	deadline mclock.AbsTime
}

// timeoutMap is a minimal unordered map with per-entry deadlines, swept by the owner's event loop rather than by one OS timer
// per entry (appropriate for the Session Store's coarse SESSION_TIMEOUT;
// the Pending Request Table instead arms a real mclock.Timer per entry,
// see pending.go, because REQUEST_TIMEOUT must fire precisely).
type timeoutMap[K comparable, V any] struct {
	entries map[K]*timeoutEntry[V]
}

func newTimeoutMap[K comparable, V any]() *timeoutMap[K, V] {
	return &timeoutMap[K, V]{entries: make(map[K]*timeoutEntry[V])}
}

func (m *timeoutMap[K, V]) get(key K) (V, bool) {
	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *timeoutMap[K, V]) set(key K, value V, deadline mclock.AbsTime) {
	m.entries[key] = &timeoutEntry[V]{value: value, deadline: deadline}
}

func (m *timeoutMap[K, V]) extend(key K, deadline mclock.AbsTime) bool {
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	e.deadline = deadline
	return true
}

func (m *timeoutMap[K, V]) delete(key K) {
	delete(m.entries, key)
}

func (m *timeoutMap[K, V]) len() int {
	return len(m.entries)
}

func (m *timeoutMap[K, V]) clear() {
	m.entries = make(map[K]*timeoutEntry[V])
}

// forEachExpired calls fn for every entry whose deadline is at or before
// now, in unspecified order. fn may delete the current key but must not
// mutate other entries of the map.
func (m *timeoutMap[K, V]) forEachExpired(now mclock.AbsTime, fn func(key K, value V)) {
	var expired []K
	for k, e := range m.entries {
		if e.deadline <= now {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		e, ok := m.entries[k]
		if !ok {
			continue // fn for an earlier key already removed it
		}
		fn(k, e.value)
	}
}
