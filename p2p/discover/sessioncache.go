package discover

import (
	"time"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/mclock"
)

// sessionStore is a NodeId -> Session mapping with per-entry expiry,
// backed by timeoutMap.
type sessionStore struct {
	clock   mclock.Clock
	timeout time.Duration
	m       *timeoutMap[enode.ID, *Session]
}

func newSessionStore(clock mclock.Clock, timeout time.Duration) *sessionStore {
	return &sessionStore{clock: clock, timeout: timeout, m: newTimeoutMap[enode.ID, *Session]()}
}

func (s *sessionStore) get(id enode.ID) *Session {
	sess, ok := s.m.get(id)
	if !ok {
		return nil
	}
	return sess
}

func (s *sessionStore) insert(id enode.ID, sess *Session) {
	s.m.set(id, sess, s.clock.Now().Add(s.timeout))
}

func (s *sessionStore) remove(id enode.ID) {
	s.m.delete(id)
}

// extendTimeout pushes an entry's deadline out by the store's timeout,
// measured from now. Used when a handshake completes; the expiry sweep
// extends a session with a request outstanding through extendTimeoutBy.
func (s *sessionStore) extendTimeout(id enode.ID) {
	s.m.extend(id, s.clock.Now().Add(s.timeout))
}

// extendTimeoutBy extends a session's deadline by an arbitrary duration,
// used to keep a session alive rather than delete it out from under a
// request that is still outstanding.
func (s *sessionStore) extendTimeoutBy(id enode.ID, d time.Duration) {
	s.m.extend(id, s.clock.Now().Add(d))
}

// forEachExpired visits every session whose deadline has passed.
func (s *sessionStore) forEachExpired(fn func(id enode.ID, sess *Session)) {
	s.m.forEachExpired(s.clock.Now(), fn)
}

func (s *sessionStore) len() int {
	return s.m.len()
}

// clear drops every session, used by Service.Stop to tear down the store.
func (s *sessionStore) clear() {
	s.m.clear()
}
