package discover

import (
	"net/netip"
	"time"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/mclock"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

// RequestID identifies a pending request within a destination address's
// inner map. The empty RequestID is reserved for handshake packets that
// carry no application message.
type RequestID string

// PendingRequest is a packet sent to a destination, tracked until it is
// correlated with a response, its retries are exhausted, or its session is
// dropped.
type PendingRequest struct {
	DstID   enode.ID
	Dst     netip.AddrPort
	Packet  v5wire.Packet
	Message *Message // originating application message, nil for handshake packets
	Retries int

	authTag v5wire.Nonce // token a WHOAREYOU reply to this entry must match
	timer   mclock.Timer
}

// requestTimeoutEvent is delivered to the Service's event loop when a
// pending request's timer fires, so retry/drop decisions are always made
// on the single reactor goroutine, never inside the timer's own goroutine.
type requestTimeoutEvent struct {
	addr  netip.AddrPort
	id    RequestID
	entry *PendingRequest // identity-checked against the live entry so a
	// timer fire from a request that was already retired or rearmed is a no-op.
}

// pendingTable is the Pending Request Table: a two-level map,
// Multiaddr -> (RequestId -> PendingRequest), because a WHOAREYOU reply
// carries no source node id and must be correlated by source address
// alone.
type pendingTable struct {
	clock   mclock.Clock
	timeout time.Duration
	notify  func(requestTimeoutEvent)

	byAddr map[string]map[RequestID]*PendingRequest
}

func newPendingTable(clock mclock.Clock, timeout time.Duration, notify func(requestTimeoutEvent)) *pendingTable {
	return &pendingTable{
		clock:   clock,
		timeout: timeout,
		notify:  notify,
		byAddr:  make(map[string]map[RequestID]*PendingRequest),
	}
}

// insert tracks a newly sent packet and arms its retransmission timer.
func (t *pendingTable) insert(dst netip.AddrPort, id RequestID, entry *PendingRequest) {
	key := dst.String()
	inner, ok := t.byAddr[key]
	if !ok {
		inner = make(map[RequestID]*PendingRequest)
		t.byAddr[key] = inner
	}
	inner[id] = entry
	t.arm(dst, id, entry)
}

func (t *pendingTable) arm(dst netip.AddrPort, id RequestID, entry *PendingRequest) {
	entry.timer = t.clock.AfterFunc(t.timeout, func() {
		t.notify(requestTimeoutEvent{addr: dst, id: id, entry: entry})
	})
}

// get looks up a pending request by exact (address, id).
func (t *pendingTable) get(dst netip.AddrPort, id RequestID) *PendingRequest {
	inner, ok := t.byAddr[dst.String()]
	if !ok {
		return nil
	}
	return inner[id]
}

// findByAuthTag scans the entries at addr for one whose authTag matches
// tok: the WHOAREYOU correlation rule, since a WHOAREYOU reply has no
// source node id to key off of. O(pending for that address).
func (t *pendingTable) findByAuthTag(addr netip.AddrPort, tok v5wire.Nonce) (RequestID, *PendingRequest, bool) {
	inner, ok := t.byAddr[addr.String()]
	if !ok {
		return "", nil, false
	}
	for id, e := range inner {
		if e.authTag == tok {
			return id, e, true
		}
	}
	return "", nil, false
}

// remove retires a pending entry and cancels its timer.
func (t *pendingTable) remove(dst netip.AddrPort, id RequestID) {
	key := dst.String()
	inner, ok := t.byAddr[key]
	if !ok {
		return
	}
	if e, ok := inner[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(inner, id)
	}
	if len(inner) == 0 {
		delete(t.byAddr, key)
	}
}

// rearm resets an entry's timer after a retransmission, without touching
// its position in the map.
func (t *pendingTable) rearm(dst netip.AddrPort, id RequestID, entry *PendingRequest) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	t.arm(dst, id, entry)
}

// forAddr iterates every pending entry for a given address.
func (t *pendingTable) forAddr(addr netip.AddrPort, fn func(id RequestID, e *PendingRequest)) {
	inner := t.byAddr[addr.String()]
	for id, e := range inner {
		fn(id, e)
	}
}

// hasPendingFor reports whether any pending request, at any address, targets
// dstID. Used by the session store's expiry sweep to extend rather than
// drop a session that still has a request outstanding.
func (t *pendingTable) hasPendingFor(dstID enode.ID) bool {
	for _, inner := range t.byAddr {
		for _, e := range inner {
			if e.DstID == dstID {
				return true
			}
		}
	}
	return false
}

// clear stops every armed timer and drops every pending entry, used by
// Service.Stop to tear the table down.
func (t *pendingTable) clear() {
	for _, inner := range t.byAddr {
		for _, e := range inner {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
	}
	t.byAddr = make(map[string]map[RequestID]*PendingRequest)
}

// removeAllAt drops and cancels every pending entry at addr.
// Returns the removed entries, since callers typically need to fail them.
func (t *pendingTable) removeAllAt(addr netip.AddrPort) []*PendingRequest {
	inner, ok := t.byAddr[addr.String()]
	if !ok {
		return nil
	}
	out := make([]*PendingRequest, 0, len(inner))
	for _, e := range inner {
		if e.timer != nil {
			e.timer.Stop()
		}
		out = append(out, e)
	}
	delete(t.byAddr, addr.String())
	return out
}
