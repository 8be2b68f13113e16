package main

import (
	"sync"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover"
)

// runner is the small glue type that wires the two halves of the daemon
// together: it consumes the Session Service's protocol-event stream and
// drives a Lookup Engine's FINDNODE calls through that same Service,
// feeding replies back into the lookup. The actual wire content of a
// FINDNODE/NODES exchange is out of scope here, so this runner issues and
// correlates empty-payload requests: it demonstrates the wiring between the
// two components without inventing a findnode protocol.
type runner struct {
	svc   *discover.Service
	table *discover.Table
	log   xlog.Logger

	// activeMu guards active: run's goroutine snapshots every active lookup
	// on every Service event, while each lookup's own goroutine (started in
	// startLookup) inserts and deletes its own entry concurrently.
	activeMu sync.Mutex
	active   map[enode.ID]*discover.Lookup
}

func newRunner(svc *discover.Service, table *discover.Table, log xlog.Logger) *runner {
	return &runner{
		svc:    svc,
		table:  table,
		log:    log,
		active: make(map[enode.ID]*discover.Lookup),
	}
}

// run consumes Service.Events() until the channel closes or stop fires,
// absorbing established peers into the routing table and passing
// request-lifecycle events on to every active Lookup.
func (r *runner) run(stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-r.svc.Events():
			if !ok {
				return
			}
			r.handle(ev)
		case <-stop:
			return
		}
	}
}

func (r *runner) handle(ev discover.Event) {
	switch ev.Kind {
	case discover.EventEstablished:
		r.table.Add(ev.ENR)
		r.log.Info("session established", "id", ev.ENR.ID(), "addr", ev.ENR.UDPEndpoint())
	case discover.EventMessage:
		// Every active lookup is notified. Only a lookup waiting on this
		// peer changes that peer's state; for every other lookup the call
		// still counts as a reply that made no progress (its noProgress
		// counter advances, which can move it to Stalled).
		for _, lk := range r.snapshotActive() {
			lk.OnSuccess(ev.SrcID, nil)
		}
	case discover.EventRequestFailed:
		for _, lk := range r.snapshotActive() {
			lk.OnFailure(ev.DstID)
		}
	case discover.EventWhoAreYouRequest:
		if err := r.svc.SendWhoAreYou(ev.From, ev.SrcID, 0, nil, ev.AuthTag); err != nil {
			r.log.Debug("send WHOAREYOU failed", "id", ev.SrcID, "err", err)
		}
	}
}

// startLookup seeds a query from the routing table's closest known peers
// and drains its peer events by issuing tracked, unanswered FINDNODE-shaped
// requests through the Session Service.
func (r *runner) startLookup(target enode.ID, alpha, k, beta int) *discover.Lookup {
	seeds := make([]enode.ID, 0, k)
	for _, n := range r.table.Closest(target, k) {
		seeds = append(seeds, n.ID())
	}
	lk := discover.NewLookup(target, seeds, alpha, k, beta, nil)

	r.activeMu.Lock()
	r.active[target] = lk
	r.activeMu.Unlock()

	go func() {
		for ev := range lk.Events() {
			switch ev.Kind {
			case discover.LookupEventPeer:
				r.sendFindNode(lk, ev.Peer)
			case discover.LookupEventFinished:
				r.activeMu.Lock()
				delete(r.active, target)
				r.activeMu.Unlock()
				r.log.Info("lookup finished", "target", target, "results", len(ev.FinishedIDs))
				return
			}
		}
	}()

	lk.Start()
	return lk
}

// snapshotActive returns the currently active lookups under activeMu's
// protection, so callers can notify them without holding the lock while a
// lookup's own event-draining goroutine concurrently mutates the map.
func (r *runner) snapshotActive() []*discover.Lookup {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	lookups := make([]*discover.Lookup, 0, len(r.active))
	for _, lk := range r.active {
		lookups = append(lookups, lk)
	}
	return lookups
}

func (r *runner) sendFindNode(lk *discover.Lookup, peer enode.ID) {
	known := r.table.Closest(peer, 1)
	if len(known) == 0 || known[0].ID() != peer {
		lk.OnFailure(peer)
		return
	}
	msg := &discover.Message{ID: discover.RequestID(peer.String())}
	if err := r.svc.SendRequest(known[0], msg); err != nil {
		lk.OnFailure(peer)
	}
}
