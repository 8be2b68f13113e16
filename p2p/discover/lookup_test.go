package discover_test

import (
	"net/netip"
	"testing"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/p2p/discover"
)

// idByte builds a deterministic enode.ID whose leading byte is b, so that
// with a zero target its XOR distance ordering matches plain byte order —
// convenient for hand-verified ascending/descending assertions.
func idByte(b byte) enode.ID {
	var id enode.ID
	id[0] = b
	return id
}

// drainAvailable non-blockingly collects every event currently buffered on
// a Lookup's channel. Since nextPeer runs synchronously inside Start,
// OnSuccess and OnFailure, every event a call produces is already enqueued
// by the time that call returns — there is no race to drain against.
func drainAvailable(lk *discover.Lookup) (peers []enode.ID, finished *discover.LookupEvent) {
	for {
		select {
		case ev := <-lk.Events():
			switch ev.Kind {
			case discover.LookupEventPeer:
				peers = append(peers, ev.Peer)
			case discover.LookupEventFinished:
				e := ev
				finished = &e
			}
		default:
			return
		}
	}
}

// TestLookupTerminatesWithEmptyReplies covers Testable Property 6: a lookup
// over a finite seed set terminates with exactly one finished event, even
// when every contacted peer returns nothing new (the worst case for
// convergence, since no reply ever makes progress).
func TestLookupTerminatesWithEmptyReplies(t *testing.T) {
	target := enode.ID{}
	seeds := []enode.ID{idByte(1), idByte(2), idByte(3), idByte(4), idByte(5)}
	const alpha, k, beta = 2, 3, 1

	lk := discover.NewLookup(target, seeds, alpha, k, beta, nil)
	lk.Start()

	queue, finished := drainAvailable(lk)
	if len(queue) != alpha {
		t.Fatalf("Start() contacted %d peers, want alpha=%d", len(queue), alpha)
	}
	if finished != nil {
		t.Fatalf("lookup finished before any peer was contacted")
	}

	rounds := 0
	for finished == nil {
		if len(queue) == 0 {
			t.Fatalf("lookup stalled: nothing outstanding and no finish event")
		}
		rounds++
		if rounds > 200 {
			t.Fatalf("lookup did not converge within %d rounds", rounds)
		}
		peer := queue[0]
		queue = queue[1:]
		lk.OnSuccess(peer, nil)
		more, f := drainAvailable(lk)
		queue = append(queue, more...)
		if f != nil {
			finished = f
		}
	}

	if len(finished.FinishedIDs) != 0 {
		t.Fatalf("expected no successful peers from all-empty replies, got %v", finished.FinishedIDs)
	}

	if _, f := drainAvailable(lk); f != nil {
		t.Fatalf("received a second finished event")
	}
}

// TestLookupFinishedResultsSortedAndCapped verifies that FinishedIDs is
// ordered ascending by XOR distance to the target and that its length
// never exceeds k.
func TestLookupFinishedResultsSortedAndCapped(t *testing.T) {
	target := enode.ID{}
	seeds := []enode.ID{idByte(9), idByte(3), idByte(5), idByte(1)}
	const alpha, k, beta = 2, 3, 1

	lk := discover.NewLookup(target, seeds, alpha, k, beta, nil)
	lk.Start()

	queue, finished := drainAvailable(lk)
	nextID := 200

	rounds := 0
	for finished == nil {
		if len(queue) == 0 {
			t.Fatalf("lookup stalled: nothing outstanding and no finish event")
		}
		rounds++
		if rounds > 200 {
			t.Fatalf("lookup did not converge within %d rounds", rounds)
		}
		peer := queue[0]
		queue = queue[1:]

		// Every reply hands back k brand-new, never-before-seen peers, so
		// every contacted peer reaches numResults on its first reply. Each
		// synthetic peer's id[0] is pinned far above every seed's, so it
		// always sorts after the real seeds in ascending XOR-distance-from-
		// target order and never displaces them from the front of the walk;
		// otherwise the pool would keep growing with ever-closer entries and
		// the bounded-alpha capacity check could return before nextPeer ever
		// reaches a real seed, and the lookup would never converge.
		closer := make([]*enode.Node, 0, k)
		for i := 0; i < k; i++ {
			nextID++
			var id enode.ID
			id[0] = 200
			id[1] = byte(nextID)
			closer = append(closer, enode.NewNode(id, 1, nil, netip.AddrPort{}))
		}
		lk.OnSuccess(peer, closer)

		more, f := drainAvailable(lk)
		queue = append(queue, more...)
		if f != nil {
			finished = f
		}
	}

	if len(finished.FinishedIDs) == 0 {
		t.Fatalf("expected at least one successful peer")
	}
	if len(finished.FinishedIDs) > k {
		t.Fatalf("numResults exceeded k=%d: got %d", k, len(finished.FinishedIDs))
	}
	for i := 1; i < len(finished.FinishedIDs); i++ {
		prev, cur := finished.FinishedIDs[i-1], finished.FinishedIDs[i]
		if !enode.XOR(target, prev).Less(enode.XOR(target, cur)) {
			t.Fatalf("finished ids not ascending by distance: %v", finished.FinishedIDs)
		}
	}
}

// TestLookupFailedAndSucceededPeersShapeResults checks that a peer which
// fails outright is excluded from the result set, one that hands back
// enough fresh peers on its first reply is included, and peers discovered
// only through that reply but which themselves never produce anything are
// excluded too.
func TestLookupFailedAndSucceededPeersShapeResults(t *testing.T) {
	target := enode.ID{}
	id1, id2 := idByte(1), idByte(2)
	const alpha, k, beta = 2, 2, 1

	lk := discover.NewLookup(target, []enode.ID{id1, id2}, alpha, k, beta, nil)
	lk.Start()

	initial, finished := drainAvailable(lk)
	if len(initial) != 2 {
		t.Fatalf("Start() contacted %d peers, want 2", len(initial))
	}
	if finished != nil {
		t.Fatalf("lookup finished before any reply")
	}

	lk.OnFailure(id1)

	closer := []*enode.Node{
		enode.NewNode(idByte(50), 1, nil, netip.AddrPort{}),
		enode.NewNode(idByte(51), 1, nil, netip.AddrPort{}),
	}
	lk.OnSuccess(id2, closer)

	queue, f := drainAvailable(lk)
	if f != nil {
		finished = f
	}

	rounds := 0
	for finished == nil {
		if len(queue) == 0 {
			t.Fatalf("lookup stalled: nothing outstanding and no finish event")
		}
		rounds++
		if rounds > 200 {
			t.Fatalf("lookup did not converge within %d rounds", rounds)
		}
		peer := queue[0]
		queue = queue[1:]
		lk.OnSuccess(peer, nil)
		more, f := drainAvailable(lk)
		queue = append(queue, more...)
		if f != nil {
			finished = f
		}
	}

	if len(finished.FinishedIDs) != 1 || finished.FinishedIDs[0] != id2 {
		t.Fatalf("expected only id2 to succeed, got %v", finished.FinishedIDs)
	}
}
