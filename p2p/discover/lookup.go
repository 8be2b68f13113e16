package discover

import (
	"sort"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/metrics"
)

// LookupPeerState is the per-peer state of an iterative lookup.
type LookupPeerState byte

const (
	NotContacted LookupPeerState = iota
	PendingIteration
	Waiting
	Succeeded
	Failed
)

func (s LookupPeerState) String() string {
	switch s {
	case NotContacted:
		return "NotContacted"
	case PendingIteration:
		return "PendingIteration"
	case Waiting:
		return "Waiting"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "Invalid"
	}
}

// LookupPeer tracks one candidate's progress through the query.
type LookupPeer struct {
	ID            enode.ID
	Iteration     int
	PeersReturned int
	State         LookupPeerState
}

// lookupState is the query's own overall state (distinct from any one
// peer's LookupPeerState).
type lookupState byte

const (
	Iterating lookupState = iota
	Stalled
	Finished
)

// LookupEventKind discriminates the two events a Lookup emits.
type LookupEventKind byte

const (
	// LookupEventPeer: the driver should issue a FINDNODE to Peer.
	LookupEventPeer LookupEventKind = iota
	// LookupEventFinished: the query is complete; FinishedIDs is ordered
	// nearest-first.
	LookupEventFinished
)

// LookupEvent is the Lookup Engine's tagged event, delivered on the
// channel returned by Lookup.Events (the same small-tagged-message shape
// as the Session Service's Event).
type LookupEvent struct {
	Kind LookupEventKind

	// LookupEventPeer
	Peer enode.ID

	// LookupEventFinished
	FinishedIDs []enode.ID
}

const lookupEventBacklog = 64

// Lookup is one iterative Kademlia-style closest-node search: bounded
// parallelism (alpha) while Iterating, widened to k once Stalled, with
// per-peer multi-iteration retries bounded by beta.
type Lookup struct {
	target enode.ID
	alpha  int
	k      int
	beta   int

	state      lookupState
	noProgress int
	numWaiting int

	closestPeers  map[enode.Distance]*LookupPeer
	untrustedEnrs map[enode.ID]*enode.Node

	events  chan LookupEvent
	done    bool
	metrics *metrics.Collector
}

// NewLookup seeds a query with up to k candidates from the routing table
// and the alpha/k/beta concurrency tunables.
func NewLookup(target enode.ID, seeds []enode.ID, alpha, k, beta int, mc *metrics.Collector) *Lookup {
	l := &Lookup{
		target:        target,
		alpha:         alpha,
		k:             k,
		beta:          beta,
		state:         Iterating,
		closestPeers:  make(map[enode.Distance]*LookupPeer),
		untrustedEnrs: make(map[enode.ID]*enode.Node),
		events:        make(chan LookupEvent, lookupEventBacklog),
		metrics:       mc,
	}
	for _, id := range seeds {
		d := enode.XOR(target, id)
		if _, exists := l.closestPeers[d]; !exists {
			l.closestPeers[d] = &LookupPeer{ID: id, State: NotContacted}
		}
	}
	return l
}

// Events returns the channel peer/finished events are delivered on.
func (l *Lookup) Events() <-chan LookupEvent {
	return l.events
}

// UntrustedENR returns an ENR the query discovered through a FINDNODE
// reply but that has not yet been verified by a trusted session.
func (l *Lookup) UntrustedENR(id enode.ID) (*enode.Node, bool) {
	n, ok := l.untrustedEnrs[id]
	return n, ok
}

// Start issues the initial batch of FINDNODEs, up to the parallelism
// bound: nextPeer's own ascending walk already contacts every eligible
// peer up to capacity in one pass, so a single call suffices.
func (l *Lookup) Start() {
	l.metrics.LookupStarted()
	l.nextPeer()
}

// Stop forces early termination: callers that own a lookup must stop it
// explicitly, which sets state to Finished and emits LookupEventFinished
// exactly once.
func (l *Lookup) Stop() {
	l.finish()
}

// OnSuccess records a successful reply from nodeID along with the closer
// peers it returned, advancing that peer's retry state and the query's
// overall progress.
func (l *Lookup) OnSuccess(nodeID enode.ID, closerPeers []*enode.Node) {
	if l.state == Finished {
		return
	}
	if peer, ok := l.closestPeers[enode.XOR(l.target, nodeID)]; ok && peer.State == Waiting {
		l.numWaiting--
		peer.PeersReturned += len(closerPeers)
		switch {
		case peer.PeersReturned >= l.k:
			peer.State = Succeeded
		case peer.Iteration == l.beta:
			if peer.PeersReturned > 0 {
				peer.State = Succeeded
			} else {
				peer.State = Failed
			}
		default:
			peer.Iteration++
			peer.State = PendingIteration
		}
	}

	progress := l.insertCloserPeers(closerPeers)

	switch l.state {
	case Iterating:
		if progress {
			l.noProgress = 0
		} else {
			l.noProgress++
			if l.noProgress >= l.alpha*l.beta {
				l.state = Stalled
			}
		}
	case Stalled:
		if progress {
			l.state = Iterating
			l.noProgress = 0
		}
	}

	l.nextPeer()
}

// insertCloserPeers adds each not-yet-known peer to closestPeers and
// reports whether doing so made progress. The closest-known distance and
// total-known count are recomputed after each individual insertion rather
// than once for the whole batch, since an earlier insertion in the same
// batch can change whether a later one still counts as progress.
func (l *Lookup) insertCloserPeers(closerPeers []*enode.Node) bool {
	progress := false
	for _, cp := range closerPeers {
		d := enode.XOR(l.target, cp.ID())
		if _, exists := l.closestPeers[d]; exists {
			continue
		}
		totalBefore := len(l.closestPeers)
		if closest, ok := l.closestDistance(); !ok || d.Less(closest) || totalBefore < l.k {
			progress = true
		}
		l.closestPeers[d] = &LookupPeer{ID: cp.ID(), State: NotContacted}
		l.untrustedEnrs[cp.ID()] = cp
	}
	return progress
}

func (l *Lookup) closestDistance() (enode.Distance, bool) {
	var min enode.Distance
	found := false
	for d := range l.closestPeers {
		if !found || d.Less(min) {
			min = d
			found = true
		}
	}
	return min, found
}

// OnFailure marks nodeID as failed if the query is still waiting on it,
// then schedules the next eligible peer.
func (l *Lookup) OnFailure(nodeID enode.ID) {
	if l.state == Finished {
		return
	}
	if peer, ok := l.closestPeers[enode.XOR(l.target, nodeID)]; ok && peer.State == Waiting {
		peer.State = Failed
		l.numWaiting--
	}
	l.nextPeer()
}

// atCapacity reports whether the query has as many outstanding requests as
// its current state allows.
func (l *Lookup) atCapacity() bool {
	switch l.state {
	case Stalled:
		return l.numWaiting >= l.k
	case Finished:
		return true
	default:
		return l.numWaiting >= l.alpha
	}
}

// nextPeer walks closestPeers in ascending distance to target, contacting
// every eligible peer until capacity is reached or the query terminates.
func (l *Lookup) nextPeer() {
	if l.state == Finished {
		return
	}
	resultCounter := 0
	sawEligible := false

	for _, peer := range l.sortedPeers() {
		switch peer.State {
		case NotContacted, PendingIteration:
			sawEligible = true
			if l.atCapacity() {
				return
			}
			peer.State = Waiting
			l.numWaiting++
			l.events <- LookupEvent{Kind: LookupEventPeer, Peer: peer.ID}
		case Waiting:
			resultCounter = -1
		case Succeeded:
			if resultCounter >= 0 {
				resultCounter++
				if resultCounter >= l.k {
					l.finish()
					return
				}
			}
		case Failed:
			// skipped
		}
	}

	if l.numWaiting == 0 && !sawEligible {
		l.finish()
	}
}

// sortedPeers returns every known peer ordered ascending by distance to
// target; closestPeers' keys already sort bytewise in that order.
func (l *Lookup) sortedPeers() []*LookupPeer {
	dists := make([]enode.Distance, 0, len(l.closestPeers))
	for d := range l.closestPeers {
		dists = append(dists, d)
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].Less(dists[j]) })
	peers := make([]*LookupPeer, len(dists))
	for i, d := range dists {
		peers[i] = l.closestPeers[d]
	}
	return peers
}

// finish transitions to Finished and emits exactly one LookupEventFinished,
// ordered ascending by distance to target (testable properties 6 and 7).
func (l *Lookup) finish() {
	if l.done {
		return
	}
	l.done = true
	l.state = Finished
	var ids []enode.ID
	for _, peer := range l.sortedPeers() {
		if peer.State == Succeeded {
			ids = append(ids, peer.ID)
		}
	}
	l.metrics.LookupFinished()
	l.events <- LookupEvent{Kind: LookupEventFinished, FinishedIDs: ids}
}
