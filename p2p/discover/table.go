package discover

import (
	"sort"
	"sync"

	"github.com/ndxnet/discv5/enode"
)

// defaultBucketSize mirrors the conventional Kademlia bucket size (k=16)
// used by most discv5 deployments.
const defaultBucketSize = 16

// Table is a minimal k-bucket routing table that feeds seed peers into the
// lookup engine. It owns no session state and never touches the Service's
// single-threaded reactor, so it guards its buckets with a mutex like any
// ordinary concurrent-safe collaborator.
type Table struct {
	mu         sync.Mutex
	localID    enode.ID
	bucketSize int
	buckets    [enode.IDBits + 1][]*enode.Node
}

// NewTable constructs an empty table for localID. bucketSize <= 0 selects
// defaultBucketSize.
func NewTable(localID enode.ID, bucketSize int) *Table {
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	return &Table{localID: localID, bucketSize: bucketSize}
}

func (t *Table) bucketIndex(id enode.ID) int {
	return enode.LogDist(t.localID, id)
}

// Add inserts or refreshes n in its bucket. A node already present moves
// to the back (most-recently-seen); a full bucket evicts its front
// (least-recently-seen) entry, the standard Kademlia replacement policy.
func (t *Table) Add(n *enode.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(n.ID())
	bucket := t.buckets[idx]
	for i, existing := range bucket {
		if existing.ID() == n.ID() {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	bucket = append(bucket, n)
	if len(bucket) > t.bucketSize {
		bucket = bucket[len(bucket)-t.bucketSize:]
	}
	t.buckets[idx] = bucket
}

// Remove drops id from its bucket, if present.
func (t *Table) Remove(id enode.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(id)
	bucket := t.buckets[idx]
	for i, existing := range bucket {
		if existing.ID() == id {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Closest returns up to k known nodes ordered ascending by XOR distance to
// target, used to seed a Lookup's closestPeers from the routing table.
func (t *Table) Closest(target enode.ID, k int) []*enode.Node {
	t.mu.Lock()
	all := make([]*enode.Node, 0, k*2)
	for _, bucket := range t.buckets {
		all = append(all, bucket...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return enode.DistCmp(target, all[i].ID(), all[j].ID()) < 0
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}
