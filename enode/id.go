// Package enode provides the ENR/NodeId types the rest of this module treats
// as an external collaborator. Only the accessors the core needs
// (NodeId/Seq/PublicKey/UDPEndpoint) and the XOR distance metric are
// implemented here; signing, parsing and the wire encoding of a record
// remain outside this module's scope.
package enode

import (
	"bytes"
	"encoding/hex"
	"math/bits"
	"net/netip"

	"golang.org/x/crypto/sha3"
)

// ID is a fixed-width NodeId, derived (by the external ENR collaborator)
// from a node's public key.
type ID [32]byte

// IDBits is the bit width of an ID. LogDist ranges over 0..IDBits
// inclusive, so there are IDBits+1 possible LogDist buckets.
const IDBits = 256

// String renders the id as a hex string, matching go-ethereum's enode.ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// TerminalString formats a shortened id for logging.
func (id ID) TerminalString() string {
	return hex.EncodeToString(id[:8])
}

// IDFromPubkey derives a NodeId as the Keccak256 hash of the encoded public
// key bytes exactly as passed in. The key is not parsed or decompressed, so
// the id equals go-ethereum's only when the caller passes the uncompressed
// point; the daemon passes the compressed encoding. Everything else about a node's ENR is handled by an external
// collaborator, but a local node still needs to turn its own key into an id
// at startup.
func IDFromPubkey(pub []byte) ID {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// LogDist returns the logarithmic distance between a and b: the bit length
// of a XOR b (the 1-based position of its highest set bit, so 1 when only
// the lowest bit differs and 256 when the top bit differs), or 0 if a == b. This is the distance
// metric used to bucket peers in the routing table and to order
// closestPeers in the lookup engine.
func LogDist(a, b ID) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		lz += bits.LeadingZeros8(x)
		break
	}
	return len(a)*8 - lz
}

// DistCmp compares the distances of a and b to target, returning -1 if a is
// closer, 1 if b is closer, 0 if equidistant. Used to keep closestPeers
// ordered ascending by distance to target.
func DistCmp(target, a, b ID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Distance is the exact XOR distance between two ids, used by the Lookup
// Engine as the closestPeers map key: distance(target, peer) maps to a
// LookupPeer. Unlike LogDist's bucket index,
// this never collides between distinct peers, and two Distance values
// compare in the same order as the underlying XOR metric when compared
// bytewise, so closestPeers can be walked in ascending distance order by
// sorting its keys with bytes.Compare.
type Distance [32]byte

// XOR computes the distance between target and id.
func XOR(target, id ID) Distance {
	var d Distance
	for i := range target {
		d[i] = target[i] ^ id[i]
	}
	return d
}

// Less reports whether d represents a closer distance than other.
func (d Distance) Less(other Distance) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// Node is the external ENR collaborator: a signed, versioned node record.
// Only the fields the Session Service and Lookup Engine consume are
// modeled; actual signature verification and the RLP wire encoding belong
// to the (out of scope) ENR codec. PublicKey is kept as the raw encoded
// point (compressed secp256k1, as produced by v5wire.SessionCodec) rather
// than a parsed key, since nothing in this module needs to do arithmetic
// on it directly — only hand it to the Crypto collaborator.
type Node struct {
	id       ID
	seq      uint64
	pub      []byte
	endpoint netip.AddrPort
}

// NewNode constructs an ENR value. The caller (ENR collaborator) is
// responsible for having verified the signature that produced these
// fields; this module never does so.
func NewNode(id ID, seq uint64, pub []byte, endpoint netip.AddrPort) *Node {
	return &Node{id: id, seq: seq, pub: pub, endpoint: endpoint}
}

func (n *Node) ID() ID                      { return n.id }
func (n *Node) Seq() uint64                 { return n.seq }
func (n *Node) PublicKey() []byte           { return n.pub }
func (n *Node) UDPEndpoint() netip.AddrPort { return n.endpoint }

// WithSeq returns a copy of n with a bumped sequence number and a new
// endpoint, as happens when a node re-signs its record after its address
// changes.
func (n *Node) WithSeq(seq uint64, endpoint netip.AddrPort) *Node {
	return &Node{id: n.id, seq: seq, pub: n.pub, endpoint: endpoint}
}
