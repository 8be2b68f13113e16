package discover

import (
	"net/netip"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

// EventKind discriminates the tagged events the Session Service emits for
// the routing/protocol layer above.
type EventKind byte

const (
	// EventEstablished: trusted session created or promoted.
	EventEstablished EventKind = iota
	// EventMessage: a decoded inbound RPC.
	EventMessage
	// EventWhoAreYouRequest: upper layer should call SendWhoAreYou after
	// looking up any known ENR sequence for SrcID.
	EventWhoAreYouRequest
	// EventRequestFailed: retries exhausted or handshake abandoned.
	EventRequestFailed
)

// Event is a small tagged-message shape used in place of a dynamic
// named-event emitter: one struct, one Kind, delivered over a channel
// supplied at construction (Service.Events()).
type Event struct {
	Kind EventKind

	// EventEstablished
	ENR *enode.Node

	// EventMessage, EventWhoAreYouRequest
	SrcID enode.ID
	From  netip.AddrPort

	// EventMessage
	Message *Message

	// EventWhoAreYouRequest
	AuthTag v5wire.Nonce

	// EventRequestFailed
	DstID     enode.ID
	RequestID RequestID
}
