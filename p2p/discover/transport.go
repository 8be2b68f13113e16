package discover

import "net/netip"

// InboundPacket is one datagram read off the wire, already associated with
// its source address.
type InboundPacket struct {
	From netip.AddrPort
	Data []byte
}

// Transport is the unreliable datagram transport the Session Service sits
// on top of. Loss, reorder, and duplication are all assumed possible. See
// the transport package for a concrete net.PacketConn-backed implementation.
type Transport interface {
	Start() error
	Stop() error
	Send(dst netip.AddrPort, data []byte) error
	Packets() <-chan InboundPacket
}
