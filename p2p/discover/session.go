package discover

import (
	"net/netip"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

// SessionState is the per-peer handshake/established state machine.
type SessionState byte

const (
	// WhoAreYouSent: we challenged this peer and await their Handshake.
	WhoAreYouSent SessionState = iota
	// RandomSent: we sent a Random packet and await their Whoareyou.
	RandomSent
	// AwaitingResponse: keys derived, not yet confirmed by a decrypt.
	AwaitingResponse
	// Established: keys confirmed; may still be untrusted.
	Established
)

func (s SessionState) String() string {
	switch s {
	case WhoAreYouSent:
		return "WhoAreYouSent"
	case RandomSent:
		return "RandomSent"
	case AwaitingResponse:
		return "AwaitingResponse"
	case Established:
		return "Established"
	default:
		return "Invalid"
	}
}

// handshakeScratch holds state that is only read while a handshake is in
// flight; it is left in place, unused, once the session reaches
// Established.
type handshakeScratch struct {
	idNonce      [16]byte
	ephemeralKey v5wire.EphemeralKey
}

// Session is the per-peer handshake/established state machine. A Session
// never outlives the Store entry that owns it; the Pending Request Table
// and Service only ever reference it by NodeId, never by pointer across a
// suspension point, to avoid a reference cycle through the store.
type Session struct {
	remoteID enode.ID
	state    SessionState

	keys SessionKeyPair

	remoteENR         *enode.Node
	lastSeenMultiaddr netip.AddrPort
	trusted           bool

	handshake handshakeScratch
}

// SessionKeyPair holds the two AES-GCM keys a session uses: ours encrypts
// what we send, theirs decrypts what we receive.
type SessionKeyPair struct {
	OurKey   [16]byte
	TheirKey [16]byte
}

func newRandomSentSession(remoteID enode.ID) *Session {
	return &Session{remoteID: remoteID, state: RandomSent}
}

func newWhoAreYouSentSession(remoteID enode.ID, idNonce [16]byte) *Session {
	return &Session{
		remoteID:  remoteID,
		state:     WhoAreYouSent,
		handshake: handshakeScratch{idNonce: idNonce},
	}
}

// isTrustedEstablished reports whether the session may carry requests.
func (s *Session) isTrustedEstablished() bool {
	return s.state == Established && s.trusted
}

// reevaluateTrust recomputes the trust invariant: a session is trusted iff
// the cached remote ENR's UDP endpoint equals the last observed source
// address. Returns whether trust flipped to true.
func (s *Session) reevaluateTrust() (becameTrusted bool) {
	was := s.trusted
	if s.remoteENR != nil {
		s.trusted = s.remoteENR.UDPEndpoint() == s.lastSeenMultiaddr
	} else {
		s.trusted = false
	}
	return !was && s.trusted
}

// setRemoteENR updates the cached ENR and re-evaluates trust, since trust
// is re-evaluated whenever either side of the comparison changes.
func (s *Session) setRemoteENR(n *enode.Node) (becameTrusted bool) {
	s.remoteENR = n
	return s.reevaluateTrust()
}

// setLastSeen updates the observed source address and re-evaluates trust.
func (s *Session) setLastSeen(addr netip.AddrPort) (becameTrusted bool) {
	s.lastSeenMultiaddr = addr
	return s.reevaluateTrust()
}
