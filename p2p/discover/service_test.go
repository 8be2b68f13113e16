package discover_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/mclock"
	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

// memNetwork routes Send calls between registered memTransports, standing
// in for a real UDP fabric. A destination with no registered transport, or
// one explicitly blackholed, silently drops the packet — modeling the
// "assume loss, reorder, duplication" contract of the Transport interface.
type memNetwork struct {
	mu      sync.Mutex
	peers   map[string]*memTransport
	drop    map[string]bool
	corrupt map[string]bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		peers:   make(map[string]*memTransport),
		drop:    make(map[string]bool),
		corrupt: make(map[string]bool),
	}
}

func (n *memNetwork) register(t *memTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[t.addr.String()] = t
}

// corruptNext flips a byte of the next packet delivered to addr, so a test
// can exercise a decrypt failure without reaching into Service internals.
// The flipped byte is the last byte of the encrypted payload: the very last
// byte of a gob-encoded packet is its end-of-struct marker, and flipping
// that would make the packet unparseable rather than undecryptable.
func (n *memNetwork) corruptNext(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.corrupt[addr.String()] = true
}

func (n *memNetwork) send(from, to netip.AddrPort, data []byte) error {
	n.mu.Lock()
	key := to.String()
	if n.drop[key] {
		n.mu.Unlock()
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if n.corrupt[key] {
		delete(n.corrupt, key)
		cp[len(cp)-2] ^= 0xff
	}
	dst := n.peers[key]
	n.mu.Unlock()

	if dst == nil {
		return nil
	}
	select {
	case dst.packets <- discover.InboundPacket{From: from, Data: cp}:
	default:
	}
	return nil
}

// memTransport implements discover.Transport over a memNetwork. It is the
// test double for transport.UDPTransport: Session Service tests never touch
// a real socket.
type memTransport struct {
	addr    netip.AddrPort
	net     *memNetwork
	packets chan discover.InboundPacket
}

func newMemTransport(net *memNetwork, addr netip.AddrPort) *memTransport {
	t := &memTransport{addr: addr, net: net, packets: make(chan discover.InboundPacket, 64)}
	net.register(t)
	return t
}

func (t *memTransport) Start() error { return nil }
func (t *memTransport) Stop() error  { return nil }

func (t *memTransport) Send(dst netip.AddrPort, data []byte) error {
	return t.net.send(t.addr, dst, data)
}

func (t *memTransport) Packets() <-chan discover.InboundPacket { return t.packets }

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

// newTestNode wires a Service to a FakeCrypto codec and a memTransport
// registered under addr, with an ENR advertising enrEndpoint (which callers
// may deliberately mismatch addr to exercise the trust invariant).
func newTestNode(t *testing.T, net *memNetwork, clock mclock.Clock, addr, enrEndpoint netip.AddrPort, cfg discover.Config) (*discover.Service, *enode.Node, *memTransport) {
	t.Helper()
	pub := []byte(addr.String())
	id := enode.IDFromPubkey(pub)
	n := enode.NewNode(id, 1, pub, enrEndpoint)

	tr := newMemTransport(net, addr)
	cfg.Clock = clock
	cfg.Log = xlog.Nop()
	cfg.Crypto = v5wire.FakeCrypto{}
	cfg.StaticKey = v5wire.FakeStaticKey{}

	svc := discover.NewService(n, tr, cfg)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return svc, n, tr
}

func waitForEvent(t *testing.T, ch <-chan discover.Event, kind discover.EventKind) discover.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

// TestServiceHandshakeEstablishesTrustedSession covers scenario S1: a clean
// three-packet handshake ending with both sides trusted-established and
// their original messages delivered, after which a second request flows
// without a new handshake.
func TestServiceHandshakeEstablishesTrustedSession(t *testing.T) {
	net := newMemNetwork()
	clock := new(mclock.Simulated)

	aAddr := mustAddr(t, "127.0.0.1:9001")
	bAddr := mustAddr(t, "127.0.0.1:9002")
	cfg := discover.Config{RequestRetries: 2}

	aSvc, _, _ := newTestNode(t, net, clock, aAddr, aAddr, cfg)
	bSvc, _, _ := newTestNode(t, net, clock, bAddr, bAddr, cfg)

	bENR := enode.NewNode(enode.IDFromPubkey([]byte(bAddr.String())), 1, []byte(bAddr.String()), bAddr)

	req := &discover.Message{ID: "req-1", Data: []byte("ping")}
	if err := aSvc.SendRequest(bENR, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	who := waitForEvent(t, bSvc.Events(), discover.EventWhoAreYouRequest)
	aENR := enode.NewNode(who.SrcID, 1, []byte(aAddr.String()), aAddr)
	if err := bSvc.SendWhoAreYou(aAddr, who.SrcID, 0, aENR, who.AuthTag); err != nil {
		t.Fatalf("SendWhoAreYou: %v", err)
	}

	bEstablished := waitForEvent(t, bSvc.Events(), discover.EventEstablished)
	if bEstablished.ENR.ID() != aENR.ID() {
		t.Fatalf("B established with wrong peer: got %x want %x", bEstablished.ENR.ID(), aENR.ID())
	}
	bMsg := waitForEvent(t, bSvc.Events(), discover.EventMessage)
	if bMsg.Message.ID != req.ID || string(bMsg.Message.Data) != "ping" {
		t.Fatalf("B received wrong message: %+v", bMsg.Message)
	}

	resp := &discover.Message{ID: req.ID, Data: []byte("pong")}
	if err := bSvc.SendResponse(aAddr, bMsg.SrcID, resp); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}

	// A's session is promoted while it handles B's response, so A emits the
	// message before the established event.
	aMsg := waitForEvent(t, aSvc.Events(), discover.EventMessage)
	if string(aMsg.Message.Data) != "pong" {
		t.Fatalf("A received wrong response: %+v", aMsg.Message)
	}
	aEstablished := waitForEvent(t, aSvc.Events(), discover.EventEstablished)
	if aEstablished.ENR.ID() != bENR.ID() {
		t.Fatalf("A established with wrong peer: got %x want %x", aEstablished.ENR.ID(), bENR.ID())
	}

	req2 := &discover.Message{ID: "req-2", Data: []byte("ping-2")}
	if err := aSvc.SendRequest(bENR, req2); err != nil {
		t.Fatalf("second SendRequest on trusted session: %v", err)
	}
	bMsg2 := waitForEvent(t, bSvc.Events(), discover.EventMessage)
	if string(bMsg2.Message.Data) != "ping-2" {
		t.Fatalf("B received wrong second message: %+v", bMsg2.Message)
	}
}

// TestServiceUntrustedPeerRejectsFurtherRequests covers scenario S2: A's
// cached ENR for B advertises an endpoint B never actually sends from, so
// the trust invariant never holds on A's side. B initiates the handshake
// (A's own Random would go to the stale endpoint and never arrive); A
// answers with the stale ENR, and passes B's current ENR sequence number so
// that B attaches no fresher record. The handshake still completes, B's
// message is still delivered and A can still respond, but a sendRequest
// from A on that session is rejected.
func TestServiceUntrustedPeerRejectsFurtherRequests(t *testing.T) {
	net := newMemNetwork()
	clock := new(mclock.Simulated)

	aAddr := mustAddr(t, "127.0.0.1:9101")
	bAddr := mustAddr(t, "127.0.0.1:9102")
	spoofedBAddr := mustAddr(t, "127.0.0.1:9199")
	cfg := discover.Config{RequestRetries: 2}

	aSvc, aENR, _ := newTestNode(t, net, clock, aAddr, aAddr, cfg)
	bSvc, _, _ := newTestNode(t, net, clock, bAddr, bAddr, cfg)

	bID := enode.IDFromPubkey([]byte(bAddr.String()))
	spoofedBENR := enode.NewNode(bID, 1, []byte(bAddr.String()), spoofedBAddr)

	req := &discover.Message{ID: "req-1", Data: []byte("ping")}
	if err := bSvc.SendRequest(aENR, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	who := waitForEvent(t, aSvc.Events(), discover.EventWhoAreYouRequest)
	if err := aSvc.SendWhoAreYou(bAddr, who.SrcID, spoofedBENR.Seq(), spoofedBENR, who.AuthTag); err != nil {
		t.Fatalf("SendWhoAreYou: %v", err)
	}

	// The handshake message still decrypts and is still delivered — the
	// trust gate only blocks sendRequest, not inbound delivery.
	aMsg := waitForEvent(t, aSvc.Events(), discover.EventMessage)
	if string(aMsg.Message.Data) != "ping" {
		t.Fatalf("A received wrong message: %+v", aMsg.Message)
	}

	// Responses may still be sent on an untrusted session.
	resp := &discover.Message{ID: req.ID, Data: []byte("pong")}
	if err := aSvc.SendResponse(bAddr, aMsg.SrcID, resp); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	bMsg := waitForEvent(t, bSvc.Events(), discover.EventMessage)
	if string(bMsg.Message.Data) != "pong" {
		t.Fatalf("B received wrong response: %+v", bMsg.Message)
	}

	req2 := &discover.Message{ID: "req-2", Data: []byte("ping-2")}
	err := aSvc.SendRequest(spoofedBENR, req2)
	if err != discover.ErrUntrustedPeer {
		t.Fatalf("SendRequest on untrusted session: got %v, want ErrUntrustedPeer", err)
	}
}

// TestServiceLostHandshakeRetriesThenFails covers scenario S3: the peer
// never responds to the initial Random packet (simulating a lost WHOAREYOU
// exchange end to end), so the Session Service retransmits
// cfg.RequestRetries times before giving up and failing the buffered
// message.
func TestServiceLostHandshakeRetriesThenFails(t *testing.T) {
	net := newMemNetwork()
	clock := new(mclock.Simulated)

	aAddr := mustAddr(t, "127.0.0.1:9201")
	unreachable := mustAddr(t, "127.0.0.1:9202") // never registered: every Send here drops

	cfg := discover.Config{
		RequestTimeout: 10 * time.Millisecond,
		RequestRetries: 2,
	}
	aSvc, _, _ := newTestNode(t, net, clock, aAddr, aAddr, cfg)

	bID := enode.IDFromPubkey([]byte(unreachable.String()))
	bENR := enode.NewNode(bID, 1, []byte(unreachable.String()), unreachable)

	req := &discover.Message{ID: "req-1", Data: []byte("ping")}
	if err := aSvc.SendRequest(bENR, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	for i := 0; i <= cfg.RequestRetries; i++ {
		clock.Run(cfg.RequestTimeout)
	}

	failed := waitForEvent(t, aSvc.Events(), discover.EventRequestFailed)
	if failed.DstID != bID || failed.RequestID != req.ID {
		t.Fatalf("unexpected failed request: %+v", failed)
	}
}

// TestServiceSessionExpiryRehandshakes covers scenario S4: an established
// session that sits idle past SessionTimeout (with no pending requests
// keeping it alive) is swept away; a subsequent sendRequest to the same
// peer runs a fresh handshake and still delivers its message.
func TestServiceSessionExpiryRehandshakes(t *testing.T) {
	net := newMemNetwork()
	clock := new(mclock.Simulated)

	aAddr := mustAddr(t, "127.0.0.1:9301")
	bAddr := mustAddr(t, "127.0.0.1:9302")
	cfg := discover.Config{
		RequestTimeout:       10 * time.Millisecond,
		RequestRetries:       2,
		SessionTimeout:       90 * time.Millisecond,
		SessionSweepInterval: 30 * time.Millisecond,
	}

	aSvc, _, _ := newTestNode(t, net, clock, aAddr, aAddr, cfg)
	bSvc, _, _ := newTestNode(t, net, clock, bAddr, bAddr, cfg)
	bENR := enode.NewNode(enode.IDFromPubkey([]byte(bAddr.String())), 1, []byte(bAddr.String()), bAddr)

	handshake := func(msg *discover.Message, reply string) {
		if err := aSvc.SendRequest(bENR, msg); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		who := waitForEvent(t, bSvc.Events(), discover.EventWhoAreYouRequest)
		aENR := enode.NewNode(who.SrcID, 1, []byte(aAddr.String()), aAddr)
		if err := bSvc.SendWhoAreYou(aAddr, who.SrcID, 0, aENR, who.AuthTag); err != nil {
			t.Fatalf("SendWhoAreYou: %v", err)
		}
		bMsg := waitForEvent(t, bSvc.Events(), discover.EventMessage)
		if string(bMsg.Message.Data) != string(msg.Data) {
			t.Fatalf("B received wrong message: %+v", bMsg.Message)
		}
		resp := &discover.Message{ID: msg.ID, Data: []byte(reply)}
		if err := bSvc.SendResponse(aAddr, bMsg.SrcID, resp); err != nil {
			t.Fatalf("SendResponse: %v", err)
		}
		aMsg := waitForEvent(t, aSvc.Events(), discover.EventMessage)
		if string(aMsg.Message.Data) != reply {
			t.Fatalf("A received wrong response: %+v", aMsg.Message)
		}
		waitForEvent(t, aSvc.Events(), discover.EventEstablished)
	}

	handshake(&discover.Message{ID: "req-1", Data: []byte("ping")}, "pong")

	ticks := int(cfg.SessionTimeout/cfg.SessionSweepInterval) + 2
	for i := 0; i < ticks; i++ {
		clock.Run(cfg.SessionSweepInterval)
	}

	// The session expired with nothing pending, so this is a brand new
	// handshake, not a reuse of the trusted session above.
	handshake(&discover.Message{ID: "req-2", Data: []byte("ping-2")}, "pong-2")
}

// TestServiceDecryptFailureDropsSessionAndRechallenges covers Testable
// Property 5: a packet that fails AEAD decryption always drops the session
// and re-emits a WHOAREYOU request, rather than being silently ignored.
func TestServiceDecryptFailureDropsSessionAndRechallenges(t *testing.T) {
	net := newMemNetwork()
	clock := new(mclock.Simulated)

	aAddr := mustAddr(t, "127.0.0.1:9401")
	bAddr := mustAddr(t, "127.0.0.1:9402")
	cfg := discover.Config{RequestRetries: 2}

	aSvc, _, _ := newTestNode(t, net, clock, aAddr, aAddr, cfg)
	bSvc, _, _ := newTestNode(t, net, clock, bAddr, bAddr, cfg)
	bENR := enode.NewNode(enode.IDFromPubkey([]byte(bAddr.String())), 1, []byte(bAddr.String()), bAddr)

	req := &discover.Message{ID: "req-1", Data: []byte("ping")}
	if err := aSvc.SendRequest(bENR, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	who := waitForEvent(t, bSvc.Events(), discover.EventWhoAreYouRequest)
	aENR := enode.NewNode(who.SrcID, 1, []byte(aAddr.String()), aAddr)
	if err := bSvc.SendWhoAreYou(aAddr, who.SrcID, 0, aENR, who.AuthTag); err != nil {
		t.Fatalf("SendWhoAreYou: %v", err)
	}
	waitForEvent(t, bSvc.Events(), discover.EventEstablished)
	waitForEvent(t, bSvc.Events(), discover.EventMessage)

	resp := &discover.Message{ID: req.ID, Data: []byte("pong")}
	if err := bSvc.SendResponse(aAddr, who.SrcID, resp); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	waitForEvent(t, aSvc.Events(), discover.EventMessage)
	waitForEvent(t, aSvc.Events(), discover.EventEstablished)

	// A sends B a message whose ciphertext gets corrupted in flight.
	net.corruptNext(bAddr)
	req2 := &discover.Message{ID: "req-2", Data: []byte("ping-2")}
	if err := aSvc.SendRequest(bENR, req2); err != nil {
		t.Fatalf("SendRequest with corruption in flight: %v", err)
	}

	rechallenge := waitForEvent(t, bSvc.Events(), discover.EventWhoAreYouRequest)
	if rechallenge.SrcID != who.SrcID {
		t.Fatalf("rechallenge for wrong peer: got %x want %x", rechallenge.SrcID, who.SrcID)
	}
}
