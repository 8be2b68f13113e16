// Package discover implements the Discv5 Session Service: a single-
// threaded reactor that dispatches inbound packets, orchestrates the
// three-packet handshake, buffers messages awaiting a trusted session, and
// emits protocol events for the routing/lookup layer above. One select loop
// owns every mutable structure, and everything that would otherwise need a
// lock instead crosses in over a channel.
package discover

import (
	"crypto/rand"
	"net/netip"
	"sync"

	"github.com/ndxnet/discv5/enode"
	"github.com/ndxnet/discv5/internal/mclock"
	"github.com/ndxnet/discv5/internal/metrics"
	"github.com/ndxnet/discv5/internal/xlog"
	"github.com/ndxnet/discv5/p2p/discover/v5wire"
)

const eventBacklog = 256

// randomPacketPayload is the size, in bytes, of the padding carried by an
// outbound Random packet. Its value is not meaningful to the protocol; it
// just needs to look like ciphertext to a peer that still has a session.
const randomPacketPayload = 44

// Service is the Discv5 Session Service. All of its state — sessions,
// pending requests, buffered messages — is owned exclusively by the loop
// goroutine started in Start. Exported methods that touch that state cross
// onto the loop via cmdCh and block for the result, the same
// command-queue/rendezvous idiom used to serialize access to single-
// goroutine-owned state without a lock.
type Service struct {
	cfg Config

	localID   enode.ID
	localENR  *enode.Node
	staticKey v5wire.StaticKey
	crypto    v5wire.Crypto
	transport Transport

	log     xlog.Logger
	metrics *metrics.Collector
	clock   mclock.Clock

	sessions *sessionStore
	pending  *pendingTable
	buffered *pendingMessages

	events chan Event

	cmdCh        chan func()
	reqTimeoutCh chan requestTimeoutEvent
	sweepCh      chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewService constructs a Session Service for localENR, bound to transport.
// cfg.StaticKey is the node's long-lived identity key (used to sign
// idNonce challenges); cfg.Crypto and cfg.Clock default to the reference
// secp256k1/HKDF/AES-GCM codec and the real-time clock respectively, see
// Config.withDefaults.
func NewService(localENR *enode.Node, transport Transport, cfg Config) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:          cfg,
		localID:      localENR.ID(),
		localENR:     localENR,
		staticKey:    cfg.StaticKey,
		crypto:       cfg.Crypto,
		transport:    transport,
		log:          cfg.Log,
		metrics:      cfg.Metrics,
		clock:        cfg.Clock,
		events:       make(chan Event, eventBacklog),
		cmdCh:        make(chan func()),
		reqTimeoutCh: make(chan requestTimeoutEvent),
		sweepCh:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	s.buffered = newPendingMessages()
	s.sessions = newSessionStore(s.clock, cfg.SessionTimeout)
	s.pending = newPendingTable(s.clock, cfg.RequestTimeout, s.onRequestTimeoutAsync)
	return s
}

// Events returns the channel protocol events are delivered on. Callers must
// keep reading it for the lifetime of the service; the loop goroutine
// blocks on a full channel.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Start launches the transport and the reactor loop.
func (s *Service) Start() error {
	if err := s.transport.Start(); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		s.armSweep()
		go s.loop()
	})
	return nil
}

// Stop tears the service down: it detaches the packet handler, stops the
// transport, and clears every pending request, buffered message, and
// session. No event fires after Stop returns.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return s.transport.Stop()
}

// submit hands fn to the loop goroutine and blocks until it either runs or
// the service has stopped. fn is responsible for delivering its own result
// (typically by sending on a channel it closes over).
func (s *Service) submit(fn func()) bool {
	select {
	case s.cmdCh <- fn:
		return true
	case <-s.stopCh:
		return false
	}
}

// SendRequest sends msg to dstEnr, establishing a session first if needed.
func (s *Service) SendRequest(dstEnr *enode.Node, msg *Message) error {
	errCh := make(chan error, 1)
	if !s.submit(func() { errCh <- s.sendRequest(dstEnr, msg) }) {
		return ErrClosed
	}
	return <-errCh
}

// SendRequestUnknownEnr implements sendRequestUnknownEnr(dst, dstId, msg).
func (s *Service) SendRequestUnknownEnr(dst netip.AddrPort, dstID enode.ID, msg *Message) error {
	errCh := make(chan error, 1)
	if !s.submit(func() { errCh <- s.sendRequestUnknownEnr(dst, dstID, msg) }) {
		return ErrClosed
	}
	return <-errCh
}

// SendResponse implements sendResponse(dst, dstId, msg).
func (s *Service) SendResponse(dst netip.AddrPort, dstID enode.ID, msg *Message) error {
	errCh := make(chan error, 1)
	if !s.submit(func() { errCh <- s.sendResponse(dst, dstID, msg) }) {
		return ErrClosed
	}
	return <-errCh
}

// SendWhoAreYou implements sendWhoAreYou(dst, dstId, enrSeq, remoteEnr?, authTag).
func (s *Service) SendWhoAreYou(dst netip.AddrPort, dstID enode.ID, enrSeq uint64, remoteEnr *enode.Node, authTag v5wire.Nonce) error {
	errCh := make(chan error, 1)
	if !s.submit(func() { errCh <- s.sendWhoAreYou(dst, dstID, enrSeq, remoteEnr, authTag) }) {
		return ErrClosed
	}
	return <-errCh
}

// onRequestTimeoutAsync is the pendingTable notify callback: it runs on an
// mclock timer goroutine, so it only ever forwards onto the loop, keeping
// timer callbacks serialized with packet handling on the same goroutine.
func (s *Service) onRequestTimeoutAsync(ev requestTimeoutEvent) {
	select {
	case s.reqTimeoutCh <- ev:
	case <-s.stopCh:
	}
}

func (s *Service) armSweep() {
	s.clock.AfterFunc(s.cfg.SessionSweepInterval, func() {
		select {
		case s.sweepCh <- struct{}{}:
		default:
		}
		select {
		case <-s.stopCh:
		default:
			s.armSweep()
		}
	})
}

// loop is the single reactor goroutine. Every mutation of sessions,
// pending, and buffered happens here and only here.
func (s *Service) loop() {
	defer close(s.doneCh)
	for {
		select {
		case pkt := <-s.transport.Packets():
			s.handlePacket(pkt.From, pkt.Data)
		case ev := <-s.reqTimeoutCh:
			s.onRequestTimeout(ev)
		case <-s.sweepCh:
			s.sweepSessions()
		case fn := <-s.cmdCh:
			fn()
		case <-s.stopCh:
			s.sessions.clear()
			s.pending.clear()
			s.buffered.clear()
			return
		}
	}
}

// --- outbound operations ---

func (s *Service) sendRequest(dstEnr *enode.Node, msg *Message) error {
	id := dstEnr.ID()
	sess := s.sessions.get(id)
	if sess == nil {
		s.buffered.push(id, msg)
		sess = newRandomSentSession(id)
		sess.remoteENR = dstEnr
		s.sessions.insert(id, sess)
		return s.sendRandomPacket(dstEnr.UDPEndpoint(), id)
	}
	if sess.state != Established {
		return ErrSessionNotReady
	}
	if !sess.trusted {
		return ErrUntrustedPeer
	}
	return s.sendMessageTracked(sess, dstEnr.UDPEndpoint(), msg)
}

func (s *Service) sendRequestUnknownEnr(dst netip.AddrPort, dstID enode.ID, msg *Message) error {
	sess := s.sessions.get(dstID)
	if sess == nil {
		return ErrNoSession
	}
	if sess.state != Established {
		return ErrSessionNotReady
	}
	if !sess.trusted {
		return ErrUntrustedPeer
	}
	return s.sendMessageTracked(sess, dst, msg)
}

func (s *Service) sendResponse(dst netip.AddrPort, dstID enode.ID, msg *Message) error {
	sess := s.sessions.get(dstID)
	if sess == nil {
		return ErrNoSession
	}
	if sess.state != Established {
		return ErrSessionNotReady
	}
	msg.IsResponse = true
	return s.sendResponseUntracked(sess, dst, msg)
}

func (s *Service) sendWhoAreYou(dst netip.AddrPort, dstID enode.ID, enrSeq uint64, remoteEnr *enode.Node, authTag v5wire.Nonce) error {
	if sess := s.sessions.get(dstID); sess != nil {
		if sess.isTrustedEstablished() || sess.state == WhoAreYouSent {
			return nil
		}
	}
	idNonce, err := s.crypto.GenerateIDNonce()
	if err != nil {
		return err
	}
	sess := newWhoAreYouSentSession(dstID, idNonce)
	if remoteEnr != nil {
		sess.remoteENR = remoteEnr
	}
	s.sessions.insert(dstID, sess)

	pkt := &v5wire.Whoareyou{Token: authTag, IDNonce: idNonce, ENRSeq: enrSeq}
	raw, err := v5wire.Marshal(pkt)
	if err != nil {
		return err
	}
	if err := s.transport.Send(dst, raw); err != nil {
		s.log.Debug("send WHOAREYOU failed", "dst", dst, "err", err)
	}
	s.pending.insert(dst, RequestID(""), &PendingRequest{DstID: dstID, Dst: dst, Packet: pkt, authTag: authTag})
	s.metrics.HandshakeAttempted()
	return nil
}

// sendRandomPacket sends the handshake-initiating Random packet and tracks
// it in the Pending Request Table under the reserved empty RequestID.
func (s *Service) sendRandomPacket(dst netip.AddrPort, dstID enode.ID) error {
	var authTag v5wire.Nonce
	if _, err := rand.Read(authTag[:]); err != nil {
		return err
	}
	randomData := make([]byte, randomPacketPayload)
	if _, err := rand.Read(randomData); err != nil {
		return err
	}
	pkt := &v5wire.Random{Tag: s.crypto.Tag(s.localID, dstID), AuthTag: authTag, RandomData: randomData}
	raw, err := v5wire.Marshal(pkt)
	if err != nil {
		return err
	}
	if err := s.transport.Send(dst, raw); err != nil {
		s.log.Debug("send Random failed", "dst", dst, "err", err)
	}
	s.pending.insert(dst, RequestID(""), &PendingRequest{DstID: dstID, Dst: dst, Packet: pkt, authTag: authTag})
	s.metrics.RequestSent()
	return nil
}

// sendMessageTracked encrypts and sends msg, tracking it in the Pending
// Request Table for retransmission/correlation. Used for requests.
func (s *Service) sendMessageTracked(sess *Session, dst netip.AddrPort, msg *Message) error {
	pkt, err := s.sealMessage(sess, msg)
	if err != nil {
		return err
	}
	raw, err := v5wire.Marshal(pkt)
	if err != nil {
		return err
	}
	if err := s.transport.Send(dst, raw); err != nil {
		s.log.Debug("send Message failed", "dst", dst, "err", err)
	}
	s.pending.insert(dst, msg.ID, &PendingRequest{DstID: sess.remoteID, Dst: dst, Packet: pkt, Message: msg, authTag: pkt.AuthTag})
	s.metrics.RequestSent()
	return nil
}

// sendResponseUntracked encrypts and sends msg without touching the
// pending request table: responses are fire-and-forget, never retried.
func (s *Service) sendResponseUntracked(sess *Session, dst netip.AddrPort, msg *Message) error {
	pkt, err := s.sealMessage(sess, msg)
	if err != nil {
		return err
	}
	raw, err := v5wire.Marshal(pkt)
	if err != nil {
		return err
	}
	return s.transport.Send(dst, raw)
}

func (s *Service) sealMessage(sess *Session, msg *Message) (*v5wire.Message, error) {
	var authTag v5wire.Nonce
	if _, err := rand.Read(authTag[:]); err != nil {
		return nil, err
	}
	plaintext, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	tag := s.crypto.Tag(s.localID, sess.remoteID)
	ciphertext, err := s.crypto.Seal(sess.keys.OurKey, authTag, plaintext, tag[:])
	if err != nil {
		return nil, err
	}
	return &v5wire.Message{Tag: tag, AuthTag: authTag, Message: ciphertext}, nil
}

// flushBuffered sends every queued message for id if and only if its
// session is trusted-established.
func (s *Service) flushBuffered(id enode.ID) {
	sess := s.sessions.get(id)
	if sess == nil || !sess.isTrustedEstablished() {
		return
	}
	for {
		msg := s.buffered.popFront(id)
		if msg == nil {
			return
		}
		if err := s.sendMessageTracked(sess, sess.lastSeenMultiaddr, msg); err != nil {
			s.log.Debug("flush buffered message failed", "id", id, "err", err)
		}
	}
}

// --- inbound packet handling ---

func (s *Service) handlePacket(from netip.AddrPort, raw []byte) {
	pkt, err := v5wire.Unmarshal(raw)
	if err != nil {
		s.log.Debug("unparseable packet", "from", from, "err", err)
		return
	}
	switch p := pkt.(type) {
	case *v5wire.Random:
		s.onMessage(from, p.Tag, p.AuthTag, p.RandomData)
	case *v5wire.Message:
		s.onMessage(from, p.Tag, p.AuthTag, p.Message)
	case *v5wire.Whoareyou:
		s.onWhoAreYou(from, p)
	case *v5wire.Handshake:
		s.onAuthMessage(from, p)
	default:
		s.log.Debug("unknown packet kind", "from", from)
	}
}

func (s *Service) onWhoAreYou(from netip.AddrPort, p *v5wire.Whoareyou) {
	id, entry, found := s.pending.findByAuthTag(from, p.Token)
	if !found {
		return
	}
	s.pending.remove(from, id)

	var msg *Message
	if entry.Packet.Kind() == v5wire.RandomPacket {
		msg = s.buffered.popFront(entry.DstID)
		if msg == nil {
			// No buffered message to retry with; leave the half-open
			// session to the sweep/timeout path rather than force it.
			s.log.Debug("WHOAREYOU with no buffered message, leaving half-open session", "id", entry.DstID)
			return
		}
	} else {
		if entry.Message == nil {
			s.log.Debug("protocol violation: non-random pending entry has no message", "id", entry.DstID)
			return
		}
		msg = entry.Message
	}

	sess := s.sessions.get(entry.DstID)
	if sess == nil {
		s.log.Debug("WHOAREYOU matched a pending entry with no session", "id", entry.DstID)
		return
	}
	sess.setLastSeen(from)

	if sess.remoteENR == nil {
		s.buffered.pushFront(entry.DstID, msg)
		s.log.Debug("no cached remote ENR, cannot complete handshake", "id", entry.DstID)
		return
	}

	var enrBytes []byte
	if p.ENRSeq < s.localENR.Seq() {
		if b, err := encodeENR(s.localENR); err != nil {
			s.log.Debug("encode local ENR failed", "err", err)
		} else {
			enrBytes = b
		}
	}

	ephKey, ephPub, err := s.crypto.GenerateEphemeral()
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		s.log.Debug("generate ephemeral key failed", "id", entry.DstID, "err", err)
		return
	}
	keys, err := s.crypto.DeriveKeys(ephKey, sess.remoteENR.PublicKey(), s.localID, entry.DstID, p.IDNonce, true)
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		s.log.Debug("derive session keys failed", "id", entry.DstID, "err", err)
		return
	}
	sig, err := s.crypto.SignIDNonce(s.staticKey, p.IDNonce, ephPub)
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		s.log.Debug("sign idNonce failed", "id", entry.DstID, "err", err)
		return
	}

	sess.keys = SessionKeyPair{OurKey: keys.WriteKey, TheirKey: keys.ReadKey}
	sess.state = AwaitingResponse
	sess.handshake = handshakeScratch{idNonce: p.IDNonce, ephemeralKey: ephKey}

	var authTag v5wire.Nonce
	if _, err := rand.Read(authTag[:]); err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		return
	}
	plaintext, err := encodeMessage(msg)
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		return
	}
	tag := s.crypto.Tag(s.localID, entry.DstID)
	ciphertext, err := s.crypto.Seal(sess.keys.OurKey, authTag, plaintext, tag[:])
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		s.log.Debug("seal AuthMessage payload failed", "id", entry.DstID, "err", err)
		return
	}

	header := v5wire.AuthHeader{
		AuthTag:         authTag,
		IDNonce:         p.IDNonce,
		SchemeName:      v5wire.SchemeName,
		EphemeralPubkey: ephPub,
		AuthResponse:    v5wire.AuthResponse{Signature: sig, Record: enrBytes},
	}
	pkt := &v5wire.Handshake{Tag: tag, Header: header, Message: ciphertext}
	raw, err := v5wire.Marshal(pkt)
	if err != nil {
		s.buffered.pushFront(entry.DstID, msg)
		return
	}
	if err := s.transport.Send(from, raw); err != nil {
		s.log.Debug("send AuthMessage failed", "dst", from, "err", err)
	}
	s.pending.insert(from, msg.ID, &PendingRequest{DstID: entry.DstID, Dst: from, Packet: pkt, Message: msg, authTag: authTag})
	s.metrics.HandshakeAttempted()

	s.flushBuffered(entry.DstID)
}

func (s *Service) onAuthMessage(from netip.AddrPort, p *v5wire.Handshake) {
	srcID := s.crypto.SrcID(s.localID, p.Tag)
	sess := s.sessions.get(srcID)
	if sess == nil || sess.state != WhoAreYouSent {
		return
	}
	entry := s.pending.get(from, RequestID(""))
	if entry == nil || entry.DstID != srcID || entry.Packet.Kind() != v5wire.WhoareyouPacket {
		return
	}
	s.pending.remove(from, RequestID(""))
	sess.setLastSeen(from)

	remoteEnr := sess.remoteENR
	if len(p.Header.AuthResponse.Record) > 0 {
		n, err := decodeENR(p.Header.AuthResponse.Record)
		if err != nil {
			s.log.Debug("decode attached ENR failed", "id", srcID, "err", err)
			s.failHandshake(srcID)
			return
		}
		remoteEnr = n
	}
	if remoteEnr == nil {
		s.log.Debug("no ENR available to verify handshake", "id", srcID)
		s.failHandshake(srcID)
		return
	}

	idNonce := sess.handshake.idNonce
	if err := s.crypto.VerifyIDNonceSignature(remoteEnr.PublicKey(), idNonce, p.Header.EphemeralPubkey, p.Header.AuthResponse.Signature); err != nil {
		s.log.Debug("idNonce signature verification failed", "id", srcID, "err", err)
		s.metrics.HandshakeFailed("bad-signature")
		s.failHandshake(srcID)
		return
	}
	keys, err := s.crypto.DeriveKeys(s.staticKey, p.Header.EphemeralPubkey, s.localID, srcID, idNonce, false)
	if err != nil {
		s.log.Debug("derive session keys failed", "id", srcID, "err", err)
		s.metrics.HandshakeFailed("key-derivation")
		s.failHandshake(srcID)
		return
	}

	sess.keys = SessionKeyPair{OurKey: keys.WriteKey, TheirKey: keys.ReadKey}
	sess.state = Established
	sess.setRemoteENR(remoteEnr)
	if sess.trusted {
		s.emitEstablished(remoteEnr)
		s.flushBuffered(srcID)
	}
	s.sessions.extendTimeout(srcID)
	s.metrics.SessionEstablished()

	s.onMessage(from, p.Tag, p.Header.AuthTag, p.Message)
}

func (s *Service) onMessage(from netip.AddrPort, tag [32]byte, authTag v5wire.Nonce, ciphertext []byte) {
	srcID := s.crypto.SrcID(s.localID, tag)
	sess := s.sessions.get(srcID)
	if sess == nil {
		s.emitWhoAreYouRequest(srcID, from, authTag)
		return
	}
	switch sess.state {
	case RandomSent:
		s.emitWhoAreYouRequest(srcID, from, authTag)
	case WhoAreYouSent:
		return
	}

	wasAwaiting := sess.state == AwaitingResponse
	plaintext, err := s.crypto.Open(sess.keys.TheirKey, authTag, ciphertext, tag[:])
	if err != nil {
		s.sessions.remove(srcID)
		s.metrics.SessionDropped()
		s.log.Debug("decrypt failed, dropping session", "id", srcID, "from", from, "err", err)
		s.emitWhoAreYouRequest(srcID, from, authTag)
		return
	}
	if wasAwaiting {
		// A successful decrypt is the confirmation AwaitingResponse was
		// waiting for: keys had been derived but not yet proven to work.
		sess.state = Established
	}
	msg, err := decodeMessage(plaintext)
	if err != nil {
		s.log.Debug("malformed message payload", "id", srcID, "from", from, "err", err)
		return
	}
	s.pending.remove(from, msg.ID)
	s.emitMessage(srcID, from, msg)

	becameTrusted := sess.setLastSeen(from)
	if sess.isTrustedEstablished() && (becameTrusted || wasAwaiting) {
		s.emitEstablished(sess.remoteENR)
		s.flushBuffered(srcID)
	}
}

// --- timeouts ---

func (s *Service) onRequestTimeout(ev requestTimeoutEvent) {
	live := s.pending.get(ev.addr, ev.id)
	if live != ev.entry {
		return // already retired by a correlated reply
	}
	if live.Retries < s.cfg.RequestRetries {
		live.Retries++
		if raw, err := v5wire.Marshal(live.Packet); err == nil {
			if err := s.transport.Send(ev.addr, raw); err != nil {
				s.log.Debug("retransmit failed", "dst", ev.addr, "err", err)
			}
		}
		s.pending.rearm(ev.addr, ev.id, live)
		s.metrics.RequestSent()
		s.metrics.RequestRetried()
		return
	}

	s.pending.remove(ev.addr, ev.id)
	switch live.Packet.Kind() {
	case v5wire.RandomPacket, v5wire.WhoareyouPacket:
		s.metrics.HandshakeFailed("timeout")
		s.failHandshake(live.DstID)
	default:
		s.metrics.RequestFailed()
		s.emitRequestFailed(live.DstID, ev.id)
	}
}

// failHandshake drops the session and flushes its buffered messages as
// requestFailed events.
func (s *Service) failHandshake(id enode.ID) {
	s.sessions.remove(id)
	for _, msg := range s.buffered.drain(id) {
		s.emitRequestFailed(id, msg.ID)
	}
}

func (s *Service) sweepSessions() {
	s.sessions.forEachExpired(func(id enode.ID, sess *Session) {
		if s.pending.hasPendingFor(id) {
			s.sessions.extendTimeoutBy(id, s.cfg.RequestTimeout)
			return
		}
		s.sessions.remove(id)
		for _, msg := range s.buffered.drain(id) {
			s.emitRequestFailed(id, msg.ID)
		}
	})
}

// --- event emission ---

func (s *Service) emitEstablished(n *enode.Node) {
	s.events <- Event{Kind: EventEstablished, ENR: n}
}

func (s *Service) emitMessage(srcID enode.ID, from netip.AddrPort, msg *Message) {
	s.events <- Event{Kind: EventMessage, SrcID: srcID, From: from, Message: msg}
}

func (s *Service) emitWhoAreYouRequest(srcID enode.ID, from netip.AddrPort, authTag v5wire.Nonce) {
	s.events <- Event{Kind: EventWhoAreYouRequest, SrcID: srcID, From: from, AuthTag: authTag}
}

func (s *Service) emitRequestFailed(dstID enode.ID, reqID RequestID) {
	s.events <- Event{Kind: EventRequestFailed, DstID: dstID, RequestID: reqID}
}
