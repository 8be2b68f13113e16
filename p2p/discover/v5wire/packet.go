// Package v5wire defines the discv5 packet shapes and the codec/crypto
// contract the Session Service relies on. The actual cryptographic
// primitives and wire encoding are treated as external collaborators; this
// package gives them a concrete (but swappable) home so the core is
// exercisable end to end.
package v5wire

import "fmt"

// PacketKind discriminates the four packet variants of the handshake.
type PacketKind byte

const (
	RandomPacket PacketKind = iota
	WhoareyouPacket
	HandshakePacket // carries the handshake's AuthMessage; see Handshake.
	MessagePacket
)

// Nonce is the per-packet AES-GCM nonce, also used as the authTag a
// WHOAREYOU challenge correlates against.
type Nonce [12]byte

// SchemeName identifies the key-agreement/AEAD combination used by
// AuthHeader.SchemeName, mirroring the "gcm" scheme tag of the real
// protocol this module's handshake is modeled on.
const SchemeName = "gcm"

// Packet is implemented by all four wire packet variants.
type Packet interface {
	Kind() PacketKind
	Name() string
}

// Random is the first handshake packet: a tag plus random padding, sent
// when no session exists yet and a request has to be attempted anyway.
type Random struct {
	Tag        [32]byte
	AuthTag    Nonce
	RandomData []byte
}

func (*Random) Kind() PacketKind { return RandomPacket }
func (*Random) Name() string     { return "RANDOM" }

// Whoareyou is the challenge sent in response to an unrecognized packet.
// Token is the authTag being challenged; the recipient must match it
// against a pending request to correlate the reply.
type Whoareyou struct {
	Token   Nonce
	IDNonce [16]byte
	ENRSeq  uint64
}

func (*Whoareyou) Kind() PacketKind { return WhoareyouPacket }
func (*Whoareyou) Name() string     { return "WHOAREYOU" }

// AuthHeader carries the handshake response: the auth tag of this packet,
// the idNonce being answered, the scheme name, the sender's ephemeral
// public key, and the signed auth response (signature + optional ENR).
type AuthHeader struct {
	AuthTag         Nonce
	IDNonce         [16]byte
	SchemeName      string
	EphemeralPubkey []byte
	AuthResponse    AuthResponse
}

// AuthResponse is the signed payload embedded in a Handshake packet: a
// signature over idNonce (proving possession of the static key) and,
// optionally, a fresher ENR attached when the challenger's enrSeq is stale.
type AuthResponse struct {
	Signature []byte
	Record    []byte // opaque ENR bytes, nil if not attached
}

// Handshake is the third handshake packet, the AuthMessage, embedding the
// AuthHeader and the AEAD-encrypted message payload.
type Handshake struct {
	Tag     [32]byte
	Header  AuthHeader
	Message []byte
}

func (*Handshake) Kind() PacketKind { return HandshakePacket }
func (*Handshake) Name() string     { return "AUTHMESSAGE" }

// Message is an ordinary post-handshake packet carrying an encrypted
// application message.
type Message struct {
	Tag     [32]byte
	AuthTag Nonce
	Message []byte
}

func (*Message) Kind() PacketKind { return MessagePacket }
func (*Message) Name() string     { return "MESSAGE" }

// String implements fmt.Stringer for log context.
func (k PacketKind) String() string {
	switch k {
	case RandomPacket:
		return "random"
	case WhoareyouPacket:
		return "whoareyou"
	case HandshakePacket:
		return "handshake"
	case MessagePacket:
		return "message"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}
