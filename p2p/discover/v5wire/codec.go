package v5wire

import "github.com/ndxnet/discv5/enode"

// SessionKeys holds the two AES-128-GCM keys a Session needs: one to
// encrypt outgoing messages, one to decrypt incoming ones.
type SessionKeys struct {
	WriteKey [16]byte
	ReadKey  [16]byte
}

// Crypto is the cryptographic collaborator this module treats as an
// external dependency, reduced to exactly the operations the Session
// Service calls through. SessionCodec (session_codec.go) is the reference
// implementation; tests substitute a trivial fake (see v5wire/fake.go).
type Crypto interface {
	// Tag binds a packet to the (src, dst) pair, and SrcID recovers the
	// sender's id from a received tag.
	Tag(srcID, dstID enode.ID) [32]byte
	SrcID(localID enode.ID, tag [32]byte) enode.ID

	// GenerateIDNonce produces a fresh WHOAREYOU challenge nonce.
	GenerateIDNonce() ([16]byte, error)

	// GenerateEphemeral produces a fresh ephemeral key pair for a
	// handshake attempt, returning its encoded public key.
	GenerateEphemeral() (priv EphemeralKey, pubkey []byte, err error)

	// DeriveKeys runs ECDH between the local key handle (the initiator's
	// ephemeral key or the recipient's static key) and the remote public
	// key, then HKDF-expands a session key pair.
	// initiator selects which half of the expanded material becomes the
	// write key vs. the read key.
	DeriveKeys(local EphemeralKey, remotePubkey []byte, localID, remoteID enode.ID, idNonce [16]byte, initiator bool) (SessionKeys, error)

	// SignIDNonce signs idNonce (bound to the ephemeral pubkey) with the
	// node's static key, producing the AuthResponse.Signature field.
	SignIDNonce(priv StaticKey, idNonce [16]byte, ephemeralPubkey []byte) ([]byte, error)

	// VerifyIDNonceSignature checks a signature produced by SignIDNonce
	// against the claimed static public key.
	VerifyIDNonceSignature(pub []byte, idNonce [16]byte, ephemeralPubkey []byte, sig []byte) error

	// Seal/Open implement AEAD encrypt/decrypt of message payloads using a
	// session key and the packet's auth tag as nonce.
	Seal(key [16]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error)
	Open(key [16]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// EphemeralKey is an opaque handle to a handshake-scoped private key,
// discarded once the handshake completes.
type EphemeralKey interface{}

// StaticKey is an opaque handle to a node's long-lived identity key, the
// one its ENR's public key corresponds to. It is the same underlying
// handle shape as EphemeralKey: DeriveKeys runs ECDH against whichever one
// the caller holds (the initiator's ephemeral key against the peer's
// static pubkey, the recipient's static key against the peer's ephemeral
// pubkey), so both sides of the handshake share one code path.
type StaticKey = EphemeralKey
