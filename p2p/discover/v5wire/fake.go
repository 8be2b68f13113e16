package v5wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/ndxnet/discv5/enode"
)

// FakeCrypto is a trivial, insecure Crypto implementation for tests:
// ephemeral keys are plain counters and session keys are a SHA-256 of the
// two ids and idNonce rather than ECDH output, but the AEAD and
// tag/srcID derivation are real, so decrypt failures and tag correlation
// still behave like the production codec. It exists so Session Service
// tests don't need to spin up two real secp256k1 handshakes to exercise
// the state machine.
type FakeCrypto struct{}

var _ Crypto = FakeCrypto{}

func (FakeCrypto) Tag(srcID, dstID enode.ID) [32]byte {
	h := sha256.Sum256(dstID[:])
	var tag [32]byte
	for i := range tag {
		tag[i] = srcID[i] ^ h[i]
	}
	return tag
}

func (FakeCrypto) SrcID(localID enode.ID, tag [32]byte) enode.ID {
	h := sha256.Sum256(localID[:])
	var id enode.ID
	for i := range id {
		id[i] = tag[i] ^ h[i]
	}
	return id
}

func (FakeCrypto) GenerateIDNonce() ([16]byte, error) {
	var n [16]byte
	_, err := rand.Read(n[:])
	return n, err
}

type fakeKey struct{ n uint64 }

var fakeKeyCounter uint64

func (FakeCrypto) GenerateEphemeral() (EphemeralKey, []byte, error) {
	fakeKeyCounter++
	pub := make([]byte, 8)
	binary.BigEndian.PutUint64(pub, fakeKeyCounter)
	return fakeKey{n: fakeKeyCounter}, pub, nil
}

// DeriveKeys derives a key pair deterministically from the two sides' id
// bytes and idNonce, so both directions of a handshake agree on the same
// material without doing any real Diffie-Hellman.
func (FakeCrypto) DeriveKeys(local EphemeralKey, remotePubkey []byte, localID, remoteID enode.ID, idNonce [16]byte, initiator bool) (SessionKeys, error) {
	h := sha256.New()
	if initiator {
		h.Write(localID[:])
		h.Write(remoteID[:])
	} else {
		h.Write(remoteID[:])
		h.Write(localID[:])
	}
	h.Write(idNonce[:])
	sum := h.Sum(nil)

	var a, b [16]byte
	copy(a[:], sum[:16])
	copy(b[:], sum[16:32])
	if initiator {
		return SessionKeys{WriteKey: a, ReadKey: b}, nil
	}
	return SessionKeys{WriteKey: b, ReadKey: a}, nil
}

func (FakeCrypto) SignIDNonce(priv StaticKey, idNonce [16]byte, ephemeralPubkey []byte) ([]byte, error) {
	h := sha256.New()
	h.Write(idNonce[:])
	h.Write(ephemeralPubkey)
	return h.Sum(nil), nil
}

func (FakeCrypto) VerifyIDNonceSignature(pub []byte, idNonce [16]byte, ephemeralPubkey []byte, sig []byte) error {
	h := sha256.New()
	h.Write(idNonce[:])
	h.Write(ephemeralPubkey)
	want := h.Sum(nil)
	if len(sig) != len(want) {
		return errors.New("v5wire: fake signature length mismatch")
	}
	for i := range want {
		if sig[i] != want[i] {
			return errors.New("v5wire: fake signature mismatch")
		}
	}
	return nil
}

func (FakeCrypto) Seal(key [16]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := fakeGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, additionalData), nil
}

func (FakeCrypto) Open(key [16]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	gcm, err := fakeGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce[:], ciphertext, additionalData)
}

func fakeGCM(key [16]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, len(Nonce{}))
}

// FakeStaticKey is a placeholder StaticKey handle for tests; FakeCrypto
// never inspects its key handles, so an empty type suffices.
type FakeStaticKey struct{}
