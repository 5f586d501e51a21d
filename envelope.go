package prism

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Associated data binding each envelope to the place it is used.
var (
	purposeBundle  = []byte("prism/v1/share-bundle")
	purposeSession = []byte("prism/v1/session-state")
	purposeCommit  = []byte("prism/v1/commit-state")
	purposeAuth    = []byte("prism/v1/prism-auth")
	purposeRecord  = []byte("prism/v1/user-record")
)

const (
	pairwiseKeyInfo    = "prism/v1 pairwise share key"
	stateKeyContext    = "prism/v1 node session state key"
	certTimeKeyContext = "prism/v1 node cert time key"
	recordKeyContext   = "prism/v1 node record store key"

	// EnvelopeKeySize is the symmetric key size for every envelope.
	EnvelopeKeySize = chacha20poly1305.KeySize
)

// Seal encrypts plaintext with XChaCha20-Poly1305 under key. The result is
// nonce || ciphertext || tag.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. Any failure is reported as ErrDecryptionFailed.
func Open(key, envelope, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryptionFailed.WithCause(err)
	}
	if len(envelope) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecryptionFailed.WithDetails("envelope too short")
	}

	nonce, ciphertext := envelope[:aead.NonceSize()], envelope[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed.WithCause(err)
	}
	return plaintext, nil
}

// PairwiseKey derives the symmetric key shared between this node and peer.
// For the node itself the input keying material is its own private scalar;
// otherwise it is the Diffie-Hellman point peerPub·ownPriv, which both sides
// compute identically.
func PairwiseKey(ownPriv Scalar, ownPub, peerPub Point) ([]byte, error) {
	var ikm []byte
	if peerPub.Equal(ownPub) {
		ikm = ownPriv.Bytes()
	} else {
		if !peerPub.IsSafe() {
			return nil, ErrUnsafePoint.WithDetails("pairwise peer key")
		}
		ikm = peerPub.Mul(ownPriv).Bytes()
	}
	defer ZeroizeBytes(ikm)

	key := make([]byte, EnvelopeKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(pairwiseKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive pairwise key: %w", err)
	}
	return key, nil
}

// StateKey derives the key that seals session state between rounds.
func StateKey(priv Scalar) []byte {
	return deriveNodeKey(priv, stateKeyContext)
}

// CertTimeKey derives the MAC key for the certificate times Apply issues.
func CertTimeKey(priv Scalar) []byte {
	return deriveNodeKey(priv, certTimeKeyContext)
}

// RecordKey derives the key for the node's on-disk record store.
func RecordKey(priv Scalar) []byte {
	return deriveNodeKey(priv, recordKeyContext)
}

func deriveNodeKey(priv Scalar, context string) []byte {
	material := priv.Bytes()
	defer ZeroizeBytes(material)

	key := make([]byte, EnvelopeKeySize)
	blake3.DeriveKey(context, material, key)
	return key
}
