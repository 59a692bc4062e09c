// Package cryptox wraps the cryptographic primitives used by gophsafe:
// ed25519 certificate signatures, argon2id key derivation and AES-GCM
// sealing of local data.
package cryptox

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ed25519"
)

// SignatureSize is the size of the signature prefixed to signed data.
const SignatureSize = ed25519.SignatureSize

var ErrInvalidKey = errors.New("invalid key")

// SigningKey is a device (or organization root) ed25519 private key.
type SigningKey ed25519.PrivateKey

// VerifyKey is the public half of a SigningKey.
type VerifyKey ed25519.PublicKey

func GenerateSigningKey() (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return SigningKey(priv), nil
}

// SigningKeyFromSeed rebuilds a key saved with Seed.
func SigningKeyFromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	return SigningKey(ed25519.NewKeyFromSeed(seed)), nil
}

func (k SigningKey) Seed() []byte {
	return ed25519.PrivateKey(k).Seed()
}

func (k SigningKey) VerifyKey() VerifyKey {
	return VerifyKey(ed25519.PrivateKey(k).Public().(ed25519.PublicKey))
}

// Sign returns signature || msg.
func (k SigningKey) Sign(msg []byte) []byte {
	sig := ed25519.Sign(ed25519.PrivateKey(k), msg)
	out := make([]byte, 0, len(sig)+len(msg))
	out = append(out, sig...)
	return append(out, msg...)
}

// Verify checks a signature || msg blob produced by Sign and returns msg.
func (v VerifyKey) Verify(signed []byte) ([]byte, error) {
	if len(v) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	if len(signed) < SignatureSize {
		return nil, errors.New("signed data too short")
	}
	msg := signed[SignatureSize:]
	if !ed25519.Verify(ed25519.PublicKey(v), msg, signed[:SignatureSize]) {
		return nil, errors.New("signature mismatch")
	}
	return msg, nil
}

// Unsigned strips the signature without checking it.
func Unsigned(signed []byte) ([]byte, error) {
	if len(signed) < SignatureSize {
		return nil, errors.New("signed data too short")
	}
	return signed[SignatureSize:], nil
}

// GenerateUserKeyPair returns an X25519 key pair. The public half goes into
// the user certificate, the private half stays in the device key file.
func GenerateUserKeyPair() (public, private []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, err
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return public, private, nil
}
