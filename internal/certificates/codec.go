package certificates

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedSize bounds decompression of untrusted certificates.
const maxDecodedSize = 1 << 20

var ErrCorrupted = errors.New("corrupted certificate")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
)

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DumpAndSign serializes the certificate and signs it. The result is
// signature || zstd(JSON envelope); the signature covers the compressed
// bytes so nothing is decompressed before it is verified.
func DumpAndSign(c Certificate, key cryptox.SigningKey) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Kind(), err)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(envelope{Type: c.Kind(), Payload: payload})
	if err != nil {
		return nil, err
	}
	return key.Sign(encoder.EncodeAll(raw, nil)), nil
}

// UnsecureLoad decodes signed bytes without checking the signature. It is
// used to learn the claimed author before looking up its verify key, and to
// reload certificates that were verified before being stored locally.
func UnsecureLoad(signed []byte) (Certificate, error) {
	compressed, err := cryptox.Unsigned(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return decode(compressed)
}

// VerifyAndLoad checks the signature with key and decodes the certificate.
func VerifyAndLoad(signed []byte, key cryptox.VerifyKey) (Certificate, error) {
	compressed, err := key.Verify(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return decode(compressed)
}

func decode(compressed []byte) (Certificate, error) {
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupted, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrCorrupted, err)
	}

	c, err := newCertificate(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, c); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrCorrupted, env.Type, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, env.Type, err)
	}
	return c, nil
}

func newCertificate(k Kind) (Certificate, error) {
	switch k {
	case KindUser:
		return &UserCertificate{}, nil
	case KindDevice:
		return &DeviceCertificate{}, nil
	case KindRevokedUser:
		return &RevokedUserCertificate{}, nil
	case KindUserUpdate:
		return &UserUpdateCertificate{}, nil
	case KindRealmRole:
		return &RealmRoleCertificate{}, nil
	case KindRealmName:
		return &RealmNameCertificate{}, nil
	case KindRealmKeyRotation:
		return &RealmKeyRotationCertificate{}, nil
	case KindRealmArchiving:
		return &RealmArchivingCertificate{}, nil
	case KindSequesterAuthority:
		return &SequesterAuthorityCertificate{}, nil
	case KindSequesterService:
		return &SequesterServiceCertificate{}, nil
	case KindSequesterRevokedService:
		return &SequesterRevokedServiceCertificate{}, nil
	case KindShamirRecoveryBrief:
		return &ShamirRecoveryBriefCertificate{}, nil
	case KindShamirRecoveryShare:
		return &ShamirRecoveryShareCertificate{}, nil
	case KindShamirRecoveryDeletion:
		return &ShamirRecoveryDeletionCertificate{}, nil
	}
	return nil, fmt.Errorf("%w: unknown certificate type %q", ErrCorrupted, k)
}

// ContentHash identifies a certificate by its signed bytes.
func ContentHash(signed []byte) string {
	sum := sha256.Sum256(signed)
	return hex.EncodeToString(sum[:])
}
