package certificates

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newKey(t *testing.T) cryptox.SigningKey {
	t.Helper()
	k, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	return k
}

func TestDumpAndSign_VerifyAndLoad(t *testing.T) {
	key := newKey(t)
	role := &RealmRoleCertificate{
		Header:  Header{Author: NewDeviceID(), Timestamp: t0},
		RealmID: NewRealmID(),
		UserID:  NewUserID(),
		Role:    RolePtr(RoleOwner),
	}

	signed, err := DumpAndSign(role, key)
	require.NoError(t, err)

	got, err := VerifyAndLoad(signed, key.VerifyKey())
	require.NoError(t, err)
	assert.Equal(t, role, got)
	assert.Equal(t, RealmTopic(role.RealmID), got.Topic())

	unsecure, err := UnsecureLoad(signed)
	require.NoError(t, err)
	assert.Equal(t, role.Author, unsecure.Base().Author)
}

func TestVerifyAndLoad_WrongKey(t *testing.T) {
	signed, err := DumpAndSign(&RevokedUserCertificate{
		Header: Header{Author: NewDeviceID(), Timestamp: t0},
		UserID: NewUserID(),
	}, newKey(t))
	require.NoError(t, err)

	_, err = VerifyAndLoad(signed, newKey(t).VerifyKey())
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestUnsecureLoad_Garbage(t *testing.T) {
	tests := []struct {
		name   string
		signed []byte
	}{
		{"too short", []byte("abc")},
		{"not zstd", append(make([]byte, cryptox.SignatureSize), []byte("not compressed")...)},
		{"unknown type", newKey(t).Sign(encoder.EncodeAll([]byte(`{"type":"bogus","payload":{}}`), nil))},
		{"invalid payload", newKey(t).Sign(encoder.EncodeAll([]byte(`{"type":"user_certificate","payload":{"user_id":"x"}}`), nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnsecureLoad(tt.signed)
			require.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestDumpAndSign_RejectsInvalidCertificate(t *testing.T) {
	_, err := DumpAndSign(&ShamirRecoveryBriefCertificate{
		Header:    Header{Author: NewDeviceID(), Timestamp: t0},
		UserID:    NewUserID(),
		Threshold: 3,
		PerRecipientShares: map[UserID]uint8{
			NewUserID(): 1,
		},
	}, newKey(t))
	require.Error(t, err)
}

func TestUserCertificate_RedactedRequiresNoHandle(t *testing.T) {
	c := &UserCertificate{
		Header:      Header{Timestamp: t0},
		UserID:      NewUserID(),
		HumanHandle: &HumanHandle{Email: "alice@example.com", Label: "Alice"},
		Profile:     ProfileAdmin,
		Redacted:    true,
	}
	require.Error(t, c.validate())

	c.HumanHandle = nil
	require.NoError(t, c.validate())
}

func TestContentHash_Stable(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("a")), ContentHash([]byte("a")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
}
