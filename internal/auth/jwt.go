// Package auth mints and verifies the access tokens devices present to the
// server. Tokens are EdDSA JWTs signed with the device signing key, so the
// server checks them against the verify key of the device certificate.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the authenticated device.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID certificates.DeviceID `json:"device_id"`
}

// KeyLookup returns the verify key of a device, or an error when the device is
// unknown to the server.
type KeyLookup func(device certificates.DeviceID) (cryptox.VerifyKey, error)

func GenerateToken(device certificates.DeviceID, key cryptox.SigningKey, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		DeviceID: device,
	})

	tokenString, err := token.SignedString(ed25519.PrivateKey(key))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetDeviceIDFromToken verifies the token with the key of the device it
// claims to come from.
func GetDeviceIDFromToken(tokenString string, lookup KeyLookup) (certificates.DeviceID, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok || c.DeviceID == "" {
			return nil, common.ErrInvalidToken
		}
		key, err := lookup(c.DeviceID)
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.DeviceID, nil
}
