// Package common contains shared constants and sentinel errors used across
// gophsafe components.
package common

// AccessTokenHeaderName is the gRPC metadata key carrying the device-signed
// access token.
const AccessTokenHeaderName = "access_token"
