// Package client contains the network command layer of the gophsafe client.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) for the
//     certificate commands: CertificateGet, the user, realm and shamir
//     recovery actions, OrganizationBootstrap and Ping.
//  2. A concrete gRPC implementation (see GRPCClient) that sends commands as
//     JSON messages, injects a device-signed access token via an interceptor,
//     re-mints the token when the server reports it expired, and maps gRPC
//     status codes to sentinel errors.
//  3. Local persistence bootstrap utilities (DSN, InitDatabase, RunMigrations),
//     opening an SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Transport failures are reported as common.ErrOffline, rejected credentials
// as common.ErrorUnauthorized. Anything else is a common.InternalError.
// Command statuses such as require_greater_timestamp are not errors at this
// level; they come back in wire.ActionRep.
package client
