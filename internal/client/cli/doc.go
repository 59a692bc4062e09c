// Package cli provides the interactive gophsafe command-line client.
//
// It wires configuration, the device key file, the local certificate store,
// the network command layer and an interactive REPL. Typical flow: unlock
// the device (or bootstrap a new organization when the data directory holds
// none), start a background connectivity watcher, and execute user commands.
//
// Key features:
//   - Poll the server for new certificates
//   - List users, realms and realm roles from the local store
//   - Create, rename and share realms; revoke users; change profiles
//   - Delete the user's shamir recovery setup
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher, and runREPL for details.
package cli
