// Package certstore keeps the local, ordered log of validated certificates.
//
// The store publishes immutable snapshots: readers work on the snapshot that
// was current when ForRead started, while a single writer builds the next
// snapshot privately (copy-on-write) and publishes it only once the backend
// commit succeeded. Readers therefore never observe a partially applied
// write, nor the empty store left by ForgetAll before it is refilled.
//
// Derived views (last realm role, last shamir recovery setup, user profile
// history, ...) are indices maintained on every append and answer point in
// time queries through UpTo.
package certstore
