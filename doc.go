// Package dkim creates and verifies DKIM signatures, as specified in
// RFC 6376, with Ed25519 support from RFC 8463. It operates entirely
// on in-memory byte buffers: DNS resolution, network transport, and
// logging are left to the caller.
package dkim
