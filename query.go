package dkim

import "net"

// LookupTXTFunc resolves a DNS name to its TXT record strings, the
// same signature net.LookupTXT uses. DKIM itself has no opinion on how
// this happens (DNS transport, caching, DoH, a test double); the
// caller supplies it, which is what lets Verifier.Verify run against a
// fixed-size in-memory message with no network dependency of its own.
// QueryRecord (and so the package-level Verify) falls back to
// DefaultLookupTXT only when the caller passes a nil lookup.
type LookupTXTFunc func(name string) ([]string, error)

// DefaultLookupTXT wraps net.LookupTXT for callers that want ordinary
// DNS resolution and don't need to inject a stub or cache.
var DefaultLookupTXT LookupTXTFunc = net.LookupTXT

// QueryRecord resolves and parses the DKIM1 TXT record for selector
// and domain, joining the parts of a long, multi-string TXT record
// before parsing (RFC 6376 §3.6.2.2).
func QueryRecord(domain, selector string, lookup LookupTXTFunc) (*Record, error) {
	if lookup == nil {
		lookup = DefaultLookupTXT
	}

	name := selector + "._domainkey." + domain
	parts, err := lookup(name)
	if err != nil {
		return nil, wrapError(ErrKeyUnavailable, err)
	}

	var value []byte
	for _, p := range parts {
		value = append(value, p...)
	}

	return ParseRecord(value)
}
