package dkim

import (
	"bytes"
	"crypto/rsa"
	"strings"
	"time"

	"golang.org/x/crypto/ed25519"
)

// Verification reports the outcome of checking one DKIM-Signature
// header against its public key record. Fields are populated from the
// signature even when Err is set, so a caller can log which domain or
// selector failed without re-parsing anything.
type Verification struct {
	Domain       string
	Selector     string
	Identifier   string
	HeaderKeys   []string
	BodyLength   int64
	Time         time.Time
	Expiration   time.Time
	Algorithm    Algorithm
	KeyAlgorithm KeyAlgorithm
	Err          error
}

// SignatureOccurrence is one DKIM-Signature header found by a
// Verifier, already parsed. Err is set instead of Signature when the
// header's tag list was malformed; a single bad signature does not
// stop NextSignature from yielding the others.
type SignatureOccurrence struct {
	Signature *Signature
	Header    Header
	Err       error
}

// Verifier is a single-use cursor over one message's DKIM-Signature
// headers. It is not safe for concurrent use; the package-level Verify
// constructs a fresh Verifier per signature when verifying
// concurrently.
type Verifier struct {
	headers []Header
	body    []byte
	sigPos  []int
	next    int
}

// NewVerifier splits message and locates every DKIM-Signature header
// in it, in the order they appear.
func NewVerifier(message []byte) *Verifier {
	headers, body := SplitMessage(message)

	classifier := NewHeaderClassifier(message)
	var sigPos []int
	for i := 0; ; i++ {
		ch, ok := classifier.Next()
		if !ok {
			break
		}
		if ch.Label == LabelDKIMSignature {
			sigPos = append(sigPos, i)
		}
	}

	return &Verifier{headers: headers, body: body, sigPos: sigPos}
}

// NextSignature returns the next DKIM-Signature header in the
// message, parsed, or ok=false once every signature has been
// returned.
func (v *Verifier) NextSignature() (SignatureOccurrence, bool) {
	if v.next >= len(v.sigPos) {
		return SignatureOccurrence{}, false
	}
	h := v.headers[v.sigPos[v.next]]
	v.next++

	sig, err := ParseSignature(h.Value)
	return SignatureOccurrence{Signature: sig, Header: h, Err: err}, true
}

// Verify checks sig against record, following RFC 6376 §6.1's
// verification steps: expiration, AUID domain match, algorithm
// acceptability, body hash, header hash, and finally the cryptographic
// signature itself. It returns as soon as a step fails; Verification's
// descriptive fields are always filled in regardless of outcome.
func (v *Verifier) Verify(sig *Signature, record *Record) *Verification {
	result := newVerificationResult(sig, record)

	if record.Revoked {
		result.Err = newError(ErrRevokedPublicKey)
		return result
	}
	if sig.X > 0 && now().Unix() > sig.X {
		result.Err = newError(ErrSignatureExpired)
		return result
	}
	if len(sig.I) > 0 && !auidMatchesDomain(sig.I, sig.D) {
		result.Err = newError(ErrFailedAUIDMatch)
		return result
	}
	if recordForbidsAlgorithm(record, sig.A) {
		result.Err = newError(ErrUnsupportedAlgorithm)
		return result
	}

	canonBody := canonicalizeBody(sig.CB, v.body)
	if sig.L > 0 && int64(len(canonBody)) > sig.L {
		canonBody = canonBody[:sig.L]
	}
	bodyHash := sig.A.hash().New()
	bodyHash.Write(canonBody)
	if !bytes.Equal(bodyHash.Sum(nil), sig.BH) {
		result.Err = newError(ErrBodyHashMismatch)
		return result
	}

	bound := reconstructSignedHeaders(v.headers, sig.H)
	if len(bound) == 0 {
		result.Err = newError(ErrNoHeadersFound)
		return result
	}

	headerHash := sig.A.hash().New()
	for _, hdr := range bound {
		headerHash.Write(canonicalizeHeader(sig.CH, hdr.Name, hdr.Value))
	}
	blanked := *sig
	blanked.B = nil
	headerHash.Write(emitSignature(&blanked, false))
	hashed := headerHash.Sum(nil)

	result.Err = verifySignatureBytes(sig, record, hashed)
	return result
}

func newVerificationResult(sig *Signature, record *Record) *Verification {
	result := &Verification{
		Domain:     string(sig.D),
		Selector:   string(sig.S),
		Identifier: string(sig.I),
		Algorithm:  sig.A,
		BodyLength: sig.L,
	}
	if record != nil {
		result.KeyAlgorithm = record.K
	}
	if sig.T > 0 {
		result.Time = time.Unix(sig.T, 0)
	}
	if sig.X > 0 {
		result.Expiration = time.Unix(sig.X, 0)
	}
	result.HeaderKeys = make([]string, len(sig.H))
	for i, h := range sig.H {
		result.HeaderKeys[i] = string(h)
	}
	return result
}

// auidMatchesDomain reports whether the domain part of an i= AUID
// (everything after the last '@') equals d or is a subdomain of it,
// case-insensitively.
func auidMatchesDomain(auid, d []byte) bool {
	at := bytes.LastIndexByte(auid, '@')
	if at < 0 {
		return false
	}
	auidDomain := auid[at+1:]
	if bytesEqualFoldBytes(auidDomain, d) {
		return true
	}
	if len(auidDomain) <= len(d)+1 {
		return false
	}
	suffix := auidDomain[len(auidDomain)-len(d)-1:]
	return suffix[0] == '.' && bytesEqualFoldBytes(suffix[1:], d)
}

func bytesEqualFoldBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if toLowerASCII(a[i]) != toLowerASCII(b[i]) {
			return false
		}
	}
	return true
}

// recordForbidsAlgorithm reports whether record's h= tag names an
// explicit set of acceptable hash algorithms that excludes a's hash.
// A record with no h= tag at all places no restriction.
func recordForbidsAlgorithm(record *Record, a Algorithm) bool {
	allowed := record.Flags & (RecordHashSHA1 | RecordHashSHA256)
	if allowed == 0 {
		return false
	}
	if a == AlgorithmRSASHA1 {
		return allowed&RecordHashSHA1 == 0
	}
	return allowed&RecordHashSHA256 == 0
}

// reconstructSignedHeaders rebuilds the exact header sequence a
// signature's h= tag declares, per RFC 6376 §6.1.1: for each name
// listed in h (in the order given), scan the message's headers from
// the bottom up and bind the next not-yet-consumed occurrence matching
// that name case-insensitively. A name with no remaining occurrence
// contributes nothing. This is the mirror image of bindSignedHeaders,
// which instead derives an h= list from a caller's desired names;
// here the h= order is already fixed and drives the scan.
func reconstructSignedHeaders(headers []Header, h [][]byte) []Header {
	consumed := make(map[string]int, len(h))
	bound := make([]Header, 0, len(h))

	for _, name := range h {
		key := strings.ToLower(strings.TrimSpace(string(name)))
		skip := consumed[key]

		seen := 0
		for i := len(headers) - 1; i >= 0; i-- {
			hk := strings.ToLower(strings.TrimSpace(string(headers[i].Name)))
			if hk != key {
				continue
			}
			if seen == skip {
				bound = append(bound, headers[i])
				consumed[key] = skip + 1
				break
			}
			seen++
		}
	}
	return bound
}

// verifySignatureBytes checks the cryptographic signature b against
// hashed using record's public key.
func verifySignatureBytes(sig *Signature, record *Record, hashed []byte) error {
	switch sig.A {
	case AlgorithmEd25519SHA256:
		if record.Ed25519PublicKey == nil {
			return newError(ErrUnsupportedKeyType)
		}
		if !ed25519.Verify(record.Ed25519PublicKey, hashed, sig.B) {
			return newError(ErrFailedVerification)
		}
		return nil
	default:
		if record.RSAPublicKey == nil {
			return newError(ErrUnsupportedKeyType)
		}
		if err := rsa.VerifyPKCS1v15(record.RSAPublicKey, sig.A.hash(), hashed, sig.B); err != nil {
			return wrapError(ErrFailedVerification, err)
		}
		return nil
	}
}

// Verify parses message and verifies every DKIM-Signature header it
// contains, looking up each one's public key record via lookup. More
// than one signature is verified concurrently, since body-hash
// computation dominates the cost and signatures are independent of
// one another; results are returned in the order the signatures
// appear in the message regardless of completion order.
func Verify(message []byte, lookup LookupTXTFunc) ([]*Verification, error) {
	occurrences := collectSignatures(message)
	if len(occurrences) == 0 {
		return nil, newError(ErrNoHeadersFound)
	}

	results := make([]*Verification, len(occurrences))
	done := make(chan int, len(occurrences))

	for i, occ := range occurrences {
		go func(i int, occ SignatureOccurrence) {
			results[i] = verifyOne(message, occ, lookup)
			done <- i
		}(i, occ)
	}
	for range occurrences {
		<-done
	}
	return results, nil
}

func collectSignatures(message []byte) []SignatureOccurrence {
	v := NewVerifier(message)
	var occurrences []SignatureOccurrence
	for {
		occ, ok := v.NextSignature()
		if !ok {
			break
		}
		occurrences = append(occurrences, occ)
	}
	return occurrences
}

func verifyOne(message []byte, occ SignatureOccurrence, lookup LookupTXTFunc) *Verification {
	if occ.Err != nil {
		return &Verification{Err: occ.Err}
	}

	record, err := QueryRecord(string(occ.Signature.D), string(occ.Signature.S), lookup)
	if err != nil {
		result := newVerificationResult(occ.Signature, nil)
		result.Err = err
		return result
	}

	v := NewVerifier(message)
	return v.Verify(occ.Signature, record)
}
