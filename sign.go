package dkim

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/ed25519"
)

// randReader is the entropy source RSA signing draws from, kept in a
// package variable so it can be replaced.
var randReader io.Reader = rand.Reader

// now is the wall clock Signer reads t= and x= from; overridden in
// tests so fixtures don't drift with the calendar.
var now = time.Now

// signerKey is a tagged union over the three ways a Signer can be
// given private key material: none yet (builder not finished), an RSA
// key, an Ed25519 key, or an arbitrary crypto.Signer for callers with
// their own key management (an HSM-backed signer, say).
type signerKey struct {
	rsaKey *rsa.PrivateKey
	edKey  ed25519.PrivateKey
	signer crypto.Signer
}

func (k signerKey) isSet() bool {
	return k.rsaKey != nil || k.edKey != nil || k.signer != nil
}

// Signer builds up a DKIM-Signature configuration and produces a
// signed Signature from a message. The zero value is not usable;
// construct with NewSigner and chain the setters, mirroring the
// builder-style configuration this package's reference implementation
// uses.
type Signer struct {
	domain     []byte
	selector   []byte
	identifier []byte
	algorithm  Algorithm
	headerKeys [][]byte
	allHeaders bool
	ch, cb     Canonicalization
	expireIn   int64
	bodyLength bool
	key        signerKey
}

// NewSigner returns a Signer defaulting to relaxed/relaxed
// canonicalization, rsa-sha256, and every header in the message
// signed (the safest default; callers that want RFC 6376 §5.4.1's
// recommended header set should call Headers explicitly).
func NewSigner() *Signer {
	return &Signer{
		algorithm:  AlgorithmRSASHA256,
		ch:         CanonicalizationRelaxed,
		cb:         CanonicalizationRelaxed,
		allHeaders: true,
	}
}

func (s *Signer) Domain(domain string) *Signer {
	s.domain = []byte(domain)
	return s
}

func (s *Signer) Selector(selector string) *Signer {
	s.selector = []byte(selector)
	return s
}

func (s *Signer) AgentUserIdentifier(auid string) *Signer {
	s.identifier = []byte(auid)
	return s
}

// Headers restricts which header fields are eligible for signing, by
// name, in the order RFC 6376 §5.4.1 recommends callers list them.
// "From" should be included; Sign rejects a configuration that omits
// it. Passing no names at all (an empty, non-nil slice) is invalid;
// to sign every header present, don't call Headers.
func (s *Signer) Headers(names []string) *Signer {
	s.headerKeys = make([][]byte, len(names))
	for i, n := range names {
		s.headerKeys[i] = []byte(n)
	}
	s.allHeaders = false
	return s
}

func (s *Signer) HeaderCanonicalization(c Canonicalization) *Signer {
	s.ch = c
	return s
}

func (s *Signer) BodyCanonicalization(c Canonicalization) *Signer {
	s.cb = c
	return s
}

// BodyLength, when enabled, records the exact canonicalized body
// length in l= so bytes appended to the message after signing (a
// mailing list footer, for instance) don't invalidate the signature.
func (s *Signer) BodyLength(enabled bool) *Signer {
	s.bodyLength = enabled
	return s
}

// Expiration sets x= to seconds after t=. Zero (the default) omits
// x= entirely, meaning the signature never expires.
func (s *Signer) Expiration(seconds int64) *Signer {
	s.expireIn = seconds
	return s
}

// Algorithm overrides the default rsa-sha256. Setting an Ed25519 key
// via PrivateKeyEd25519 overrides this back to ed25519-sha256, so
// call Algorithm after setting the key if a specific choice matters.
func (s *Signer) Algorithm(a Algorithm) *Signer {
	s.algorithm = a
	return s
}

func (s *Signer) PrivateKeyRSA(key *rsa.PrivateKey) *Signer {
	s.key = signerKey{rsaKey: key}
	return s
}

// PrivateKeyRSAPEM accepts a PEM block in either PKCS#1 or PKCS#8 form.
func (s *Signer) PrivateKeyRSAPEM(pemBytes []byte) (*Signer, error) {
	key, err := parseRSAPrivateKeyPEM(pemBytes)
	if err != nil {
		return s, err
	}
	return s.PrivateKeyRSA(key), nil
}

// PrivateKeyEd25519 also switches Algorithm to ed25519-sha256, since
// an RSA algorithm tag paired with an Ed25519 key can never verify.
func (s *Signer) PrivateKeyEd25519(key ed25519.PrivateKey) *Signer {
	s.key = signerKey{edKey: key}
	s.algorithm = AlgorithmEd25519SHA256
	return s
}

// PrivateKey accepts any crypto.Signer, for callers whose key lives
// behind their own interface (an HSM or KMS client, say). The caller
// is responsible for calling Algorithm to match the key's type.
func (s *Signer) PrivateKey(signer crypto.Signer) *Signer {
	s.key = signerKey{signer: signer}
	return s
}

func parseRSAPrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, newError(ErrPKCS)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, wrapError(ErrPKCS, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newError(ErrPKCS)
	}
	return rsaKey, nil
}

// Sign signs message and returns the DKIM-Signature header field to
// prepend to it (including the trailing CRLF).
func Sign(message []byte, signer *Signer) ([]byte, error) {
	sig, err := signer.buildSignature(message)
	if err != nil {
		return nil, err
	}
	return emitSignature(sig, true), nil
}

func (s *Signer) buildSignature(message []byte) (*Signature, error) {
	if len(s.domain) == 0 || len(s.selector) == 0 || !s.key.isSet() {
		return nil, newError(ErrMissingParameters)
	}
	if !s.allHeaders {
		haveFrom := false
		for _, n := range s.headerKeys {
			if bytesEqualFoldString(n, "from") {
				haveFrom = true
				break
			}
		}
		if !haveFrom {
			return nil, newError(ErrMissingParameters)
		}
	}
	if s.algorithm == AlgorithmEd25519SHA256 && s.key.edKey == nil && s.key.signer == nil {
		return nil, newError(ErrMissingParameters)
	}
	if s.algorithm != AlgorithmEd25519SHA256 && s.key.rsaKey == nil && s.key.signer == nil {
		return nil, newError(ErrMissingParameters)
	}

	headers, body := SplitMessage(message)

	var configured [][]byte
	if !s.allHeaders {
		configured = s.headerKeys
	}
	bound := bindSignedHeaders(headers, configured)
	if len(bound) == 0 {
		return nil, newError(ErrNoHeadersFound)
	}

	canonBody := canonicalizeBody(s.cb, body)
	bodyHash := s.algorithm.hash().New()
	bodyHash.Write(canonBody)
	bh := bodyHash.Sum(nil)

	t := now().Unix()
	var x int64
	if s.expireIn > 0 {
		x = t + s.expireIn
	}

	names := make([][]byte, len(bound))
	for i, hdr := range bound {
		names[i] = bytes.TrimSpace(hdr.Name)
	}

	sig := &Signature{
		V:  1,
		A:  s.algorithm,
		D:  s.domain,
		S:  s.selector,
		I:  s.identifier,
		H:  names,
		CH: s.ch,
		CB: s.cb,
		BH: bh,
		T:  t,
		X:  x,
	}
	if s.bodyLength {
		sig.L = int64(len(canonBody))
	}

	headerHash := s.algorithm.hash().New()
	for _, hdr := range bound {
		headerHash.Write(canonicalizeHeader(s.ch, hdr.Name, hdr.Value))
	}
	headerHash.Write(emitSignature(sig, false))
	hashed := headerHash.Sum(nil)

	signature, err := s.signBytes(hashed)
	if err != nil {
		return nil, err
	}
	sig.B = signature

	return sig, nil
}

func (s *Signer) signBytes(hashed []byte) ([]byte, error) {
	switch {
	case s.key.edKey != nil:
		return ed25519.Sign(s.key.edKey, hashed), nil
	case s.key.rsaKey != nil:
		sig, err := rsa.SignPKCS1v15(randReader, s.key.rsaKey, s.algorithm.hash(), hashed)
		if err != nil {
			return nil, wrapError(ErrRSA, err)
		}
		return sig, nil
	case s.key.signer != nil:
		sig, err := s.key.signer.Sign(randReader, hashed, s.algorithm.hash())
		if err != nil {
			return nil, wrapError(ErrRSA, err)
		}
		return sig, nil
	default:
		return nil, newError(ErrMissingParameters)
	}
}

// bindSignedHeaders selects which physical header occurrences a
// signature covers, per RFC 6376 §5.4.2/§6.1.1's ordering: the header
// block is scanned from the bottom up, binding the most recent
// not-yet-consumed occurrence of each wanted name. names is a multiset
// given as one entry per desired binding (so ["To", "To"] binds the
// two most recent To: headers); a nil names binds every header found,
// bottom-up, which is also the order a signature's own h= list ends
// up in when built from an explicit multiset, since both are produced
// by the same bottom-up pass.
func bindSignedHeaders(headers []Header, names [][]byte) []Header {
	allowAll := names == nil
	remaining := make(map[string]int, len(names))
	if !allowAll {
		for _, n := range names {
			remaining[strings.ToLower(strings.TrimSpace(string(n)))]++
		}
	}

	var bound []Header
	for i := len(headers) - 1; i >= 0; i-- {
		key := strings.ToLower(strings.TrimSpace(string(headers[i].Name)))
		if allowAll {
			bound = append(bound, headers[i])
			continue
		}
		if remaining[key] > 0 {
			remaining[key]--
			bound = append(bound, headers[i])
		}
	}
	return bound
}
