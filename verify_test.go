package dkim

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_DuplicateHeadersAndMissingName(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)

	msg := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"To: c@example.com\r\n" +
		"Subject: hi\r\n" +
		"X-Duplicate-Header: one\r\n" +
		"X-Duplicate-Header: two\r\n" +
		"X-Duplicate-Header: three\r\n" +
		"X-Duplicate-Header: four\r\n" +
		"\r\nbody"

	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		Headers([]string{"From", "To", "Subject", "X-Duplicate-Header", "X-Does-Not-Exist"})

	header, err := Sign([]byte(msg), signer)
	require.NoError(t, err)

	full := append(append([]byte{}, header...), []byte(msg)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, ok := v.NextSignature()
	require.True(t, ok)
	require.NoError(t, occ.Err)

	// The configured header list names "To" and "X-Duplicate-Header"
	// once each, so only their most recent (bottom-most) occurrence
	// gets bound despite the duplicates; "X-Does-Not-Exist" has no
	// occurrence at all and contributes nothing, rather than failing
	// the signature outright.
	result := v.Verify(occ.Signature, record)
	assert.NoError(t, result.Err)

	require.Len(t, occ.Signature.H, 4)
}

func TestVerify_AUIDMismatch(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		AgentUserIdentifier("joe@not-example.com").Headers([]string{"From"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)

	full := append(append([]byte{}, header...), []byte(testMessage)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, ok := v.NextSignature()
	require.True(t, ok)

	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrFailedAUIDMatch, derr.Kind)
}

func TestVerify_AUIDSubdomainAccepted(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		AgentUserIdentifier("joe@mail.example.com").Headers([]string{"From"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)

	full := append(append([]byte{}, header...), []byte(testMessage)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	assert.NoError(t, result.Err)
}

func TestVerify_Expired(t *testing.T) {
	defer withFixedTime(1000)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		Headers([]string{"From"}).Expiration(60)

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)

	full := append(append([]byte{}, header...), []byte(testMessage)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	restore := withFixedTime(1000 + 61)
	defer restore()

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrSignatureExpired, derr.Kind)
}

func TestVerify_NotYetExpired(t *testing.T) {
	defer withFixedTime(1000)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		Headers([]string{"From"}).Expiration(60)

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)
	full := append(append([]byte{}, header...), []byte(testMessage)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	assert.NoError(t, result.Err)
}

func TestVerify_RevokedKey(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).Headers([]string{"From"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)
	full := append(append([]byte{}, header...), []byte(testMessage)...)

	record := &Record{K: KeyAlgorithmRSA, Revoked: true}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrRevokedPublicKey, derr.Kind)
}

func TestVerify_RecordForbidsAlgorithm(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		Algorithm(AlgorithmRSASHA256).Headers([]string{"From"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)
	full := append(append([]byte{}, header...), []byte(testMessage)...)

	// The record only advertises sha1 as acceptable, but the signature
	// used sha256.
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey, Flags: RecordHashSHA1}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrUnsupportedAlgorithm, derr.Kind)
}

func TestVerify_BodyHashMismatchOnTamperedBody(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		BodyLength(false).Headers([]string{"From"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)

	tampered := testMessage[:len(testMessage)-1] + "X"
	full := append(append([]byte{}, header...), []byte(tampered)...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrBodyHashMismatch, derr.Kind)
}

func TestVerify_HeaderTamperFailsVerification(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)
	signer := NewSigner().Domain("example.com").Selector("sel").PrivateKeyRSA(key).
		Headers([]string{"From", "Subject"})

	header, err := Sign([]byte(testMessage), signer)
	require.NoError(t, err)

	tamperedMessage := []byte(strings.ReplaceAll(testMessage, "Is dinner ready?", "Is dinner ready!!"))
	full := append(append([]byte{}, header...), tamperedMessage...)
	record := &Record{K: KeyAlgorithmRSA, RSAPublicKey: &key.PublicKey}

	v := NewVerifier(full)
	occ, _ := v.NextSignature()
	result := v.Verify(occ.Signature, record)
	require.Error(t, result.Err)
	var derr *Error
	require.ErrorAs(t, result.Err, &derr)
	assert.Equal(t, ErrFailedVerification, derr.Kind)
}

func TestQueryRecord_JoinsMultiPartTXT(t *testing.T) {
	lookup := func(name string) ([]string, error) {
		assert.Equal(t, "sel._domainkey.example.com", name)
		return []string{"v=DKIM1; k=rsa; ", "p="}, nil
	}
	rec, err := QueryRecord("example.com", "sel", lookup)
	require.NoError(t, err)
	assert.True(t, rec.Revoked)
}

func TestQueryRecord_LookupError(t *testing.T) {
	lookup := func(name string) ([]string, error) {
		return nil, assertErr{}
	}
	_, err := QueryRecord("example.com", "sel", lookup)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ErrKeyUnavailable, derr.Kind)
	assert.True(t, IsTempFail(err), "a lookup transport failure is retriable")
}

type assertErr struct{}

func (assertErr) Error() string { return "lookup failed" }

func TestPackageVerify_ConcurrentOrderMatchesMessageOrder(t *testing.T) {
	defer withFixedTime(424242)()
	key := testRSAKey(t)

	sig1, err := Sign([]byte(testMessage), NewSigner().Domain("a.example.com").Selector("s1").
		PrivateKeyRSA(key).Headers([]string{"From"}))
	require.NoError(t, err)
	sig2, err := Sign([]byte(testMessage), NewSigner().Domain("b.example.com").Selector("s2").
		PrivateKeyRSA(key).Headers([]string{"From"}))
	require.NoError(t, err)

	full := append(append(append([]byte{}, sig1...), sig2...), []byte(testMessage)...)

	pubB64 := testRSAPublicKeyBase64(t, &key.PublicKey)
	lookup := func(name string) ([]string, error) {
		return []string{"v=DKIM1; k=rsa; p=" + pubB64}, nil
	}

	results, err := Verify(full, lookup)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.example.com", results[0].Domain)
	assert.Equal(t, "b.example.com", results[1].Domain)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func testRSAPublicKeyBase64(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}
