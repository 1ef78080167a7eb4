package dkim

// Kind classifies the reason a DKIM operation failed, following the
// taxonomy a verifier needs to decide whether a failure is worth a
// retry, a permanent rejection, or a plain signature mismatch.
type Kind int

const (
	_ Kind = iota

	// Configuration failures: something required to even begin the
	// operation is missing.
	ErrMissingParameters

	// Transport failures: a caller-supplied dependency (the DNS lookup
	// behind QueryRecord) failed to produce an answer at all. Unlike
	// the failures below, retrying later may succeed.
	ErrKeyUnavailable

	// Format failures: the wire data is malformed.
	ErrBase64
	ErrUnsupportedVersion
	ErrUnsupportedRecordVersion
	ErrUnsupportedAlgorithm
	ErrUnsupportedCanonicalization
	ErrUnsupportedKeyType

	// Crypto failures.
	ErrPKCS
	ErrRSA
	ErrEd25519
	ErrEd25519Signature

	// Verification policy failures.
	ErrNoHeadersFound
	ErrBodyHashMismatch
	ErrFailedVerification
	ErrFailedAUIDMatch
	ErrSignatureExpired
	ErrRevokedPublicKey
)

var kindText = map[Kind]string{
	ErrMissingParameters:           "missing required parameters",
	ErrKeyUnavailable:              "public key lookup failed",
	ErrBase64:                      "malformed base64 data",
	ErrUnsupportedVersion:          "unsupported signature version",
	ErrUnsupportedRecordVersion:    "unsupported public key record version",
	ErrUnsupportedAlgorithm:        "unsupported algorithm",
	ErrUnsupportedCanonicalization: "unsupported canonicalization",
	ErrUnsupportedKeyType:          "unsupported key type",
	ErrPKCS:                        "failed to parse key material",
	ErrRSA:                         "rsa operation failed",
	ErrEd25519:                     "ed25519 key error",
	ErrEd25519Signature:            "ed25519 signature error",
	ErrNoHeadersFound:              "no headers were signed",
	ErrBodyHashMismatch:            "body hash did not verify",
	ErrFailedVerification:          "signature did not verify",
	ErrFailedAUIDMatch:             "auid domain does not match d=",
	ErrSignatureExpired:            "signature has expired",
	ErrRevokedPublicKey:            "public key has been revoked",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return "unknown dkim error"
}

// Error is the error type returned by every operation in this package.
// Callers that need to branch on the failure reason should use
// errors.As to recover the Kind rather than comparing error strings.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind) *Error {
	return &Error{Kind: kind}
}

func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "dkim: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "dkim: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &Error{Kind: dkim.ErrBodyHashMismatch}) match
// by Kind alone, ignoring the wrapped Err; Kind itself has no Error
// method, so it cannot be compared against directly.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Err == nil && other.Kind == e.Kind
}

// IsPermFail reports whether err can never succeed by retrying: a
// malformed signature, an unsupported algorithm, a revoked key, and so
// on.
func IsPermFail(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch e.Kind {
	case ErrMissingParameters, ErrBase64, ErrUnsupportedVersion,
		ErrUnsupportedRecordVersion, ErrUnsupportedAlgorithm,
		ErrUnsupportedCanonicalization, ErrUnsupportedKeyType,
		ErrPKCS, ErrRSA, ErrEd25519, ErrEd25519Signature, ErrNoHeadersFound,
		ErrRevokedPublicKey, ErrFailedAUIDMatch, ErrSignatureExpired:
		return true
	default:
		return false
	}
}

// IsTempFail reports whether err comes from a caller-supplied
// dependency that may succeed if retried, such as a DNS lookup that
// timed out or returned no answer.
func IsTempFail(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch e.Kind {
	case ErrKeyUnavailable:
		return true
	default:
		return false
	}
}

// IsFail reports whether err represents a cryptographic verification
// mismatch rather than a malformed or policy-rejected signature.
func IsFail(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch e.Kind {
	case ErrBodyHashMismatch, ErrFailedVerification:
		return true
	default:
		return false
	}
}
