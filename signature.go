package dkim

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"

	"golang.org/x/crypto/ed25519"
)

// Algorithm is one of the three signing algorithms RFC 6376 and its
// Ed25519 extension (RFC 8463) define.
type Algorithm int

const (
	AlgorithmRSASHA1 Algorithm = iota
	AlgorithmRSASHA256
	AlgorithmEd25519SHA256
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSASHA1:
		return "rsa-sha1"
	case AlgorithmRSASHA256:
		return "rsa-sha256"
	case AlgorithmEd25519SHA256:
		return "ed25519-sha256"
	default:
		return "unknown"
	}
}

// hash returns the digest algorithm a signs with.
func (a Algorithm) hash() crypto.Hash {
	if a == AlgorithmRSASHA1 {
		return crypto.SHA1
	}
	return crypto.SHA256
}

// Canonicalization selects how a header or body is normalized before
// hashing, per RFC 6376 §3.4.
type Canonicalization int

const (
	CanonicalizationSimple Canonicalization = iota
	CanonicalizationRelaxed
)

func (c Canonicalization) String() string {
	if c == CanonicalizationRelaxed {
		return "relaxed"
	}
	return "simple"
}

// Signature is a parsed DKIM-Signature (or ARC-Message-Signature)
// header value. Byte-slice fields do not share the backing array of
// the header value they were parsed from: D, S, B, BH, H and Z are
// copies produced by the tag-list cursor, and I is a copy that has
// also been quoted-printable decoded.
type Signature struct {
	V  int
	A  Algorithm
	D  []byte
	S  []byte
	I  []byte
	B  []byte
	BH []byte
	H  [][]byte
	Z  [][]byte
	L  int64
	T  int64
	X  int64
	CH Canonicalization
	CB Canonicalization
}

var requiredSignatureTags = []tagKey{keyD, keyS, keyB, keyBH, keyH}

// ParseSignature parses the tag-list value of a DKIM-Signature header
// (everything after the header's colon). Unknown tags are tolerated
// and ignored; missing required tags (d, s, b, bh, h) fail with
// ErrMissingParameters.
func ParseSignature(value []byte) (*Signature, error) {
	sig := &Signature{
		A:  AlgorithmRSASHA256,
		CH: CanonicalizationSimple,
		CB: CanonicalizationSimple,
	}
	cur := newCursor(value)
	for {
		key, ok := cur.key()
		if !ok {
			break
		}
		switch key {
		case keyV:
			n, _ := cur.number()
			sig.V = int(n)
			if sig.V != 1 {
				return nil, newError(ErrUnsupportedVersion)
			}
		case keyA:
			a, err := cur.algorithm()
			if err != nil {
				return nil, err
			}
			sig.A = a
		case keyB:
			b, err := decodeBase64Tag(cur)
			if err != nil {
				return nil, err
			}
			sig.B = b
		case keyBH:
			bh, err := decodeBase64Tag(cur)
			if err != nil {
				return nil, err
			}
			sig.BH = bh
		case keyC:
			ch, cb, err := cur.canonicalization(CanonicalizationSimple)
			if err != nil {
				return nil, err
			}
			sig.CH, sig.CB = ch, cb
		case keyD:
			sig.D = cur.tag()
		case keyH:
			sig.H = cur.items()
		case keyI:
			sig.I = cur.tagQP()
		case keyL:
			n, _ := cur.number()
			sig.L = n
		case keyS:
			sig.S = cur.tag()
		case keyT:
			n, _ := cur.number()
			sig.T = n
		case keyX:
			n, _ := cur.number()
			sig.X = n
		case keyZ:
			sig.Z = cur.headersQP()
		default:
			cur.ignore()
		}
	}

	if len(sig.D) == 0 || len(sig.S) == 0 || len(sig.B) == 0 || len(sig.BH) == 0 || len(sig.H) == 0 {
		return nil, newError(ErrMissingParameters)
	}
	return sig, nil
}

func decodeBase64Tag(cur *cursor) ([]byte, error) {
	raw := cur.rawValue()
	if len(raw) == 0 {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, wrapError(ErrBase64, err)
	}
	return decoded, nil
}

// KeyAlgorithm is the public key type a DKIM1 record advertises.
type KeyAlgorithm int

const (
	KeyAlgorithmRSA KeyAlgorithm = iota
	KeyAlgorithmEd25519
)

func (k KeyAlgorithm) String() string {
	if k == KeyAlgorithmEd25519 {
		return "ed25519"
	}
	return "rsa"
}

// Record is a parsed DKIM1 public-key TXT record.
type Record struct {
	K                KeyAlgorithm
	Flags            uint64
	Revoked          bool
	RSAPublicKey     *rsa.PublicKey
	Ed25519PublicKey ed25519.PublicKey
}

// ParseRecord parses a DKIM1 TXT record value (the concatenation of
// every string in a multi-part TXT record).
func ParseRecord(value []byte) (*Record, error) {
	rec := &Record{K: KeyAlgorithmRSA}
	var pubKeyRaw []byte
	havePubKeyTag := false

	cur := newCursor(value)
	for {
		key, ok := cur.key()
		if !ok {
			break
		}
		switch key {
		case keyV:
			cur.skipWSP()
			if !cur.matchBytes([]byte("DKIM1")) || !cur.seekTagEnd() {
				return nil, newError(ErrUnsupportedRecordVersion)
			}
		case keyH:
			rec.Flags |= cur.flags(parseHashAlgoFlag)
		case keyP:
			havePubKeyTag = true
			raw := cur.rawValue()
			if len(raw) > 0 {
				decoded, err := base64.StdEncoding.DecodeString(string(raw))
				if err != nil {
					return nil, wrapError(ErrBase64, err)
				}
				pubKeyRaw = decoded
			}
		case keyS:
			rec.Flags |= cur.flags(parseServiceFlag)
		case keyT:
			rec.Flags |= cur.flags(parseRecordFlag)
		case keyK:
			cur.skipWSP()
			switch {
			case !cur.eof() && cur.buf[cur.pos] == ';':
				cur.pos++
			case cur.matchBytes([]byte("rsa")) && cur.seekTagEnd():
				rec.K = KeyAlgorithmRSA
			case cur.matchBytes([]byte("ed25519")) && cur.seekTagEnd():
				rec.K = KeyAlgorithmEd25519
			default:
				return nil, newError(ErrUnsupportedKeyType)
			}
		case keyN:
			cur.ignore()
		default:
			cur.ignore()
		}
	}

	if !havePubKeyTag || len(pubKeyRaw) == 0 {
		rec.Revoked = true
		return rec, nil
	}

	switch rec.K {
	case KeyAlgorithmEd25519:
		if len(pubKeyRaw) != ed25519.PublicKeySize {
			return nil, newError(ErrEd25519Signature)
		}
		rec.Ed25519PublicKey = ed25519.PublicKey(pubKeyRaw)
	default:
		pub, err := parseRSAPublicKey(pubKeyRaw)
		if err != nil {
			return nil, wrapError(ErrPKCS, err)
		}
		rec.RSAPublicKey = pub
	}
	return rec, nil
}

// parseRSAPublicKey accepts either an X.509 SubjectPublicKeyInfo DER
// blob (the common case, produced by "openssl genrsa | openssl rsa
// -pubout") or a bare PKCS#1 RSAPublicKey DER blob, since both appear
// in the wild as the "p=" value of a DKIM1 record.
func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaPub, ok := pub.(*rsa.PublicKey); ok {
			return rsaPub, nil
		}
	}
	return x509.ParsePKCS1PublicKey(der)
}
