package dkim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleCanonicalizeHeader(t *testing.T) {
	out := simpleCanonicalizeHeader([]byte("Subject"), []byte(" Hello World\r\n"))
	assert.Equal(t, "Subject: Hello World\r\n", string(out))
}

func TestRelaxedCanonicalizeHeader(t *testing.T) {
	out := relaxedCanonicalizeHeader([]byte(" Sub ject "), []byte("  Hello   World  \r\n"))
	assert.Equal(t, "subject:Hello World\r\n", string(out))
}

func TestCanonicalizeHeader_Dispatch(t *testing.T) {
	name, value := []byte("From"), []byte(" a@b.com\r\n")
	assert.Equal(t, simpleCanonicalizeHeader(name, value), canonicalizeHeader(CanonicalizationSimple, name, value))
	assert.Equal(t, relaxedCanonicalizeHeader(name, value), canonicalizeHeader(CanonicalizationRelaxed, name, value))
}

func TestReduceWS(t *testing.T) {
	assert.Equal(t, "Hello World", string(reduceWS([]byte("  Hello   World  "))))
	assert.Equal(t, "", string(reduceWS([]byte("   \r\n   "))))
	assert.Equal(t, "a b", string(reduceWS([]byte("a\r\n b"))))
}

func TestFixCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", string(fixCRLF([]byte("a\nb\n"))))
	assert.Equal(t, "a\r\nb\r\n", string(fixCRLF([]byte("a\r\nb\r\n"))), "already-CRLF input is unchanged")
}

func TestCanonicalizeBody_SimpleNoTrailingBlankLines(t *testing.T) {
	body := "line one\r\nline two\r\n"
	out := canonicalizeBody(CanonicalizationSimple, []byte(body))
	assert.Equal(t, body, string(out))
}

func TestCanonicalizeBody_SimpleStripsTrailingBlankLines(t *testing.T) {
	body := "line one\r\nline two\r\n\r\n\r\n"
	out := canonicalizeBody(CanonicalizationSimple, []byte(body))
	assert.Equal(t, "line one\r\nline two\r\n", string(out))
}

func TestCanonicalizeBody_SimpleEmptyBodyIsSingleCRLF(t *testing.T) {
	out := canonicalizeBody(CanonicalizationSimple, []byte(""))
	assert.Equal(t, "\r\n", string(out))
}

func TestCanonicalizeBody_SimpleAllBlankLinesIsSingleCRLF(t *testing.T) {
	out := canonicalizeBody(CanonicalizationSimple, []byte("\r\n\r\n"))
	assert.Equal(t, "\r\n", string(out))
}

func TestCanonicalizeBody_RelaxedCollapsesWhitespaceAndStripsTrailingBlankLines(t *testing.T) {
	body := " line one \r\n line two  \r\n\r\n\r\n"
	out := canonicalizeBody(CanonicalizationRelaxed, []byte(body))
	assert.Equal(t, " line one\r\n line two\r\n", string(out))
}

func TestCanonicalizeBody_RelaxedEmptyBodyIsEmpty(t *testing.T) {
	out := canonicalizeBody(CanonicalizationRelaxed, []byte(""))
	assert.Empty(t, out)
}

func TestCanonicalizeBody_RelaxedAllWhitespaceIsEmpty(t *testing.T) {
	out := canonicalizeBody(CanonicalizationRelaxed, []byte("   \r\n  \r\n"))
	assert.Empty(t, out)
}

func TestCanonicalizeBody_LFOnlyInputNormalizesToCRLF(t *testing.T) {
	out := canonicalizeBody(CanonicalizationSimple, []byte("line one\nline two\n"))
	assert.Equal(t, "line one\r\nline two\r\n", string(out))
}

// Canonicalization is idempotent: running an already-canonical body
// back through the same canonicalizer reproduces it exactly.
func TestCanonicalizeBody_Idempotent(t *testing.T) {
	for _, c := range []Canonicalization{CanonicalizationSimple, CanonicalizationRelaxed} {
		body := []byte(" line one \r\nline two\r\n\r\n")
		once := canonicalizeBody(c, body)
		twice := canonicalizeBody(c, once)
		assert.Equal(t, once, twice, "canonicalization %v not idempotent", c)
	}
}

func TestCanonicalizeHeader_Idempotent(t *testing.T) {
	name, value := []byte(" Subject "), []byte("  Hello   World  \r\n")
	once := relaxedCanonicalizeHeader(name, value)

	colon := -1
	for i, b := range once {
		if b == ':' {
			colon = i
			break
		}
	}
	nameOnly, valueOnly := once[:colon], once[colon+1:]
	twice := relaxedCanonicalizeHeader(nameOnly, valueOnly)
	assert.Equal(t, once, twice)
}
