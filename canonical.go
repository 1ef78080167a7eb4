package dkim

import (
	"bytes"
	"io"
)

const crlf = "\r\n"

// canonicalizeHeader renders a header pair the way c requires it to
// appear in the header hash. Name and Value come straight from a
// Header or ClassifiedHeader: Value already carries its terminating
// line break, which is exactly what simple canonicalization wants
// left untouched.
func canonicalizeHeader(c Canonicalization, name, value []byte) []byte {
	if c == CanonicalizationRelaxed {
		return relaxedCanonicalizeHeader(name, value)
	}
	return simpleCanonicalizeHeader(name, value)
}

func simpleCanonicalizeHeader(name, value []byte) []byte {
	out := make([]byte, 0, len(name)+1+len(value))
	out = append(out, name...)
	out = append(out, ':')
	out = append(out, value...)
	return out
}

func relaxedCanonicalizeHeader(name, value []byte) []byte {
	lname := make([]byte, 0, len(name))
	for _, b := range name {
		if isWSP(b) {
			continue
		}
		lname = append(lname, toLowerASCII(b))
	}

	v := reduceWS(value)

	out := make([]byte, 0, len(lname)+1+len(v)+2)
	out = append(out, lname...)
	out = append(out, ':')
	out = append(out, v...)
	out = append(out, '\r', '\n')
	return out
}

// reduceWS collapses every run of ASCII whitespace to a single space
// and drops leading/trailing whitespace entirely, the relaxed header
// canonicalization rule from RFC 6376 §3.4.2.
func reduceWS(b []byte) []byte {
	out := make([]byte, 0, len(b))
	pendingSpace := false
	started := false
	for _, ch := range b {
		if isWSP(ch) {
			if started {
				pendingSpace = true
			}
			continue
		}
		if pendingSpace {
			out = append(out, ' ')
			pendingSpace = false
		}
		out = append(out, ch)
		started = true
	}
	return out
}

// fixCRLF inserts a \r before any \n that doesn't already have one, so
// a body using bare LF line endings canonicalizes the same way a CRLF
// body would.
func fixCRLF(b []byte) []byte {
	res := make([]byte, 0, len(b))
	for i := range b {
		if b[i] == '\n' && (i == 0 || b[i-1] != '\r') {
			res = append(res, '\r')
		}
		res = append(res, b[i])
	}
	return res
}

// newBodyCanonicalizer returns a streaming canonicalizer for w.
func newBodyCanonicalizer(c Canonicalization, w io.Writer) io.WriteCloser {
	if c == CanonicalizationRelaxed {
		return &relaxedBodyCanonicalizer{w: w}
	}
	return &simpleBodyCanonicalizer{w: w}
}

type simpleBodyCanonicalizer struct {
	w       io.Writer
	crlfBuf []byte
}

func (c *simpleBodyCanonicalizer) Write(b []byte) (int, error) {
	written := len(b)
	b = append(c.crlfBuf, b...)
	b = fixCRLF(b)

	end := len(b)
	if end > 0 && b[end-1] == '\r' {
		end--
	}
	for end >= 2 {
		prev := b[end-2]
		cur := b[end-1]
		if prev != '\r' || cur != '\n' {
			break
		}
		end -= 2
	}

	c.crlfBuf = append([]byte(nil), b[end:]...)

	var err error
	if end > 0 {
		_, err = c.w.Write(b[:end])
	}
	return written, err
}

func (c *simpleBodyCanonicalizer) Close() error {
	if len(c.crlfBuf) > 0 && c.crlfBuf[len(c.crlfBuf)-1] == '\r' {
		if _, err := c.w.Write(c.crlfBuf); err != nil {
			return err
		}
	}
	c.crlfBuf = nil

	_, err := c.w.Write([]byte(crlf))
	return err
}

type relaxedBodyCanonicalizer struct {
	w       io.Writer
	crlfBuf []byte
	wspBuf  bool
	written bool
}

func (c *relaxedBodyCanonicalizer) Write(b []byte) (int, error) {
	written := len(b)
	b = fixCRLF(b)

	canonical := make([]byte, 0, len(b))
	for _, ch := range b {
		switch {
		case ch == ' ' || ch == '\t':
			c.wspBuf = true
		case ch == '\r' || ch == '\n':
			c.wspBuf = false
			c.crlfBuf = append(c.crlfBuf, ch)
		default:
			if len(c.crlfBuf) > 0 {
				canonical = append(canonical, c.crlfBuf...)
				c.crlfBuf = nil
			}
			if c.wspBuf {
				canonical = append(canonical, ' ')
				c.wspBuf = false
			}
			canonical = append(canonical, ch)
		}
	}

	if !c.written && len(canonical) > 0 {
		c.written = true
	}

	_, err := c.w.Write(canonical)
	return written, err
}

func (c *relaxedBodyCanonicalizer) Close() error {
	if c.written {
		_, err := c.w.Write([]byte(crlf))
		return err
	}
	return nil
}

// canonicalizeBody runs body fully through c and returns the result.
// The signing and verification paths both need the complete
// canonicalized body in hand: signing measures it to produce l=,
// verification truncates it to a previously-declared l= before
// hashing, so bytes appended to the message after signing (a mailing
// list footer, for instance) don't invalidate the signature.
func canonicalizeBody(c Canonicalization, body []byte) []byte {
	var buf bytes.Buffer
	w := newBodyCanonicalizer(c, &buf)
	w.Write(body)
	w.Close()
	return buf.Bytes()
}
