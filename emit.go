package dkim

import (
	"encoding/base64"
	"strconv"
)

const maxLineWidth = 76

// sigEmitter accumulates the serialized tag list of a DKIM-Signature,
// folding at maxLineWidth columns the way RFC 6376 §3.5 requires.
type sigEmitter struct {
	buf     []byte
	bw      int
	newLine []byte
}

func (e *sigEmitter) writeRaw(s []byte) {
	e.buf = append(e.buf, s...)
	e.bw += len(s)
}

// writeWrapped appends s as a single unbreakable unit, folding onto a
// new continuation line first if s would push the current line past
// maxLineWidth columns.
func (e *sigEmitter) writeWrapped(s []byte) {
	if e.bw+len(s) > maxLineWidth {
		e.buf = append(e.buf, e.newLine...)
		e.bw = 1
	}
	e.buf = append(e.buf, s...)
	e.bw += len(s)
}

// breakLine forces a fold onto a continuation line, used once before
// h= so a short raw prefix group never runs directly into the signed
// header list.
func (e *sigEmitter) breakLine() {
	e.buf = append(e.buf, e.newLine...)
	e.bw = 1
}

// startTag writes the "; " separator before a tag whose full rendered
// length (tag name plus value) is known up front, folding onto a
// continuation line first only if that tag would not fit in the
// remaining columns; otherwise the separator stays inline as a single
// space.
func (e *sigEmitter) startTag(length int) {
	e.writeRaw([]byte(";"))
	if e.bw+1+length > maxLineWidth {
		e.buf = append(e.buf, e.newLine...)
		e.bw = 1
		return
	}
	e.buf = append(e.buf, ' ')
	e.bw++
}

// startTagNoFold writes the "; " separator before a tag whose value is
// wrapped byte-by-byte as it's written (bh=, b=), so there is no
// upfront break to decide here; any overflow is handled entirely by
// writeWrapped as the base64 is emitted.
func (e *sigEmitter) startTagNoFold() {
	e.writeRaw([]byte("; "))
}

func (e *sigEmitter) writeBase64Wrapped(raw []byte) {
	enc := base64.StdEncoding.EncodeToString(raw)
	for i := 0; i < len(enc); i++ {
		e.writeWrapped([]byte{enc[i]})
	}
}

func qpEncodeAUIDByte(b byte) []byte {
	if b <= 0x20 || b == ';' || b >= 0x7f {
		const hex = "0123456789ABCDEF"
		return []byte{'=', hex[b>>4], hex[b&0x0f]}
	}
	return []byte{b}
}

// emitSignature serializes sig's tag list.
//
// asHeader=true produces the literal bytes of a DKIM-Signature header
// field, folded with the mixed-case "DKIM-Signature: " name and
// CRLF+TAB continuations, ending in a trailing ";" and CRLF.
//
// asHeader=false produces the bytes fed into the header hash for this
// signature's own contribution, with b= already blanked by the caller.
// When the signature's header canonicalization is relaxed, this form
// is written pre-canonicalized (lowercase name, single-space
// continuations) so it need not be run back through the relaxed
// header canonicalizer; under simple canonicalization it is
// byte-identical to the real header except for the missing trailing
// CRLF, since simple canonicalization is the identity transform. Both
// forms end in the terminating ";".
func emitSignature(sig *Signature, asHeader bool) []byte {
	prefix := []byte("DKIM-Signature: ")
	newLine := []byte("\r\n\t")
	if sig.CH == CanonicalizationRelaxed && !asHeader {
		prefix = []byte("dkim-signature:")
		newLine = []byte(" ")
	}

	e := &sigEmitter{newLine: newLine}
	e.buf = append(e.buf, prefix...)
	e.bw = len(prefix)

	e.writeRaw([]byte("v=1; a="))
	e.writeRaw([]byte(sig.A.String()))
	e.writeRaw([]byte("; s="))
	e.writeRaw(sig.S)
	e.writeRaw([]byte("; d="))
	e.writeRaw(sig.D)
	e.writeRaw([]byte("; c="))
	e.writeRaw([]byte(sig.CH.String()))
	e.writeRaw([]byte("/"))
	e.writeRaw([]byte(sig.CB.String()))

	e.writeRaw([]byte(";"))
	e.breakLine()
	e.writeRaw([]byte("h="))
	for i, h := range sig.H {
		tok := h
		if i > 0 {
			tok = append([]byte{':'}, h...)
		}
		e.writeWrapped(tok)
	}

	if len(sig.I) > 0 {
		var units [][]byte
		length := len("i=")
		for _, b := range sig.I {
			u := qpEncodeAUIDByte(b)
			units = append(units, u)
			length += len(u)
		}
		e.startTag(length)
		e.writeRaw([]byte("i="))
		for _, u := range units {
			e.writeWrapped(u)
		}
	}

	if sig.T > 0 {
		content := []byte("t=" + strconv.FormatInt(sig.T, 10))
		e.startTag(len(content))
		e.writeWrapped(content)
	}
	if sig.X > 0 {
		content := []byte("x=" + strconv.FormatInt(sig.X, 10))
		e.startTag(len(content))
		e.writeWrapped(content)
	}
	if sig.L > 0 {
		content := []byte("l=" + strconv.FormatInt(sig.L, 10))
		e.startTag(len(content))
		e.writeWrapped(content)
	}

	e.startTagNoFold()
	e.writeRaw([]byte("bh="))
	e.writeBase64Wrapped(sig.BH)

	e.startTagNoFold()
	e.writeRaw([]byte("b="))
	e.writeBase64Wrapped(sig.B)

	e.writeRaw([]byte(";"))
	if asHeader {
		e.writeRaw([]byte("\r\n"))
	}

	return e.buf
}
