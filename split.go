package dkim

// Header is a single (name, value) pair sliced directly out of the
// original message buffer: Name excludes the colon, Value begins at
// the first byte after the colon and includes every continuation line
// up to and including its terminating line break. Both slices share
// the message's backing array and must not outlive it.
type Header struct {
	Name  []byte
	Value []byte
}

// HeaderSplitter walks a raw RFC 5322 message and yields its header
// pairs without allocating, stopping at the first blank line. It is a
// direct translation of the byte-exact cursor this package's fixtures
// were generated against, rather than a line-oriented reader: a
// line-buffered reader (textproto.Reader, for instance) normalizes
// line endings on read, which would violate the requirement that
// concatenating every yielded pair, the blank line ending the header
// block, and the body reproduces the original message byte for byte.
type HeaderSplitter struct {
	message    []byte
	pos        int
	startPos   int
	bodyOffset int
	done       bool
}

// NewHeaderSplitter returns a splitter over message. message is not
// copied; the caller must keep it alive for as long as any Header
// returned by Next is in use.
func NewHeaderSplitter(message []byte) *HeaderSplitter {
	return &HeaderSplitter{message: message, bodyOffset: -1}
}

// Next returns the next header pair, or ok=false once the header block
// is exhausted (either because a blank line was found, or because the
// message ended before one was). A malformed header line with no
// colon before its terminating newline is still returned, with the
// full line (including the newline) as Name and an empty Value, so
// that totality over the original bytes is preserved.
func (s *HeaderSplitter) Next() (Header, bool) {
	if s.done {
		return Header{}, false
	}

	msg := s.message
	n := len(msg)
	colonPos := -1
	var lastCh byte
	i := s.pos

	peek := func(at int) (byte, bool) {
		if at+1 < n {
			return msg[at+1], true
		}
		return 0, false
	}

	for i < n {
		ch := msg[i]
		if colonPos == -1 {
			switch {
			case ch == ':':
				colonPos = i
			case ch == '\n':
				if lastCh == '\r' || s.startPos == i {
					s.pos = i + 1
					s.startPos = i + 1
					s.bodyOffset = i + 1
					s.done = true
					return Header{}, false
				}
				if next, ok := peek(i); !ok || (next != ' ' && next != '\t') {
					name := msg[s.startPos : i+1]
					s.startPos = i + 1
					s.pos = i + 1
					return Header{Name: name, Value: msg[i+1 : i+1]}, true
				}
			}
		} else if ch == '\n' {
			if next, ok := peek(i); !ok || (next != ' ' && next != '\t') {
				name := msg[s.startPos:colonPos]
				value := msg[colonPos+1 : i+1]
				s.startPos = i + 1
				s.pos = i + 1
				return Header{Name: name, Value: value}, true
			}
		}
		lastCh = ch
		i++
	}

	// The message ended before a header's terminating newline (or
	// before the blank line that ends the header block). Yield
	// whatever is left as one final header so the splitter stays
	// total over the input bytes, then report no body.
	s.pos = n
	s.bodyOffset = n
	s.done = true
	if s.startPos >= n {
		return Header{}, false
	}
	if colonPos == -1 {
		name := msg[s.startPos:n]
		s.startPos = n
		return Header{Name: name, Value: msg[n:n]}, true
	}
	name := msg[s.startPos:colonPos]
	value := msg[colonPos+1 : n]
	s.startPos = n
	return Header{Name: name, Value: value}, true
}

// BodyOffset returns the index into the original message where the
// body begins. It is only meaningful after Next has returned ok=false.
func (s *HeaderSplitter) BodyOffset() int {
	if s.bodyOffset < 0 {
		return len(s.message)
	}
	return s.bodyOffset
}

// SplitMessage is a convenience wrapper that drains a HeaderSplitter
// into a slice and returns the body slice alongside it.
func SplitMessage(message []byte) ([]Header, []byte) {
	s := NewHeaderSplitter(message)
	var headers []Header
	for {
		h, ok := s.Next()
		if !ok {
			break
		}
		headers = append(headers, h)
	}
	return headers, message[s.BodyOffset():]
}
