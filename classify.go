package dkim

// HeaderLabel identifies the small set of header names the verifier
// and signer care about structurally. Anything else classifies as
// LabelOther; its actual name is still available on the header pair.
type HeaderLabel int

const (
	LabelOther HeaderLabel = iota
	LabelFrom
	LabelDKIMSignature
	LabelARCMessageSignature
	LabelARCAuthenticationResults
	LabelARCSeal
)

// Packed rolling-hash targets. Bytes are folded to lowercase and
// packed little-endian, one byte per 8 bits of shift, the same way a
// human would eyeball a hex dump of the literal name. "From" only
// needs 4 bytes to be unambiguous and "ARC-Seal" is exactly 8; the
// longer ARC/DKIM names only fit their first 8 bytes ("arc-auth",
// "arc-mess", "dkim-sig") into the hash and need a tail compare below
// to confirm the rest.
const (
	hashFrom uint64 = uint64('f') | uint64('r')<<8 | uint64('o')<<16 | uint64('m')<<24

	hashDKIMSignature uint64 = uint64('d') | uint64('k')<<8 | uint64('i')<<16 | uint64('m')<<24 |
		uint64('-')<<32 | uint64('s')<<40 | uint64('i')<<48 | uint64('g')<<56

	hashARCAuthResults uint64 = uint64('a') | uint64('r')<<8 | uint64('c')<<16 | uint64('-')<<24 |
		uint64('a')<<32 | uint64('u')<<40 | uint64('t')<<48 | uint64('h')<<56

	hashARCMessageSig uint64 = uint64('a') | uint64('r')<<8 | uint64('c')<<16 | uint64('-')<<24 |
		uint64('m')<<32 | uint64('e')<<40 | uint64('s')<<48 | uint64('s')<<56

	hashARCSeal uint64 = uint64('a') | uint64('r')<<8 | uint64('c')<<16 | uint64('-')<<24 |
		uint64('s')<<32 | uint64('e')<<40 | uint64('a')<<48 | uint64('l')<<56
)

// hashPoison is a hash value that can never be produced by folding
// ascii letters and hyphens, used to permanently disqualify a header
// name from matching any of the known labels once it contains any
// other byte (digits, underscores, anything outside A-Za-z-).
const hashPoison = ^uint64(0)

// ClassifiedHeader is a Header annotated with its structural label.
type ClassifiedHeader struct {
	Header
	Label HeaderLabel
}

// HeaderClassifier labels header names while splitting them, using the
// same cursor shape as HeaderSplitter but folding a rolling hash over
// the name as it scans so that recognizing "DKIM-Signature" or "From"
// costs no more than an integer compare, regardless of letter case or
// whitespace sprinkled around the colon (e.g. "From : ...").
type HeaderClassifier struct {
	message    []byte
	pos        int
	startPos   int
	bodyOffset int
	done       bool
}

func NewHeaderClassifier(message []byte) *HeaderClassifier {
	return &HeaderClassifier{message: message, bodyOffset: -1}
}

func (s *HeaderClassifier) Next() (ClassifiedHeader, bool) {
	if s.done {
		return ClassifiedHeader{}, false
	}

	msg := s.message
	n := len(msg)
	colonPos := -1
	var lastCh byte
	i := s.pos

	var hash uint64
	shift := uint(0)
	tokenStart := -1
	tokenEnd := -1

	peek := func(at int) (byte, bool) {
		if at+1 < n {
			return msg[at+1], true
		}
		return 0, false
	}

	finish := func(nameEnd int, value []byte) (ClassifiedHeader, bool) {
		name := msg[s.startPos:nameEnd]
		label := classifyHash(hash, msg, tokenStart, tokenEnd)
		s.startPos = i + 1
		s.pos = i + 1
		return ClassifiedHeader{Header: Header{Name: name, Value: value}, Label: label}, true
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
					return ClassifiedHeader{}, false
				}
				if next, ok := peek(i); !ok || (next != ' ' && next != '\t') {
					return finish(i+1, msg[i+1:i+1])
				}
			case ch == ' ' || ch == '\t' || ch == '\r':
				// Skipped: whitespace around a folded or spaced-out
				// header name does not affect the hash.
			case (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || ch == '-':
				folded := ch
				if folded >= 'A' && folded <= 'Z' {
					folded += 'a' - 'A'
				}
				if shift < 64 {
					hash |= uint64(folded) << shift
					shift += 8
					if tokenStart == -1 {
						tokenStart = i
					}
				}
				tokenEnd = i
			default:
				hash = hashPoison
			}
		} else if ch == '\n' {
			if next, ok := peek(i); !ok || (next != ' ' && next != '\t') {
				value := msg[colonPos+1 : i+1]
				return finish(colonPos, value)
			}
		}
		lastCh = ch
		i++
	}

	s.pos = n
	s.bodyOffset = n
	s.done = true
	if s.startPos >= n {
		return ClassifiedHeader{}, false
	}
	if colonPos == -1 {
		name := msg[s.startPos:n]
		s.startPos = n
		return ClassifiedHeader{Header: Header{Name: name, Value: msg[n:n]}, Label: LabelOther}, true
	}
	name := msg[s.startPos:colonPos]
	value := msg[colonPos+1 : n]
	label := classifyHash(hash, msg, tokenStart, tokenEnd)
	s.startPos = n
	return ClassifiedHeader{Header: Header{Name: name, Value: value}, Label: label}, true
}

func (s *HeaderClassifier) BodyOffset() int {
	if s.bodyOffset < 0 {
		return len(s.message)
	}
	return s.bodyOffset
}

// classifyHash maps a rolling hash to a label. For the names longer
// than the 8 hashed bytes (ARC-Message-Signature,
// ARC-Authentication-Results and DKIM-Signature) it also compares the
// literal bytes following the hashed prefix; From and ARC-Seal are
// taken from the hash alone.
func classifyHash(hash uint64, msg []byte, tokenStart, tokenEnd int) HeaderLabel {
	switch hash {
	case hashFrom:
		return LabelFrom
	case hashDKIMSignature:
		if tailMatches(msg, tokenStart, tokenEnd, "nature") {
			return LabelDKIMSignature
		}
	case hashARCAuthResults:
		if tailMatches(msg, tokenStart, tokenEnd, "entication-results") {
			return LabelARCAuthenticationResults
		}
	case hashARCMessageSig:
		if tailMatches(msg, tokenStart, tokenEnd, "age-signature") {
			return LabelARCMessageSignature
		}
	case hashARCSeal:
		return LabelARCSeal
	}
	return LabelOther
}

// tailMatches case-insensitively compares the bytes of the classified
// token from tokenStart+8 through tokenEnd against suffix.
func tailMatches(msg []byte, tokenStart, tokenEnd int, suffix string) bool {
	if tokenStart < 0 || tokenEnd < 0 {
		return false
	}
	start := tokenStart + 8
	if start > len(msg) || tokenEnd+1 > len(msg) || tokenEnd+1 < start {
		return false
	}
	tail := msg[start : tokenEnd+1]
	if len(tail) != len(suffix) {
		return false
	}
	for i := 0; i < len(tail); i++ {
		c := tail[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != suffix[i] {
			return false
		}
	}
	return true
}
