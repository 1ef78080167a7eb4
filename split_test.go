package dkim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_Totality(t *testing.T) {
	msg := []byte("From: a@b.com\r\nTo: c@d.com\r\n" +
		"Subject: multi\r\n line\r\n\r\n" +
		"body line one\r\nbody line two\r\n")

	headers, body := SplitMessage(msg)
	require.Len(t, headers, 3)

	var reassembled []byte
	for _, h := range headers {
		reassembled = append(reassembled, h.Name...)
		reassembled = append(reassembled, ':')
		reassembled = append(reassembled, h.Value...)
	}
	reassembled = append(reassembled, body...)
	assert.Equal(t, msg, reassembled)
}

func TestSplitMessage_EmptyValue(t *testing.T) {
	msg := []byte("X-Empty:\r\n\r\nbody")
	headers, body := SplitMessage(msg)
	require.Len(t, headers, 1)
	assert.Equal(t, "X-Empty", string(headers[0].Name))
	assert.Equal(t, "\r\n", string(headers[0].Value))
	assert.Equal(t, "body", string(body))
}

func TestSplitMessage_MultiLineValue(t *testing.T) {
	msg := []byte("Subject: hello\r\n world\r\n\r\nbody")
	headers, _ := SplitMessage(msg)
	require.Len(t, headers, 1)
	assert.Equal(t, " hello\r\n world\r\n", string(headers[0].Value))
}

func TestSplitMessage_NoTrailingBlankLine(t *testing.T) {
	msg := []byte("From: a@b.com\r\nTo: c@d.com")
	headers, body := SplitMessage(msg)
	require.Len(t, headers, 2)
	assert.Equal(t, "To", string(headers[1].Name))
	assert.Equal(t, " c@d.com", string(headers[1].Value))
	assert.Empty(t, body)
}

func TestSplitMessage_MalformedHeaderLine(t *testing.T) {
	// A colonless line ending in a bare LF (no preceding CR) is yielded
	// as a malformed header rather than swallowed as a blank line; a
	// colonless line ending in CRLF is indistinguishable from a blank
	// line and terminates the header block instead.
	msg := []byte("not-a-header-line\nFrom: a@b.com\r\n\r\nbody")
	headers, body := SplitMessage(msg)
	require.Len(t, headers, 2)
	assert.Equal(t, "not-a-header-line\n", string(headers[0].Name))
	assert.Empty(t, headers[0].Value)
	assert.Equal(t, "From", string(headers[1].Name))
	assert.Equal(t, "body", string(body))
}

func TestSplitMessage_LFOnly(t *testing.T) {
	msg := []byte("From: a@b.com\nTo: c@d.com\n\nbody")
	headers, body := SplitMessage(msg)
	require.Len(t, headers, 2)
	assert.Equal(t, " a@b.com\n", string(headers[0].Value))
	assert.Equal(t, "body", string(body))
}
