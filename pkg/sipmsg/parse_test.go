package sipmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inviteFixture = "INVITE sip:service@10.0.0.2:5060 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK-1\r\n" +
	"From: <sip:alice@10.0.0.1>;tag=abc123\r\n" +
	"To: <sip:service@10.0.0.2>\r\n" +
	"Call-ID: c1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"abcdTRAILING"

func TestParseRequest(t *testing.T) {
	msg, err := Parse([]byte(inviteFixture))
	require.NoError(t, err)
	assert.True(t, msg.IsRequest)
	assert.Equal(t, INVITE, msg.Method)
	assert.Equal(t, "sip:service@10.0.0.2:5060", msg.RequestURI)
	assert.Equal(t, "c1", msg.CallID())
	assert.Equal(t, "abc123", msg.FromTag())
	assert.Equal(t, "z9hG4bK-1", msg.TopViaBranch())
	assert.Equal(t, []byte("abcd"), msg.Body, "body truncated to Content-Length, trailing bytes ignored")

	n, method, err := msg.CSeq()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, INVITE, method)
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\nCall-ID: c1\r\nContent-Length: 0\r\n\r\n"
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.False(t, msg.IsRequest)
	assert.Equal(t, 200, msg.StatusCode)
	assert.Equal(t, "OK", msg.Reason)
}

func TestParseFoldedHeader(t *testing.T) {
	raw := "OPTIONS sip:a@b SIP/2.0\r\n" +
		"Call-ID: c1\r\n" +
		"Subject: urgent\r\n" +
		" meeting\r\n" +
		"Content-Length: 0\r\n\r\n"
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	v, ok := msg.Headers.Get("Subject")
	require.True(t, ok)
	assert.Equal(t, "urgent meeting", v)
}

func TestParseMalformedFirstLine(t *testing.T) {
	_, err := Parse([]byte("GARBAGE\r\n\r\n"))
	require.Error(t, err)
}

func TestParseMalformedTruncatedBody(t *testing.T) {
	raw := "OPTIONS sip:a@b SIP/2.0\r\nCall-ID: c1\r\nContent-Length: 10\r\n\r\nshort"
	_, err := Parse([]byte(raw))
	require.Error(t, err)
}

func TestParseUnknownMethod(t *testing.T) {
	_, err := Parse([]byte("FOO sip:a@b SIP/2.0\r\nContent-Length: 0\r\n\r\n"))
	require.Error(t, err)
}

func TestHeaderLookupIgnoresNameCaseValuesPreserveCasing(t *testing.T) {
	raw := "OPTIONS sip:a@b SIP/2.0\r\nVia: SIP/2.0/UDP Host;Branch=AbC\r\nContent-Length: 0\r\n\r\n"
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	v, ok := msg.Headers.Get("via")
	require.True(t, ok)
	assert.Contains(t, v, "Branch=AbC")
}

func TestParseSerializeRoundTrip(t *testing.T) {
	msg, err := Parse([]byte(inviteFixture))
	require.NoError(t, err)
	// Reparse-of-reserialize should be stable on the fields that matter;
	// byte-identical round trip requires Content-Length to already match
	// body length and no folded headers, both true of this fixture.
	out := msg.Serialize()
	msg2, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, msg.CallID(), msg2.CallID())
	assert.Equal(t, msg.Body, msg2.Body)
	assert.Equal(t, msg.Method, msg2.Method)
}

func TestSerializeRecomputesContentLength(t *testing.T) {
	m := NewRequest(OPTIONS, "sip:a@b")
	m.Headers.Add("Call-ID", "x")
	m.Body = []byte("hello")
	out := m.Serialize()
	msg2, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg2.Body)
}
