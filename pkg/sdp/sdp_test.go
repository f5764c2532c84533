package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerFixture = "v=0\r\n" +
	"o=- 1 1 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 0 8\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=unknown-line ignored\r\n"

func TestParseOffer(t *testing.T) {
	offer, err := ParseOffer([]byte(offerFixture))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", offer.ConnectionIP)
	assert.Equal(t, 40000, offer.AudioPort)
	assert.Equal(t, []int{0, 8}, offer.PayloadTypes)
	assert.Equal(t, "PCMU", offer.RtpMap[0].Name)
}

func TestNegotiatePrefersFirstMatch(t *testing.T) {
	offer, err := ParseOffer([]byte(offerFixture))
	require.NoError(t, err)

	ans, err := Negotiate(offer, []string{"PCMA", "PCMU"}, "10.0.0.2", 42000)
	require.NoError(t, err)
	assert.Equal(t, 8, ans.PayloadType)
	assert.Equal(t, "PCMA", ans.CodecName)
	assert.Contains(t, string(ans.Body), "m=audio 42000 RTP/AVP 8")
	assert.Contains(t, string(ans.Body), "a=rtpmap:8 PCMA/8000")

	reparsed, err := ParseOffer(ans.Body)
	require.NoError(t, err)
	assert.Equal(t, 42000, reparsed.AudioPort)
	assert.Equal(t, []int{8}, reparsed.PayloadTypes)
}

func TestNegotiateFallsBackToStaticTable(t *testing.T) {
	body := "v=0\r\nc=IN IP4 10.0.0.1\r\nm=audio 1000 RTP/AVP 0\r\n"
	offer, err := ParseOffer([]byte(body))
	require.NoError(t, err)
	ans, err := Negotiate(offer, []string{"PCMU"}, "1.2.3.4", 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, ans.PayloadType)
}

func TestNegotiateNoCodec(t *testing.T) {
	body := "v=0\r\nc=IN IP4 10.0.0.1\r\nm=audio 1000 RTP/AVP 99\r\n"
	offer, err := ParseOffer([]byte(body))
	require.NoError(t, err)
	_, err = Negotiate(offer, []string{"PCMU", "PCMA"}, "1.2.3.4", 5000)
	require.ErrorIs(t, err, ErrNoCodec)
}

func TestParseOfferMissingAudioLine(t *testing.T) {
	_, err := ParseOffer([]byte("v=0\r\nc=IN IP4 1.2.3.4\r\n"))
	require.Error(t, err)
}
