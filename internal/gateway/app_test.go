package gateway

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/siprtpgw/internal/cdr"
	"github.com/arzzra/siprtpgw/internal/config"
	"github.com/arzzra/siprtpgw/pkg/jitter"
	"github.com/arzzra/siprtpgw/pkg/rtppacket"
	"github.com/arzzra/siprtpgw/pkg/sipmsg"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		BindIP:           "127.0.0.1",
		SipPort:          0,
		RtpPortStart:     31000,
		RtpPortEnd:       31020,
		RtpWorkers:       1,
		MaxCalls:         10,
		CodecPreference:  []string{"PCMU"},
		Mode:             "echo",
		RecordingPath:    "",
		LogLevel:         "ERROR",
		TransactionGcSec: 5,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T) (*App, *net.UDPConn) {
	cfg := testConfig(t)
	cdrPath := t.TempDir() + "/cdr.jsonl"
	sink, err := cdr.Open(cdrPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	app, err := New(cfg, zerolog.Nop(), nil, sink)
	require.NoError(t, err)

	// App binds its own listening socket on an ephemeral port; dial a
	// client socket against it for the test to drive.
	client, err := net.DialUDP("udp", nil, app.sipConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return app, client
}

func readResponse(t *testing.T, client *net.UDPConn) *sipmsg.Message {
	t.Helper()
	buf := make([]byte, 2048)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	msg, err := sipmsg.Parse(buf[:n])
	require.NoError(t, err)
	return msg
}

func inviteRequest(callID string, localPort int) *sipmsg.Message {
	portStr := strconv.Itoa(localPort)
	m := sipmsg.NewRequest(sipmsg.INVITE, "sip:svc@gateway")
	m.Headers.Add("Call-ID", callID)
	m.Headers.Add("Via", "SIP/2.0/UDP 127.0.0.1:"+portStr+";branch=z9hG4bK1")
	m.Headers.Add("From", "<sip:alice@127.0.0.1>;tag=atag")
	m.Headers.Add("To", "<sip:bob@gateway>")
	m.Headers.Add("CSeq", "1 INVITE")
	m.Body = []byte("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\n" +
		"m=audio " + portStr + " RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\n")
	return m
}

// parseAudioPort pulls the port out of an SDP answer's "m=audio <port> ..."
// line, good enough for a test that only needs to reach the gateway's
// negotiated RTP socket.
func parseAudioPort(t *testing.T, sdpBody []byte) int {
	t.Helper()
	const marker = "m=audio "
	s := string(sdpBody)
	idx := strings.Index(s, marker)
	require.NotEqual(t, -1, idx, "SDP answer must contain an m=audio line")
	rest := s[idx+len(marker):]
	if sp := strings.IndexByte(rest, ' '); sp != -1 {
		rest = rest[:sp]
	}
	port, err := strconv.Atoi(strings.TrimSpace(rest))
	require.NoError(t, err)
	return port
}

func byeRequest(callID string) *sipmsg.Message {
	m := sipmsg.NewRequest(sipmsg.BYE, "sip:bob@gateway")
	m.Headers.Add("Call-ID", callID)
	m.Headers.Add("Via", "SIP/2.0/UDP 127.0.0.1:1;branch=z9hG4bK2")
	m.Headers.Add("From", "<sip:alice@127.0.0.1>;tag=atag")
	m.Headers.Add("To", "<sip:bob@gateway>")
	m.Headers.Add("CSeq", "2 BYE")
	return m
}

// TestHappyCallEchoModeEndToEnd drives the INVITE -> 100/200 -> ACK -> one
// RTP round trip -> BYE flow against a real App over loopback UDP sockets,
// matching spec.md §8's "happy call, echo mode" scenario.
func TestHappyCallEchoModeEndToEnd(t *testing.T) {
	app, client := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	callID := "call-1"
	local := client.LocalAddr().(*net.UDPAddr)
	invite := inviteRequest(callID, local.Port)
	_, err := client.Write(invite.Serialize())
	require.NoError(t, err)

	trying := readResponse(t, client)
	assert.Equal(t, 100, trying.StatusCode)

	ok := readResponse(t, client)
	require.Equal(t, 200, ok.StatusCode)
	assert.NotEmpty(t, ok.Body, "200 OK must carry an SDP answer")

	entry, found := app.registry.Get(callID)
	require.True(t, found)
	assert.NotZero(t, entry.session.LocalPort())
	assert.Equal(t, 1, app.registry.Count())

	inviteVia, _ := invite.Headers.Get("Via")
	ack := sipmsg.NewRequest(sipmsg.ACK, "sip:bob@gateway")
	ack.Headers.Add("Call-ID", callID)
	ack.Headers.Add("Via", inviteVia)
	ack.Headers.Add("CSeq", "1 ACK")
	_, err = client.Write(ack.Serialize())
	require.NoError(t, err)

	gatewayRTPPort := parseAudioPort(t, ok.Body)
	rtpClient, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: gatewayRTPPort})
	require.NoError(t, err)
	t.Cleanup(func() { rtpClient.Close() })

	// The jitter buffer only releases a packet once 5 are queued, so the
	// first echo only appears after the 5th send.
	for seq := uint16(1); seq <= jitter.TargetDepth; seq++ {
		outPkt := &rtppacket.Packet{
			Header:  rtppacket.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, Timestamp: 0, SSRC: 0xAABBCCDD},
			Payload: make([]byte, 160),
		}
		_, err = rtpClient.Write(outPkt.Serialize())
		require.NoError(t, err)
	}

	rtpClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	inBuf := make([]byte, 2048)
	n, err := rtpClient.Read(inBuf)
	require.NoError(t, err, "gateway must echo an RTP packet back in echo mode")
	echoed, err := rtppacket.Parse(inBuf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint8(0), echoed.PayloadType)
	assert.Len(t, echoed.Payload, 160)

	bye := byeRequest(callID)
	_, err = client.Write(bye.Serialize())
	require.NoError(t, err)

	byeOK := readResponse(t, client)
	assert.Equal(t, 200, byeOK.StatusCode)

	require.Eventually(t, func() bool {
		_, stillThere := app.registry.Get(callID)
		return !stillThere
	}, time.Second, 10*time.Millisecond, "call must be removed from the registry after BYE")
}

// TestOptionsAnsweredStatelessly exercises the gateway's stateless OPTIONS
// path ahead of any transaction/session lookup.
func TestOptionsAnsweredStatelessly(t *testing.T) {
	app, client := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() { cancel(); <-done })

	opts := sipmsg.NewRequest(sipmsg.OPTIONS, "sip:gateway")
	opts.Headers.Add("Call-ID", "opts-1")
	opts.Headers.Add("Via", "SIP/2.0/UDP 127.0.0.1:1;branch=z9hG4bK9")
	_, err := client.Write(opts.Serialize())
	require.NoError(t, err)

	resp := readResponse(t, client)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestUnknownInDialogRequestGets481(t *testing.T) {
	app, client := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() { cancel(); <-done })

	bye := byeRequest("never-existed")
	_, err := client.Write(bye.Serialize())
	require.NoError(t, err)

	resp := readResponse(t, client)
	assert.Equal(t, 481, resp.StatusCode)
}
