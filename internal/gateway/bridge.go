package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arzzra/siprtpgw/pkg/audiosocket"
	"github.com/arzzra/siprtpgw/pkg/jitter"
	"github.com/arzzra/siprtpgw/pkg/media"
	"github.com/arzzra/siprtpgw/pkg/rtppacket"
	"github.com/arzzra/siprtpgw/pkg/rtpworker"
)

// frameSamples is the RTP timestamp advance per 20ms of 8kHz G.711, the
// only codec family this gateway carries.
const frameSamples = 160

// mediaBridge is one call's RTP-facing media session: it owns the
// outgoing sequence/timestamp/SSRC state, the symmetric-RTP remote
// address lock, the jitter buffer, and the audio pipeline (echo/backend
// bridging plus optional recording). It implements
// callstate.MediaPipeline so callstate.Session can drive it without
// importing this package.
type mediaBridge struct {
	pool        *rtpworker.Pool
	logger      zerolog.Logger
	callID      string
	dialAudio   func(callID string, payloadType int) (*media.BackendStage, *audiosocket.Client, error)
	recordDir   string
	recordMixed bool

	mu           sync.Mutex
	localPort    int
	payloadType  int
	remoteAddr   *net.UDPAddr
	remoteLocked bool
	ssrc         uint32
	seq          uint16
	timestamp    uint32
	jitterBuf    *jitter.Buffer
	pipeline     *media.Pipeline
	recorder     *media.RecorderStage
	asClient     *audiosocket.Client
	stopped      bool
}

// newMediaBridge builds one call's media bridge. dialAudio (nil in echo
// mode) connects to the configured backend and returns the BackendStage
// wiring it to the pipeline; any disconnect callback it needs is the
// caller's responsibility to close over (see app.go), since the bridge
// itself has no SIP-level hangup logic.
func newMediaBridge(callID string, pool *rtpworker.Pool, logger zerolog.Logger, recordDir string, recordMixed bool, dialAudio func(string, int) (*media.BackendStage, *audiosocket.Client, error)) *mediaBridge {
	return &mediaBridge{
		callID:      callID,
		pool:        pool,
		logger:      logger,
		recordDir:   recordDir,
		recordMixed: recordMixed,
		dialAudio:   dialAudio,
		jitterBuf:   jitter.New(),
		ssrc:        randomUint32(),
		seq:         uint16(randomUint32()),
	}
}

func randomUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0x1234
	}
	return binary.BigEndian.Uint32(buf[:])
}

// Start implements callstate.MediaPipeline: it builds this call's pipeline
// (echo mode, or backend bridging, plus recording) and is called once per
// negotiated SDP answer.
func (b *mediaBridge) Start(localPort int, remoteIP string, remotePort, payloadType int) error {
	b.mu.Lock()
	b.localPort = localPort
	b.payloadType = payloadType
	b.remoteAddr = &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort}
	b.remoteLocked = false
	b.mu.Unlock()

	stages, recorder, client, err := b.buildStages(payloadType)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.pipeline = media.New(stages...)
	b.recorder = recorder
	b.asClient = client
	b.mu.Unlock()
	return nil
}

func (b *mediaBridge) buildStages(payloadType int) ([]media.Stage, *media.RecorderStage, *audiosocket.Client, error) {
	var stages []media.Stage
	var client *audiosocket.Client

	if b.dialAudio != nil {
		backend, c, err := b.dialAudio(b.callID, payloadType)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gateway: media bridge: %w", err)
		}
		if backend != nil {
			stages = append(stages, backend)
		}
		client = c
	}
	if client == nil {
		// Echo fallback only makes sense in echo mode: with a backend
		// attached, BackendStage fills every downlink frame itself
		// (silence included), so an echo stage here would instead play a
		// caller's own uplink audio back to them whenever the backend
		// buffer underruns.
		stages = append(stages, media.NewEchoStage())
	}

	var recorder *media.RecorderStage
	if b.recordDir != "" {
		r, err := media.NewRecorderStage(b.recordDir, b.callID, payloadType, b.recordMixed)
		if err != nil {
			b.logger.Error().Err(err).Str("call_id", b.callID).Msg("gateway: recorder open failed, continuing without recording")
		} else {
			recorder = r
			stages = append(stages, r)
		}
	}
	return stages, recorder, client, nil
}

// SetRemote implements callstate.MediaPipeline: called on every successful
// (re-)negotiation to update the destination RTP address; symmetric-RTP
// locking (binding to the first incoming packet's source) still wins once
// engaged for the life of the call.
func (b *mediaBridge) SetRemote(remoteIP string, remotePort int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remoteLocked {
		return
	}
	b.remoteAddr = &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort}
}

// Stop implements callstate.MediaPipeline: tears down the backend
// connection and closes the recorder.
func (b *mediaBridge) Stop() {
	b.mu.Lock()
	stopped := b.stopped
	b.stopped = true
	client := b.asClient
	recorder := b.recorder
	b.mu.Unlock()

	if stopped {
		return
	}
	if client != nil {
		client.Close()
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			b.logger.Error().Err(err).Str("call_id", b.callID).Msg("gateway: recorder close failed")
		}
	}
}

// handleRTP processes one inbound RTP datagram: symmetric-RTP lock on
// first packet, jitter reordering, one round-trip through the pipeline per
// packet released from the buffer, and a freshly sequenced/timestamped
// outgoing packet sent back to the locked remote address.
func (b *mediaBridge) handleRTP(payload []byte, sender *net.UDPAddr) {
	pkt, err := rtppacket.Parse(payload)
	if err != nil {
		return
	}

	b.mu.Lock()
	if !b.remoteLocked {
		b.remoteAddr = sender
		b.remoteLocked = true
	}
	b.jitterBuf.Push(pkt)

	var toSend [][]byte
	for {
		p, ok := b.jitterBuf.Pop()
		if !ok {
			break
		}
		b.pipeline.ProcessUplink(p.Payload)
		out := b.pipeline.ProcessDownlink()
		if len(out) == 0 {
			continue
		}
		outPkt := &rtppacket.Packet{
			Header: rtppacket.Header{
				Version:        2,
				PayloadType:    uint8(b.payloadType),
				SequenceNumber: b.seq,
				Timestamp:      b.timestamp,
				SSRC:           b.ssrc,
			},
			Payload: out,
		}
		b.seq++
		b.timestamp += frameSamples
		toSend = append(toSend, outPkt.Serialize())
	}
	dest := b.remoteAddr
	localPort := b.localPort
	b.mu.Unlock()

	for _, frame := range toSend {
		_ = b.pool.Send(localPort, frame, dest)
	}
}
