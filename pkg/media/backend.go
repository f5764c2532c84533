package media

import (
	"encoding/binary"
	"sync"

	"github.com/arzzra/siprtpgw/pkg/g711"
)

// downlinkCap bounds the backend stage's outgoing buffer to 2 seconds of
// G.711 audio (8000 bytes/sec) so a slow or stalled phone can't make the
// backend's buffer grow unbounded.
const downlinkCap = 16000

// drainUnit is how many encoded bytes one downlink pass hands to the RTP
// side: 160 bytes is 20ms of 8kHz G.711, matching the packetization
// interval the rest of the gateway assumes.
const drainUnit = 160

// backendGain is applied to audio crossing the AudioSocket boundary in
// either direction. Unity: applyGain's clamp exists only to guard the
// int16 multiply against overflow, not to amplify.
const backendGain = 1

// ulawSilence and alawSilence are the idle-channel byte values for each
// codec, used to fill a downlink frame when the backend has no audio
// buffered yet.
const (
	ulawSilence = 0xFF
	alawSilence = 0x55
)

// AudioSink accepts 16-bit little-endian PCM for forwarding to the
// call's backend connection (see pkg/audiosocket).
type AudioSink interface {
	SendAudio(pcm16LE []byte) error
}

// BackendStage bridges G.711 RTP audio to/from a PCM16 backend
// connection: uplink frames are decoded, gain-adjusted and forwarded to
// the sink; audio pushed back from the backend via PushFromBackend is
// gain-adjusted, encoded, and queued for downlink in 20ms units.
type BackendStage struct {
	sink        AudioSink
	payloadType int // 0 = PCMU, 8 = PCMA

	mu     sync.Mutex
	buffer []byte
}

// NewBackendStage builds a stage encoding/decoding the given static G.711
// payload type (0 PCMU, 8 PCMA) against sink. sink may be nil and supplied
// later via SetSink, since the backend connection's own audio callback
// often needs to reference this stage's PushFromBackend method before the
// connection itself exists.
func NewBackendStage(sink AudioSink, payloadType int) *BackendStage {
	return &BackendStage{sink: sink, payloadType: payloadType}
}

// SetSink installs (or replaces) the sink audio is forwarded to.
func (b *BackendStage) SetSink(sink AudioSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

func (b *BackendStage) decode(frame []byte) []int16 {
	if b.payloadType == 8 {
		return g711.DecodeAlaw(frame)
	}
	return g711.DecodeUlaw(frame)
}

func (b *BackendStage) encode(samples []int16) []byte {
	if b.payloadType == 8 {
		return g711.EncodeAlaw(samples)
	}
	return g711.EncodeUlaw(samples)
}

func applyGain(samples []int16) {
	for i, s := range samples {
		v := int32(s) * backendGain
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}

// ProcessUplink decodes audio, gain-adjusts it, and forwards it to the
// backend sink as little-endian PCM16; the RTP payload itself passes
// through unmodified.
func (b *BackendStage) ProcessUplink(audio []byte) []byte {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if len(audio) == 0 || sink == nil {
		return audio
	}
	samples := b.decode(audio)
	applyGain(samples)

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	_ = sink.SendAudio(pcm)
	return audio
}

// PushFromBackend is the backend connection's audio callback: it
// gain-adjusts and encodes pcm16LE and appends it to the bounded downlink
// buffer, dropping the oldest bytes if the buffer is over capacity.
func (b *BackendStage) PushFromBackend(pcm16LE []byte) {
	if len(pcm16LE)%2 != 0 {
		return
	}
	samples := make([]int16, len(pcm16LE)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm16LE[i*2:]))
	}
	applyGain(samples)
	encoded := b.encode(samples)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(b.buffer, encoded...)
	if over := len(b.buffer) - downlinkCap; over > 0 {
		b.buffer = b.buffer[over:]
	}
}

// ProcessDownlink drains one 20ms unit from the buffered backend audio. If
// less than that has accumulated it emits a frame of codec-appropriate
// silence instead of passing audio through, so the RTP side keeps sending
// one packet per interval even while the backend is silent or not yet
// talking.
func (b *BackendStage) ProcessDownlink(audio []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buffer) < drainUnit {
		return b.silence()
	}
	out := append([]byte(nil), b.buffer[:drainUnit]...)
	b.buffer = b.buffer[drainUnit:]
	return out
}

func (b *BackendStage) silence() []byte {
	fill := byte(ulawSilence)
	if b.payloadType == 8 {
		fill = alawSilence
	}
	out := make([]byte, drainUnit)
	for i := range out {
		out[i] = fill
	}
	return out
}
