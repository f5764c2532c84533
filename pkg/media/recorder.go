package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arzzra/siprtpgw/pkg/g711"
	"github.com/rs/zerolog/log"
)

// mixFlushThreshold is how far one leg's buffered samples may run ahead of
// the other before being flushed unmixed (1 second at 8kHz), so a
// one-way-audio call still gets recorded instead of buffering forever.
const mixFlushThreshold = 8000

type recorderChunk struct {
	uplink bool
	data   []byte
}

// RecorderStage archives a call's audio either as two raw G.711 files (one
// per direction) or, in recording mode, as a single mixed 16-bit PCM WAV
// file. Writes happen off a background goroutine so the audio path never
// blocks on disk I/O.
type RecorderStage struct {
	payloadType int
	mixed       bool

	queue  chan recorderChunk
	done   chan struct{}
	closed chan struct{}

	uplinkFile   *os.File
	downlinkFile *os.File
	mixedFile    *os.File

	ulBuf []int16
	dlBuf []int16
}

// NewRecorderStage opens the call's recording file(s) under dir and starts
// its background writer. mixed selects a single mixed.wav over split
// uplink.raw/downlink.raw files.
func NewRecorderStage(dir, callID string, payloadType int, mixed bool) (*RecorderStage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: recorder: %w", err)
	}
	r := &RecorderStage{
		payloadType: payloadType,
		mixed:       mixed,
		queue:       make(chan recorderChunk, 256),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}

	if mixed {
		f, err := os.Create(filepath.Join(dir, callID+".mixed.wav"))
		if err != nil {
			return nil, fmt.Errorf("media: recorder: %w", err)
		}
		if err := writeWavHeader(f, 8000, 1, 16); err != nil {
			f.Close()
			return nil, fmt.Errorf("media: recorder: %w", err)
		}
		r.mixedFile = f
	} else {
		up, err := os.OpenFile(filepath.Join(dir, callID+".uplink.raw"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("media: recorder: %w", err)
		}
		down, err := os.OpenFile(filepath.Join(dir, callID+".downlink.raw"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			up.Close()
			return nil, fmt.Errorf("media: recorder: %w", err)
		}
		r.uplinkFile, r.downlinkFile = up, down
	}

	go r.workerLoop()
	return r, nil
}

func (r *RecorderStage) ProcessUplink(audio []byte) []byte {
	if len(audio) > 0 {
		r.enqueue(recorderChunk{uplink: true, data: append([]byte(nil), audio...)})
	}
	return audio
}

func (r *RecorderStage) ProcessDownlink(audio []byte) []byte {
	if len(audio) > 0 {
		r.enqueue(recorderChunk{uplink: false, data: append([]byte(nil), audio...)})
	}
	return audio
}

func (r *RecorderStage) enqueue(c recorderChunk) {
	select {
	case r.queue <- c:
	case <-r.closed:
	default:
		// queue saturated: drop rather than block the audio path.
		log.Warn().Msg("media: recorder queue full, dropping chunk")
	}
}

func (r *RecorderStage) decode(frame []byte) []int16 {
	if r.payloadType == 8 {
		return g711.DecodeAlaw(frame)
	}
	return g711.DecodeUlaw(frame)
}

func (r *RecorderStage) workerLoop() {
	defer close(r.closed)
	for {
		select {
		case c := <-r.queue:
			r.handle(c)
		case <-r.done:
			for {
				select {
				case c := <-r.queue:
					r.handle(c)
				default:
					return
				}
			}
		}
	}
}

func (r *RecorderStage) handle(c recorderChunk) {
	if !r.mixed {
		if c.uplink && r.uplinkFile != nil {
			r.uplinkFile.Write(c.data)
		} else if !c.uplink && r.downlinkFile != nil {
			r.downlinkFile.Write(c.data)
		}
		return
	}
	if r.mixedFile == nil {
		return
	}
	pcm := r.decode(c.data)
	if c.uplink {
		r.ulBuf = append(r.ulBuf, pcm...)
	} else {
		r.dlBuf = append(r.dlBuf, pcm...)
	}

	mixLen := len(r.ulBuf)
	if len(r.dlBuf) < mixLen {
		mixLen = len(r.dlBuf)
	}
	if mixLen > 0 {
		mixed := make([]int16, mixLen)
		for i := 0; i < mixLen; i++ {
			sample := int32(r.ulBuf[i]) + int32(r.dlBuf[i])
			if sample > 32767 {
				sample = 32767
			}
			if sample < -32768 {
				sample = -32768
			}
			mixed[i] = int16(sample)
		}
		writePCM(r.mixedFile, mixed)
		r.ulBuf = r.ulBuf[mixLen:]
		r.dlBuf = r.dlBuf[mixLen:]
	}
	if len(r.ulBuf) > mixFlushThreshold {
		writePCM(r.mixedFile, r.ulBuf)
		r.ulBuf = r.ulBuf[:0]
	}
	if len(r.dlBuf) > mixFlushThreshold {
		writePCM(r.mixedFile, r.dlBuf)
		r.dlBuf = r.dlBuf[:0]
	}
}

func writePCM(f *os.File, samples []int16) {
	if len(samples) == 0 {
		return
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	f.Write(buf)
}

// Close drains any queued chunks, flushes and closes the underlying
// file(s), patching the mixed WAV header with its final size.
func (r *RecorderStage) Close() error {
	close(r.done)
	<-r.closed

	if !r.mixed {
		if r.uplinkFile != nil {
			r.uplinkFile.Close()
		}
		if r.downlinkFile != nil {
			r.downlinkFile.Close()
		}
		return nil
	}
	if r.mixedFile == nil {
		return nil
	}
	info, err := r.mixedFile.Stat()
	if err == nil {
		if err := patchWavHeader(r.mixedFile, info.Size()-wavHeaderSize); err != nil {
			r.mixedFile.Close()
			return err
		}
	}
	return r.mixedFile.Close()
}
