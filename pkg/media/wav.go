package media

import (
	"encoding/binary"
	"io"
)

// wavHeaderSize is the canonical 44-byte PCM WAVE header.
const wavHeaderSize = 44

// writeWavHeader writes a placeholder 44-byte PCM header with the RIFF and
// data chunk sizes zeroed; patchWavHeader fills them in once the final
// size is known, since a streaming recorder doesn't know the length up
// front.
func writeWavHeader(w io.Writer, sampleRate, channels, bitsPerSample int) error {
	var h [wavHeaderSize]byte
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	byteRate := sampleRate * channels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	_, err := w.Write(h[:])
	return err
}

// patchWavHeader overwrites the RIFF and data chunk sizes once the total
// payload length is known.
func patchWavHeader(w io.WriterAt, dataBytes int64) error {
	var riffSize [4]byte
	binary.LittleEndian.PutUint32(riffSize[:], uint32(36+dataBytes))
	if _, err := w.WriteAt(riffSize[:], 4); err != nil {
		return err
	}
	var dataSize [4]byte
	binary.LittleEndian.PutUint32(dataSize[:], uint32(dataBytes))
	_, err := w.WriteAt(dataSize[:], 40)
	return err
}
