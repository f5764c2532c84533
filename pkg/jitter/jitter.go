// Package jitter implements a small, per-call, sequence-ordered packet
// queue. It has no playout timer: see the package doc on Buffer.Pop for the
// known end-of-stream limitation.
package jitter

import (
	"sync"

	"github.com/arzzra/siprtpgw/pkg/rtppacket"
)

// TargetDepth is the queue depth pop() requires before releasing a packet.
const TargetDepth = 5

// precedes reports whether sequence a comes before b using RFC 3550's
// wrap-aware 16-bit comparison.
func precedes(a, b uint16) bool {
	return uint16(b-a) < 32768
}

// Buffer orders RTP packets by sequence number, tolerant of 16-bit
// wraparound, and releases them once enough have accumulated to smooth
// minor reordering/jitter. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	packets []*rtppacket.Packet
}

// New returns an empty jitter buffer.
func New() *Buffer {
	return &Buffer{}
}

// Push inserts pkt in sequence order, dropping it silently if its sequence
// number duplicates one already queued.
func (b *Buffer) Push(pkt *rtppacket.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := pkt.SequenceNumber
	for i, queued := range b.packets {
		qseq := queued.SequenceNumber
		if qseq == seq {
			return // duplicate
		}
		if precedes(seq, qseq) {
			b.packets = append(b.packets, nil)
			copy(b.packets[i+1:], b.packets[i:])
			b.packets[i] = pkt
			return
		}
	}
	b.packets = append(b.packets, pkt)
}

// Pop returns and removes the head packet only once the buffer holds at
// least TargetDepth packets.
//
// Without a playout timer this strands the final (< TargetDepth) packets
// of a stream once the sender stops: nothing ever pushes the buffer back
// over the threshold to release them. A per-call idle-flush timer would
// close this gap; the gateway does not currently run one.
func (b *Buffer) Pop() (*rtppacket.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) < TargetDepth {
		return nil, false
	}
	pkt := b.packets[0]
	b.packets = b.packets[1:]
	return pkt, true
}

// Flush drains and returns every queued packet regardless of depth,
// in order, including the tail described in Pop's doc comment. The
// gateway's call teardown does not call it.
func (b *Buffer) Flush() []*rtppacket.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.packets
	b.packets = nil
	return out
}

// Len reports the current queue depth.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}
