package jitter

import (
	"testing"

	"github.com/arzzra/siprtpgw/pkg/rtppacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(seq uint16) *rtppacket.Packet {
	return &rtppacket.Packet{Header: rtppacket.Header{SequenceNumber: seq}}
}

func TestPopRequiresTargetDepth(t *testing.T) {
	b := New()
	for i := 0; i < TargetDepth-1; i++ {
		b.Push(pkt(uint16(100 + i)))
	}
	_, ok := b.Pop()
	assert.False(t, ok)

	b.Push(pkt(uint16(100 + TargetDepth - 1)))
	got, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, uint16(100), got.SequenceNumber)
}

func TestPushOrdersOutOfOrderPackets(t *testing.T) {
	b := New()
	order := []uint16{103, 101, 102, 100, 104}
	for _, s := range order {
		b.Push(pkt(s))
	}
	// Pop only releases while TargetDepth packets are queued, so later
	// packets keep the depth up until 100-104 have all been released.
	for s := uint16(105); s < 105+TargetDepth-1; s++ {
		b.Push(pkt(s))
	}
	for expected := uint16(100); expected < 105; expected++ {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, expected, got.SequenceNumber)
	}
}

func TestPushDropsDuplicates(t *testing.T) {
	b := New()
	for i := 0; i < TargetDepth; i++ {
		b.Push(pkt(100))
	}
	assert.Equal(t, 1, b.Len())
}

func TestPushHandlesSequenceWrap(t *testing.T) {
	b := New()
	seqs := []uint16{65534, 65535, 0, 1, 2}
	// Push in a scrambled order to exercise wrap-aware insertion.
	for _, s := range []uint16{2, 65534, 0, 65535, 1} {
		b.Push(pkt(s))
	}
	// Later packets keep the depth at TargetDepth for every Pop below.
	for s := uint16(3); s < 3+TargetDepth-1; s++ {
		b.Push(pkt(s))
	}
	for _, expected := range seqs {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, expected, got.SequenceNumber)
	}
}

func TestFlushDrainsRegardlessOfDepth(t *testing.T) {
	b := New()
	b.Push(pkt(1))
	b.Push(pkt(2))
	out := b.Flush()
	assert.Len(t, out, 2)
	assert.Equal(t, 0, b.Len())
}
