package rtpworker

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSendReceiveRoundTrip(t *testing.T) {
	pool, err := NewPool(2, "127.0.0.1", 41000, 41020)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	received := make(chan []byte, 1)
	pool.SetHandlers(func(port int, payload []byte, sender *net.UDPAddr) {
		cp := append([]byte(nil), payload...)
		received <- cp
	}, nil)

	port, err := pool.Allocate()
	require.NoError(t, err)
	assert.True(t, port >= 41000 && port <= 41020)
	assert.Zero(t, port%2, "RTP ports must be even")

	conn, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello rtp"))
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "hello rtp", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched packet")
	}

	pool.Release(port)
	assert.Equal(t, 0, pool.PortsInUse())
}

func TestAllocateExhaustsRangeThenFails(t *testing.T) {
	pool, err := NewPool(1, "127.0.0.1", 41100, 41102)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	_, err = pool.Allocate()
	require.NoError(t, err)
	_, err = pool.Allocate()
	require.NoError(t, err)
	_, err = pool.Allocate()
	assert.Error(t, err)
}
