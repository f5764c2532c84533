// Package audiosocket implements a client for the AudioSocket TCP
// protocol used to bridge call audio to a backend (bot/IVR) process:
// length-prefixed frames carrying a one-time UUID handshake, PCM16 audio
// in both directions, and transfer/terminate control frames.
package audiosocket

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	typeUUID     = 0x01
	typeAudio    = 0x10
	typeTransfer = 0x02
	typeTerm     = 0x00
)

const (
	connectTimeout   = 3 * time.Second
	readPollTimeout  = 1 * time.Second
	terminateTimeout = 50 * time.Millisecond
	maxFrameLen      = 0xFFFF
)

// Client is one call's connection to an AudioSocket backend.
type Client struct {
	conn     net.Conn
	callID   string
	fromUser string
	toUser   string

	sendMu sync.Mutex

	onAudio      func(pcm16LE []byte)
	onTransfer   func(sipURL string)
	onDisconnect func()

	running    atomic.Bool
	readerDone chan struct{}
}

// Option configures a Client before Dial starts its reader goroutine.
type Option func(*Client)

// WithAudioCallback sets the handler invoked for each TYPE_AUDIO frame
// received from the backend.
func WithAudioCallback(fn func(pcm16LE []byte)) Option {
	return func(c *Client) { c.onAudio = fn }
}

// WithTransferCallback sets the handler invoked when the backend requests
// a blind transfer.
func WithTransferCallback(fn func(sipURL string)) Option {
	return func(c *Client) { c.onTransfer = fn }
}

// WithDisconnectCallback sets the handler invoked if the connection drops
// unexpectedly (not via Close).
func WithDisconnectCallback(fn func()) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// Dial connects to target ("host:port"), sends the UUID handshake frame,
// and starts the background reader. fromUser/toUser seed the handshake's
// dialer/dialed fields.
func Dial(target, callID, fromUser, toUser string, opts ...Option) (*Client, error) {
	conn, err := net.DialTimeout("tcp", target, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("audiosocket: dial %s: %w", target, err)
	}
	c := &Client{
		conn:       conn,
		callID:     callID,
		fromUser:   fromUser,
		toUser:     toUser,
		readerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.running.Store(true)
	go c.readerLoop()

	if err := c.sendUUID(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// sendUUID writes the handshake frame: 10-digit dialer + 7-digit epoch +
// 15-digit dialed, each right-aligned and zero-padded, 32 bytes total.
func (c *Client) sendUUID() error {
	dialer := padField(c.fromUser, 10)
	epoch := padField(strconv.FormatInt(time.Now().Unix(), 10), 7)
	dialed := padField(c.toUser, 15)
	return c.writeFrame(typeUUID, []byte(dialer+epoch+dialed))
}

func padField(s string, n int) string {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	if len(s) < n {
		pad := make([]byte, n-len(s))
		for i := range pad {
			pad[i] = '0'
		}
		s = string(pad) + s
	}
	return s
}

// SendAudio writes one TYPE_AUDIO frame carrying pcm16LE, truncated to
// maxFrameLen bytes if longer.
func (c *Client) SendAudio(pcm16LE []byte) error {
	if len(pcm16LE) == 0 {
		return nil
	}
	if len(pcm16LE) > maxFrameLen {
		pcm16LE = pcm16LE[:maxFrameLen]
	}
	return c.writeFrame(typeAudio, pcm16LE)
}

func (c *Client) writeFrame(frameType byte, payload []byte) error {
	header := []byte{frameType, byte(len(payload) >> 8), byte(len(payload))}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := (&net.Buffers{header, payload}).WriteTo(c.conn)
	return err
}

// Close sends a terminate frame (best-effort, within a short deadline) and
// closes the connection. Safe to call more than once and from within a
// callback registered via With*Callback.
func (c *Client) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(terminateTimeout))
	c.sendMu.Lock()
	c.conn.Write([]byte{typeTerm, 0, 0})
	c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Time{})
	return c.conn.Close()
}

// readerLoop owns the socket's read side: it frames incoming bytes and
// dispatches TYPE_AUDIO/TYPE_TRANSFER/TYPE_TERM to the registered
// callbacks, running until the peer closes, an error occurs, or Close is
// called.
func (c *Client) readerLoop() {
	defer close(c.readerDone)
	header := make([]byte, 3)
	peerTerm := false

	for c.running.Load() {
		c.conn.SetReadDeadline(time.Now().Add(readPollTimeout))
		if _, err := readFull(c.conn, header); err != nil {
			if isTimeout(err) {
				continue
			}
			break
		}

		frameType := header[0]
		length := int(header[1])<<8 | int(header[2])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := readFull(c.conn, payload); err != nil {
				break
			}
		}

		switch frameType {
		case typeAudio:
			if c.onAudio != nil {
				c.onAudio(payload)
			}
		case typeTransfer:
			if c.onTransfer != nil {
				c.onTransfer(string(payload))
			}
		case typeTerm:
			peerTerm = c.running.CompareAndSwap(true, false)
		}
		if frameType == typeTerm {
			break
		}
	}

	unexpected := c.running.CompareAndSwap(true, false)
	if unexpected || peerTerm {
		// The reader ended the session, so a later Close finds running
		// already false and does not close the socket itself.
		c.conn.Close()
	}
	if unexpected && c.onDisconnect != nil {
		// The handler runs on its own goroutine; Close does not wait for
		// the reader to exit, so a handler may call it.
		go c.onDisconnect()
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
