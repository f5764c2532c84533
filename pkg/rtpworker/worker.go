package rtpworker

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// sockPair is one RTP/RTCP socket pair bound to a consecutive even/odd
// port pair.
type sockPair struct {
	rtpFd, rtcpFd     int
	rtpPort, rtcpPort int
}

// worker owns one contiguous sub-range of the RTP port space and a single
// OS-level readiness descriptor (epoll or poll, depending on platform)
// multiplexing every socket it has bound.
type worker struct {
	id              int
	bindIP          net.IP
	startPort       int
	endPort         int
	stopCh          chan struct{}
	wg              sync.WaitGroup

	mu        sync.Mutex
	free      []int // free RTP (even) ports
	bound     map[int]sockPair // rtpPort -> pair
	fdToPort  map[int]int      // fd -> rtpPort, for the readiness loop
	fdIsRtcp  map[int]bool

	handlers atomic.Pointer[handlerPair]
	// handlersChanged is set by setHandlers and cleared by dispatch; the
	// poll loops do not read it.
	handlersChanged atomic.Bool

	platform platformState
}

type handlerPair struct {
	packet PacketHandler
	rtcp   RtcpHandler
}

func newWorker(id int, bindIP string, startPort, endPort int) (*worker, error) {
	ip := net.ParseIP(bindIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", bindIP)
	}
	w := &worker{
		id:        id,
		bindIP:    ip,
		startPort: startPort,
		endPort:   endPort,
		stopCh:    make(chan struct{}),
		bound:     make(map[int]sockPair),
		fdToPort:  make(map[int]int),
		fdIsRtcp:  make(map[int]bool),
	}
	w.handlers.Store(&handlerPair{})
	for p := startPort; p <= endPort; p += 2 {
		w.free = append(w.free, p)
	}
	ps, err := newPlatformState()
	if err != nil {
		return nil, err
	}
	w.platform = ps
	return w, nil
}

func (w *worker) setHandlers(packet PacketHandler, rtcp RtcpHandler) {
	w.handlers.Store(&handlerPair{packet: packet, rtcp: rtcp})
	w.handlersChanged.Store(true)
}

func (w *worker) ownsRange(port int) bool {
	return port >= w.startPort && port <= w.endPort
}

func (w *worker) portsInUse() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bound)
}

// allocatePort binds a fresh RTP+RTCP socket pair from the free list and
// registers both descriptors with the platform readiness mechanism.
func (w *worker) allocatePort() (int, error) {
	w.mu.Lock()
	if len(w.free) == 0 {
		w.mu.Unlock()
		return 0, fmt.Errorf("worker %d: no free ports in [%d,%d]", w.id, w.startPort, w.endPort)
	}
	rtpPort := w.free[len(w.free)-1]
	w.free = w.free[:len(w.free)-1]
	w.mu.Unlock()

	rtpFd, err := bindUDP(w.bindIP, rtpPort)
	if err != nil {
		w.mu.Lock()
		w.free = append(w.free, rtpPort)
		w.mu.Unlock()
		return 0, err
	}
	rtcpFd, err := bindUDP(w.bindIP, rtpPort+1)
	if err != nil {
		unix.Close(rtpFd)
		w.mu.Lock()
		w.free = append(w.free, rtpPort)
		w.mu.Unlock()
		return 0, err
	}

	w.mu.Lock()
	w.bound[rtpPort] = sockPair{rtpFd: rtpFd, rtcpFd: rtcpFd, rtpPort: rtpPort, rtcpPort: rtpPort + 1}
	w.fdToPort[rtpFd] = rtpPort
	w.fdToPort[rtcpFd] = rtpPort
	w.fdIsRtcp[rtcpFd] = true
	w.mu.Unlock()

	if err := w.platform.add(rtpFd); err != nil {
		return 0, err
	}
	if err := w.platform.add(rtcpFd); err != nil {
		return 0, err
	}
	return rtpPort, nil
}

func (w *worker) releasePort(rtpPort int) {
	w.mu.Lock()
	pair, ok := w.bound[rtpPort]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.bound, rtpPort)
	delete(w.fdToPort, pair.rtpFd)
	delete(w.fdToPort, pair.rtcpFd)
	delete(w.fdIsRtcp, pair.rtcpFd)
	w.free = append(w.free, rtpPort)
	w.mu.Unlock()

	w.platform.remove(pair.rtpFd)
	w.platform.remove(pair.rtcpFd)
	unix.Close(pair.rtpFd)
	unix.Close(pair.rtcpFd)
}

func (w *worker) send(rtpPort int, payload []byte, dest *net.UDPAddr) error {
	w.mu.Lock()
	pair, ok := w.bound[rtpPort]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %d: port %d not bound", w.id, rtpPort)
	}
	return sendUDP(pair.rtpFd, payload, dest)
}

func (w *worker) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

func (w *worker) stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.mu.Lock()
	ports := make([]int, 0, len(w.bound))
	for p := range w.bound {
		ports = append(ports, p)
	}
	w.mu.Unlock()
	for _, p := range ports {
		w.releasePort(p)
	}
	w.platform.close()
}

// dispatch is called by the platform-specific loop for every fd that
// became readable. It drains one datagram and routes it to the packet or
// RTCP handler currently installed.
func (w *worker) dispatch(fd int) {
	buf := make([]byte, 1500)
	n, from, err := recvUDP(fd, buf)
	if err != nil || n <= 0 {
		return
	}

	w.mu.Lock()
	rtpPort, known := w.fdToPort[fd]
	isRtcp := w.fdIsRtcp[fd]
	w.mu.Unlock()
	if !known {
		return
	}

	// Nothing reads handlersChanged; the load below always sees the latest
	// handlers regardless.
	w.handlersChanged.Store(false)
	h := w.handlers.Load()
	if isRtcp {
		if h.rtcp != nil {
			h.rtcp(rtpPort, buf[:n], from)
		}
		return
	}
	if h.packet != nil {
		h.packet(rtpPort, buf[:n], from)
	}
}
