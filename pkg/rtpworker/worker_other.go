//go:build !linux

package rtpworker

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// platformState on non-Linux unixes (darwin, bsd) falls back to poll(2)
// via golang.org/x/sys/unix, rebuilding the pollfd slice whenever the
// registered descriptor set changes rather than maintaining a kernel-side
// interest list the way epoll does.
type platformState struct {
	mu  sync.Mutex
	fds []int
}

func newPlatformState() (platformState, error) {
	return platformState{}, nil
}

func (p *platformState) add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds = append(p.fds, fd)
	return nil
}

func (p *platformState) remove(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, f := range p.fds {
		if f == fd {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return
		}
	}
}

func (p *platformState) close() {}

const pollTimeout = 10 * time.Millisecond

func (w *worker) loop() {
	timeoutMs := int(pollTimeout / time.Millisecond)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.platform.mu.Lock()
		fds := make([]unix.PollFd, len(w.platform.fds))
		for i, fd := range w.platform.fds {
			fds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
		w.platform.mu.Unlock()

		if len(fds) == 0 {
			time.Sleep(pollTimeout)
			continue
		}

		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n <= 0 {
			continue
		}
		for _, pfd := range fds {
			if pfd.Revents&unix.POLLIN != 0 {
				w.dispatch(int(pfd.Fd))
			}
		}
	}
}
