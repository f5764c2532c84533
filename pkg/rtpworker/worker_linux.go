//go:build linux

package rtpworker

import (
	"time"

	"golang.org/x/sys/unix"
)

// platformState on Linux is an epoll instance. x/sys/unix's EpollEvent
// only exposes the fd as an int32, not the full 64-bit epoll_data_t union
// the original C implementation packs port+fd into, so the worker keeps a
// plain fd->port map instead (see worker.go); both are O(1) lookups off
// the event.
type platformState struct {
	epfd int
}

func newPlatformState() (platformState, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return platformState{}, err
	}
	return platformState{epfd: fd}, nil
}

func (p platformState) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p platformState) remove(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p platformState) close() {
	unix.Close(p.epfd)
}

const pollTimeout = 10 * time.Millisecond

func (w *worker) loop() {
	events := make([]unix.EpollEvent, 64)
	timeoutMs := int(pollTimeout / time.Millisecond)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		n, err := unix.EpollWait(w.platform.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			w.dispatch(int(events[i].Fd))
		}
	}
}
