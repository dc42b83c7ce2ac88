//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll implementation of Reactor.

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type epollReactor struct {
	epfd      int
	mu        sync.Mutex
	callbacks map[uintptr]FDCallback
	masks     map[uintptr]FDEventType
}

func newPlatformReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{
		epfd:      epfd,
		callbacks: make(map[uintptr]FDCallback),
		masks:     make(map[uintptr]FDEventType),
	}, nil
}

func toEpollEvents(events FDEventType) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (r *epollReactor) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.mu.Lock()
	r.callbacks[fd] = cb
	r.masks[fd] = events
	r.mu.Unlock()
	return nil
}

func (r *epollReactor) Modify(fd uintptr, events FDEventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	r.mu.Lock()
	r.masks[fd] = events
	r.mu.Unlock()
	return nil
}

func (r *epollReactor) Unregister(fd uintptr) error {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	r.mu.Lock()
	delete(r.callbacks, fd)
	delete(r.masks, fd)
	r.mu.Unlock()
	return nil
}

func (r *epollReactor) Poll(timeoutMs int) error {
	const maxEvents = 256
	var events [maxEvents]unix.EpollEvent

	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := uintptr(ev.Fd)

		r.mu.Lock()
		cb, ok := r.callbacks[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		var kind FDEventType
		if ev.Events&unix.EPOLLIN != 0 {
			kind |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			kind |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			kind |= EventError
		}

		func() {
			defer func() { _ = recover() }()
			cb(fd, kind)
		}()
	}
	return nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
