//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue implementation of Reactor for BSD-family platforms.

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type kqueueReactor struct {
	kq        int
	mu        sync.Mutex
	callbacks map[uintptr]FDCallback
	masks     map[uintptr]FDEventType
}

func newPlatformReactor() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue create: %w", err)
	}
	return &kqueueReactor{
		kq:        kq,
		callbacks: make(map[uintptr]FDCallback),
		masks:     make(map[uintptr]FDEventType),
	}, nil
}

func (r *kqueueReactor) changeList(fd uintptr, events FDEventType, add bool) []unix.Kevent_t {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !add {
		flags = unix.EV_DELETE
	}
	var changes []unix.Kevent_t
	if events&EventRead != 0 || !add {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 || !add {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

func (r *kqueueReactor) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	changes := r.changeList(fd, events, true)
	if _, err := unix.Kevent(r.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent add: %w", err)
	}
	r.mu.Lock()
	r.callbacks[fd] = cb
	r.masks[fd] = events
	r.mu.Unlock()
	return nil
}

func (r *kqueueReactor) Modify(fd uintptr, events FDEventType) error {
	r.mu.Lock()
	old := r.masks[fd]
	r.mu.Unlock()
	if old&EventRead != 0 && events&EventRead == 0 {
		_, _ = unix.Kevent(r.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}}, nil, nil)
	}
	if old&EventWrite != 0 && events&EventWrite == 0 {
		_, _ = unix.Kevent(r.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}}, nil, nil)
	}
	add := r.changeList(fd, events&^old, true)
	if len(add) > 0 {
		if _, err := unix.Kevent(r.kq, add, nil, nil); err != nil {
			return fmt.Errorf("kevent mod: %w", err)
		}
	}
	r.mu.Lock()
	r.masks[fd] = events
	r.mu.Unlock()
	return nil
}

func (r *kqueueReactor) Unregister(fd uintptr) error {
	changes := r.changeList(fd, 0, false)
	_, _ = unix.Kevent(r.kq, changes, nil, nil)
	r.mu.Lock()
	delete(r.callbacks, fd)
	delete(r.masks, fd)
	r.mu.Unlock()
	return nil
}

func (r *kqueueReactor) Poll(timeoutMs int) error {
	const maxEvents = 256
	var events [maxEvents]unix.Kevent_t

	var tsPtr *unix.Timespec
	var ts unix.Timespec
	if timeoutMs >= 0 {
		ts.Sec = int64(timeoutMs / 1000)
		ts.Nsec = int64((timeoutMs % 1000) * 1_000_000)
		tsPtr = &ts
	}

	n, err := unix.Kevent(r.kq, nil, events[:], tsPtr)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("kevent wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := uintptr(ev.Ident)

		r.mu.Lock()
		cb, ok := r.callbacks[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		var kind FDEventType
		switch ev.Filter {
		case unix.EVFILT_READ:
			kind = EventRead
		case unix.EVFILT_WRITE:
			kind = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			kind |= EventError
		}

		func() {
			defer func() { _ = recover() }()
			cb(fd, kind)
		}()
	}
	return nil
}

func (r *kqueueReactor) Close() error {
	return unix.Close(r.kq)
}
