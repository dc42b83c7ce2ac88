//go:build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows IOCP implementation of Reactor.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"
)

type iocpEntry struct {
	fd     uintptr
	cb     FDCallback
	events FDEventType
}

type iocpReactor struct {
	iocp       windows.Handle
	mu         sync.Mutex
	byKey      map[uint32]*iocpEntry
	byFd       map[uintptr]uint32
	keyCounter uint32
}

func newPlatformReactor() (Reactor, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("iocp create: %w", err)
	}
	return &iocpReactor{
		iocp:  iocp,
		byKey: make(map[uint32]*iocpEntry),
		byFd:  make(map[uintptr]uint32),
	}, nil
}

func (r *iocpReactor) Register(fd uintptr, events FDEventType, cb FDCallback) error {
	key := atomic.AddUint32(&r.keyCounter, 1)
	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), r.iocp, uintptr(key), 0); err != nil {
		return fmt.Errorf("iocp associate: %w", err)
	}
	r.mu.Lock()
	r.byKey[key] = &iocpEntry{fd: fd, cb: cb, events: events}
	r.byFd[fd] = key
	r.mu.Unlock()
	return nil
}

func (r *iocpReactor) Modify(fd uintptr, events FDEventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byFd[fd]
	if !ok {
		return fmt.Errorf("iocp: fd %d not registered", fd)
	}
	r.byKey[key].events = events
	return nil
}

func (r *iocpReactor) Unregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byFd[fd]
	if !ok {
		return nil
	}
	delete(r.byKey, key)
	delete(r.byFd, fd)
	return nil
}

func (r *iocpReactor) Poll(timeoutMs int) error {
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}

	err := windows.GetQueuedCompletionStatus(r.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil
		}
		return fmt.Errorf("iocp wait: %w", err)
	}

	r.mu.Lock()
	entry, ok := r.byKey[uint32(key)]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	func() {
		defer func() { _ = recover() }()
		entry.cb(entry.fd, entry.events)
	}()
	return nil
}

func (r *iocpReactor) Close() error {
	return windows.CloseHandle(r.iocp)
}
