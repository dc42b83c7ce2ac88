// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package backend

import "errors"

// socket is the platform-specific non-blocking transport underneath a
// Client. Pollable implementations register their Fd() with the reactor
// for readiness callbacks; non-pollable implementations (the portable
// net-based fallback) are driven by polling PollConnect from Tick instead.
type socket interface {
	Pollable() bool
	Fd() uintptr
	// PollConnect reports whether an in-progress connect has finished, and
	// the resulting error (nil on success). For pollable sockets this is
	// only meaningful after a write-readiness callback fires.
	PollConnect() (done bool, err error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetCork(enable bool) error
	Close() error
}

// errWouldBlock is returned by Read/Write implementations when the
// operation could not complete without blocking.
var errWouldBlock = errors.New("backend: operation would block")

func isWouldBlock(err error) bool {
	return errors.Is(err, errWouldBlock)
}
