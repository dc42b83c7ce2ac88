// Package affinity pins the calling goroutine's OS thread to a single
// logical CPU, used to keep the single-threaded event loop on one core
// and off the scheduler's migration path. Platform-specific
// implementations live in separate files guarded by build tags.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package affinity

import "runtime"

// Pin locks the calling goroutine to its current OS thread and binds that
// thread to cpuID. The caller must not call runtime.UnlockOSThread
// afterward for as long as the pin should hold; call Unpin to release it.
// Returns an error on platforms where pinning is not supported.
func Pin(cpuID int) error {
	runtime.LockOSThread()
	if err := pinPlatform(cpuID); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Unpin releases the OS thread lock taken by Pin. It does not attempt to
// clear the underlying platform affinity mask; a terminated thread's
// affinity is irrelevant, and non-terminating callers simply accept
// running pinned for the remainder of the process lifetime.
func Unpin() {
	runtime.UnlockOSThread()
}
