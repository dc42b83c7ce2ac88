//go:build !linux && !windows

// Package affinity, fallback for platforms with no portable thread-pinning
// syscall exposed (Darwin and the BSDs have no pthread_setaffinity_np
// equivalent reachable without per-OS cgo).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package affinity

import "errors"

func pinPlatform(cpuID int) error {
	return errors.New("affinity: not supported on this platform")
}
