//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package backend

import "golang.org/x/sys/unix"

func setCorkPlatform(fd, val int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, val)
}
