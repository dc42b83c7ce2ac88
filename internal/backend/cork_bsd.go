//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BSD/Darwin have no TCP_CORK; TCP_NOPUSH is the nearest equivalent.
package backend

import "golang.org/x/sys/unix"

func setCorkPlatform(fd, val int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NOPUSH, val)
}
