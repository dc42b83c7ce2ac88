//go:build windows

// Package affinity, Windows implementation via SetThreadAffinityMask.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package affinity

import "syscall"

func pinPlatform(cpuID int) error {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	procSetThreadAffinityMask := kernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThread := kernel32.NewProc("GetCurrentThread")
	hThread, _, _ := procGetCurrentThread.Call()
	mask := uintptr(1) << uint(cpuID)
	ret, _, err := procSetThreadAffinityMask.Call(hThread, mask)
	if ret == 0 {
		return err
	}
	return nil
}
