//go:build linux

// Package affinity, Linux implementation via pthread_setaffinity_np.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package affinity

/*
#define _GNU_SOURCE
#include <sched.h>
#include <pthread.h>
#include <errno.h>

int go_setaffinity(int cpu) {
	cpu_set_t set;
	CPU_ZERO(&set);
	CPU_SET(cpu, &set);
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}
*/
import "C"
import "fmt"

func pinPlatform(cpuID int) error {
	if ret := C.go_setaffinity(C.int(cpuID)); ret != 0 {
		return fmt.Errorf("affinity: pthread_setaffinity_np failed, code %d", ret)
	}
	return nil
}
