//go:build !linux

// File: core/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// pinWorker only locks the OS thread; per-CPU binding is Linux-only.
func pinWorker(int) error {
	runtime.LockOSThread()
	return nil
}

func allowedCPUs() []int { return nil }
