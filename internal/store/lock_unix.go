//go:build unix

package store

import "syscall"

var probeSignal = syscall.Signal(0)
