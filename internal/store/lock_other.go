//go:build !unix

package store

import "os"

var probeSignal os.Signal = os.Interrupt
