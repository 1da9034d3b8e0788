//go:build windows

package main

import (
	"os"
	"syscall"
)

// Windows has no reload or reset signals; both stay nil and never fire.
var (
	shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	reloadSignal    os.Signal
	resetSignal     os.Signal
)
