//go:build !darwin

package capture

import (
	"runtime"

	"leaderkey/internal/event"
)

type unavailableBackend struct{}

// NewPlatformBackend returns a backend that cannot create taps. Global key
// interception is only implemented for macOS.
func NewPlatformBackend() Backend {
	return unavailableBackend{}
}

func (unavailableBackend) Available() (bool, string) {
	return false, "global key capture is not supported on " + runtime.GOOS
}

func (unavailableBackend) NewTap(int, Sink) (Tap, error) {
	return nil, ErrUnavailable
}

func (unavailableBackend) Repost(event.Event) error {
	return ErrUnavailable
}
