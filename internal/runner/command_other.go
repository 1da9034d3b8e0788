//go:build !darwin

package runner

import (
	"errors"

	"leaderkey/internal/event"
)

// ErrUnsupported is returned for actions this platform cannot perform.
var ErrUnsupported = errors.New("runner: action not supported on this platform")

func openApplication(app string, _ bool) (string, []string, error) {
	return "xdg-open", []string{app}, nil
}

func openTarget(target string, _ bool) (string, []string, error) {
	return "xdg-open", []string{target}, nil
}

func typeText(text string) (string, []string, error) {
	return "xdotool", []string{"type", "--", text}, nil
}

func sendShortcut(event.Shortcut) (string, []string, error) {
	return "", nil, ErrUnsupported
}
