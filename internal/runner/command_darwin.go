//go:build darwin

package runner

import (
	"fmt"
	"strings"

	"leaderkey/internal/event"
)

func openApplication(app string, activate bool) (string, []string, error) {
	var args []string
	if !activate {
		args = append(args, "-g")
	}
	if !strings.Contains(app, "/") {
		args = append(args, "-a")
	}
	return "open", append(args, app), nil
}

func openTarget(target string, activate bool) (string, []string, error) {
	if activate {
		return "open", []string{target}, nil
	}
	return "open", []string{"-g", target}, nil
}

func typeText(text string) (string, []string, error) {
	script := "tell application \"System Events\" to keystroke " + appleScriptString(text)
	return "osascript", []string{"-e", script}, nil
}

func sendShortcut(sc event.Shortcut) (string, []string, error) {
	if !sc.Valid() {
		return "", nil, fmt.Errorf("runner: empty shortcut")
	}
	script := fmt.Sprintf("tell application \"System Events\" to key code %d", sc.Code)
	if using := appleScriptModifiers(sc.Modifiers); using != "" {
		script += " using {" + using + "}"
	}
	return "osascript", []string{"-e", script}, nil
}

func appleScriptModifiers(m event.Modifiers) string {
	var parts []string
	if m&event.Command != 0 {
		parts = append(parts, "command down")
	}
	if m&event.Shift != 0 {
		parts = append(parts, "shift down")
	}
	if m&event.Option != 0 {
		parts = append(parts, "option down")
	}
	if m&event.Control != 0 {
		parts = append(parts, "control down")
	}
	return strings.Join(parts, ", ")
}
