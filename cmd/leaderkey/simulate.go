package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"leaderkey/internal/capture"
	"leaderkey/internal/event"
	"leaderkey/internal/logging"
)

// feedSimulated reads one shortcut per line ("cmd+space", "a", "#49") and
// delivers it as a key press followed by a release. Blank lines and lines
// starting with '#' followed by a space are skipped.
func feedSimulated(ctx context.Context, b *capture.SimulatedBackend, r io.Reader, logger *logging.Logger) {
	log := logger.WithComponent("simulate")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "# ") {
			continue
		}
		sc, err := event.ParseShortcut(line)
		if err != nil {
			log.Warn("skipping input", "line", line, "error", err)
			continue
		}
		now := time.Now()
		down := event.Event{Kind: event.KeyDown, Code: sc.Code, Modifiers: sc.Modifiers, Timestamp: now}
		up := down
		up.Kind = event.KeyUp
		up.Timestamp = now.Add(time.Millisecond)
		withheld := b.Deliver(down)
		b.Deliver(up)
		log.Debug("delivered", "shortcut", sc.String(), "withheld", withheld)
	}
	if err := scanner.Err(); err != nil {
		log.Error("read input", "error", err)
	}
}
