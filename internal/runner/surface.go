package runner

import (
	"leaderkey/internal/logging"
	"leaderkey/internal/tree"
)

// LogSurface is a Surface that only logs. It stands in for a window when
// the daemon runs headless.
type LogSurface struct {
	Logger *logging.Logger
}

func (s LogSurface) Show(g *tree.Group) {
	keys := make([]string, 0, len(g.Children))
	for _, c := range g.Children {
		keys = append(keys, c.NodeKey())
	}
	s.Logger.Debug("show", "group", g.DisplayName(), "keys", keys)
}

func (s LogSurface) Hide()         { s.Logger.Debug("hide") }
func (s LogSurface) Shake()        { s.Logger.Debug("shake") }
func (s LogSurface) OpenSettings() { s.Logger.Info("open settings") }
