// Package tree defines the action tree that leader sequences are matched
// against: Groups that nest, and Actions that terminate a sequence.
package tree

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind enumerates what an Action does.
type Kind int

const (
	KindLaunchApplication Kind = iota + 1
	KindOpenURL
	KindRunCommand
	KindOpenFolder
	KindSendShortcut
	KindTypeText
	KindToggleStickyMode
	KindRunMacro
)

var kindNames = map[Kind]string{
	KindLaunchApplication: "application",
	KindOpenURL:           "url",
	KindRunCommand:        "command",
	KindOpenFolder:        "folder",
	KindSendShortcut:      "shortcut",
	KindTypeText:          "text",
	KindToggleStickyMode:  "toggleStickyMode",
	KindRunMacro:          "macro",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind parses a configuration name into a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	return 0, false
}

// Node is either a *Group or an *Action.
type Node interface {
	NodeKey() string
	node()
}

// Group is an inner node.
type Group struct {
	Key        string
	Label      string
	StickyMode bool
	Children   []Node
}

// Action is a leaf.
type Action struct {
	Key       string
	Kind      Kind
	Value     string
	Label     string
	Activates bool
	Sticky    bool
	Macro     []MacroStep
}

// MacroStep is one step of a run-macro action.
type MacroStep struct {
	Action  Action
	Delay   time.Duration
	Enabled bool
}

func (g *Group) NodeKey() string  { return g.Key }
func (a *Action) NodeKey() string { return a.Key }
func (*Group) node()              {}
func (*Action) node()             {}

// DisplayName returns the label, falling back to the key.
func (g *Group) DisplayName() string {
	if g.Label != "" {
		return g.Label
	}
	return g.Key
}

// DisplayName returns the label, falling back to the value.
func (a *Action) DisplayName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Value
}

// ChildMap builds the key→child map for g. Children without a key are
// skipped. When keys collide the first child wins.
func (g *Group) ChildMap() map[string]Node {
	m := make(map[string]Node, len(g.Children))
	for _, c := range g.Children {
		k := c.NodeKey()
		if k == "" {
			continue
		}
		if _, dup := m[k]; dup {
			continue
		}
		m[k] = c
	}
	return m
}

// Walk visits g and every descendant Group depth-first.
func (g *Group) Walk(fn func(*Group)) {
	fn(g)
	for _, c := range g.Children {
		if sub, ok := c.(*Group); ok {
			sub.Walk(fn)
		}
	}
}

// ErrInvalid wraps all structural validation failures.
var ErrInvalid = errors.New("tree: invalid action tree")

// Problem describes one validation finding.
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// Problems is returned by Validate.
type Problems []Problem

func (p Problems) Error() string {
	msgs := make([]string, len(p))
	for i, pr := range p {
		msgs[i] = pr.String()
	}
	return "tree: " + strings.Join(msgs, "; ")
}

func (p Problems) Unwrap() error { return ErrInvalid }

// Validate checks structural invariants of a root group.
func Validate(root *Group) error {
	if root == nil {
		return fmt.Errorf("%w: nil root", ErrInvalid)
	}
	var probs Problems
	validateGroup(root, "root", true, &probs)
	if len(probs) > 0 {
		return probs
	}
	return nil
}

func validateGroup(g *Group, path string, isRoot bool, probs *Problems) {
	if !isRoot {
		if g.Key == "" {
			*probs = append(*probs, Problem{path, "group without key is only valid as root"})
		} else if utf8.RuneCountInString(g.Key) != 1 {
			*probs = append(*probs, Problem{path, fmt.Sprintf("key %q must be a single character", g.Key)})
		}
	}

	seen := make(map[string]bool, len(g.Children))
	for i, c := range g.Children {
		childPath := fmt.Sprintf("%s/%d", path, i)
		if k := c.NodeKey(); k != "" {
			childPath = path + "/" + k
			if seen[k] {
				*probs = append(*probs, Problem{childPath, fmt.Sprintf("duplicate key %q, first occurrence wins", k)})
			}
			seen[k] = true
		}
		switch n := c.(type) {
		case *Group:
			validateGroup(n, childPath, false, probs)
		case *Action:
			validateAction(n, childPath, probs)
		case nil:
			*probs = append(*probs, Problem{childPath, "nil child"})
		}
	}
}

func validateAction(a *Action, path string, probs *Problems) {
	if a.Key == "" {
		*probs = append(*probs, Problem{path, "action without key"})
	} else if utf8.RuneCountInString(a.Key) != 1 {
		*probs = append(*probs, Problem{path, fmt.Sprintf("key %q must be a single character", a.Key)})
	}
	if _, ok := kindNames[a.Kind]; !ok {
		*probs = append(*probs, Problem{path, "unknown action kind"})
	}
	if a.Kind == KindRunMacro {
		for i, step := range a.Macro {
			if step.Action.Kind == KindRunMacro {
				*probs = append(*probs, Problem{fmt.Sprintf("%s/macro/%d", path, i), "nested macros are not supported"})
			}
			if step.Delay < 0 {
				*probs = append(*probs, Problem{fmt.Sprintf("%s/macro/%d", path, i), "negative delay"})
			}
		}
	}
}
