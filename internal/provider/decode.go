package provider

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"leaderkey/internal/tree"
)

//go:embed schema/tree.schema.json
var treeSchema []byte

const schemaURL = "file:///leaderkey/tree.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Schema returns the compiled action tree schema.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(treeSchema)); err != nil {
			compileErr = fmt.Errorf("add tree schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

type fileNode struct {
	Type       string     `json:"type"`
	Key        string     `json:"key,omitempty"`
	Label      string     `json:"label,omitempty"`
	Value      string     `json:"value,omitempty"`
	StickyMode bool       `json:"stickyMode,omitempty"`
	Sticky     bool       `json:"sticky,omitempty"`
	Activates  bool       `json:"activates,omitempty"`
	Actions    []fileNode `json:"actions,omitempty"`
	MacroSteps []fileStep `json:"macroSteps,omitempty"`
}

type fileStep struct {
	Action  fileNode `json:"action"`
	Delay   float64  `json:"delay,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// Decode validates data against the tree schema and builds the root Group.
// Structural findings that do not prevent use, such as duplicate keys, are
// returned as tree.Problems alongside a usable root.
func Decode(data []byte) (*tree.Group, error) {
	schema, err := Schema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	var root fileNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	g := buildGroup(root)

	if err := tree.Validate(g); err != nil {
		var probs tree.Problems
		if errors.As(err, &probs) {
			return g, probs
		}
		return nil, err
	}
	return g, nil
}

// LoadFile reads and decodes one tree file.
func LoadFile(path string) (*tree.Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := Decode(data)
	if err != nil {
		return g, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func buildGroup(n fileNode) *tree.Group {
	g := &tree.Group{
		Key:        n.Key,
		Label:      n.Label,
		StickyMode: n.StickyMode,
		Children:   make([]tree.Node, 0, len(n.Actions)),
	}
	for _, c := range n.Actions {
		if c.Type == "group" {
			g.Children = append(g.Children, buildGroup(c))
		} else {
			g.Children = append(g.Children, buildAction(c))
		}
	}
	return g
}

func buildAction(n fileNode) *tree.Action {
	kind, _ := tree.ParseKind(n.Type)
	a := &tree.Action{
		Key:       n.Key,
		Kind:      kind,
		Value:     n.Value,
		Label:     n.Label,
		Activates: n.Activates,
		Sticky:    n.Sticky,
	}
	for _, s := range n.MacroSteps {
		enabled := s.Enabled == nil || *s.Enabled
		a.Macro = append(a.Macro, tree.MacroStep{
			Action:  *buildAction(s.Action),
			Delay:   time.Duration(s.Delay * float64(time.Second)),
			Enabled: enabled,
		})
	}
	return a
}
