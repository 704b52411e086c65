// Package workflow loads declarative step lists and runs them: serial steps
// in order with conditional skipping, parallel-eligible steps fanned out
// through a bounded task pool.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/orca/internal/executor"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

// StepSpec is one step as written in the workflow document.
type StepSpec struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Agent    string   `yaml:"agent"`
	Model    string   `yaml:"model"`
	Tool     string   `yaml:"tool"`
	Action   string   `yaml:"action"`
	Task     string   `yaml:"task"`
	Input    any      `yaml:"input"`
	Uses     []string `yaml:"uses"`
	Parallel bool     `yaml:"parallel"`
	If       *Guard   `yaml:"if"`
}

// Guard skips a step unless the output stored under Equals[0] equals
// Equals[1].
type Guard struct {
	Equals []any `yaml:"equals"`
}

// Definition is one named workflow. The document accepts either a mapping
// with description, topology and steps, or a bare step sequence.
type Definition struct {
	Name        string     `yaml:"-"`
	Description string     `yaml:"description"`
	Topology    string     `yaml:"topology"`
	Steps       []StepSpec `yaml:"steps"`
}

func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(&d.Steps)
	}
	type plain Definition
	return node.Decode((*plain)(d))
}

// TopologyName is the definition's topology, defaulting to the workflow's
// own name since documents are keyed by topology.
func (d Definition) TopologyName() string {
	if d.Topology != "" {
		return d.Topology
	}
	return d.Name
}

type document struct {
	Workflows map[string]Definition `yaml:"workflows"`
}

// Catalog holds the workflows of one document.
type Catalog struct {
	defs    map[string]Definition
	names   []string
	invalid map[string]error
}

// Load reads the workflow document at path. A missing file yields an empty
// catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{defs: map[string]Definition{}}, nil
		}
		return nil, fmt.Errorf("read workflows: %w", err)
	}
	return Parse(data)
}

// Parse decodes a workflow document. Workflows that fail validation are left
// out of the catalog and reported by Invalid; only a malformed document is an
// error.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflows: %w", err)
	}

	c := &Catalog{defs: make(map[string]Definition, len(doc.Workflows))}
	for name, def := range doc.Workflows {
		def.Name = name
		if err := Validate(def); err != nil {
			if c.invalid == nil {
				c.invalid = make(map[string]error)
			}
			c.invalid[name] = err
			slog.Warn("skipping invalid workflow", "workflow", name, "error", err)
			continue
		}
		c.defs[name] = def
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Invalid returns the validation error of every workflow left out of the
// catalog, keyed by name.
func (c *Catalog) Invalid() map[string]error {
	out := make(map[string]error, len(c.invalid))
	for k, v := range c.invalid {
		out[k] = v
	}
	return out
}

func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Summary describes one workflow for listings.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Topology    string `json:"topology"`
	Steps       int    `json:"steps"`
}

func (c *Catalog) Summary() []Summary {
	out := make([]Summary, 0, len(c.names))
	for _, name := range c.names {
		d := c.defs[name]
		out = append(out, Summary{
			Name:        name,
			Description: d.Description,
			Topology:    d.TopologyName(),
			Steps:       len(d.Steps),
		})
	}
	return out
}

// Step is a resolved step: its executable variant plus the scheduling
// attributes the orchestrator needs.
type Step struct {
	executor.Step
	Parallel bool
	Guard    *Condition
}

// ID returns the step's id.
func (s Step) ID() string { return s.StepMeta().ID }

// Resolve turns the definition's specs into executable steps. Whether a step
// calls a tool or a model is decided here, once.
func (d Definition) Resolve() ([]Step, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(d.Steps))
	for i, ss := range d.Steps {
		meta := executor.Meta{
			ID:     stepID(ss, i),
			Name:   ss.Name,
			Agent:  strings.ToLower(ss.Agent),
			Action: ss.Action,
			Index:  i + 1,
		}
		if meta.Name == "" {
			meta.Name = meta.ID
		}

		s := Step{Parallel: ss.Parallel}
		if ss.If != nil {
			s.Guard = &Condition{Key: fmt.Sprint(ss.If.Equals[0]), Value: ss.If.Equals[1]}
		}
		if ss.Tool != "" {
			args, _ := ss.Input.(map[string]any)
			s.Step = executor.ToolStep{Meta: meta, Tool: ss.Tool, Args: args}
		} else {
			s.Step = executor.ModelStep{
				Meta:  meta,
				Model: ss.Model,
				Task:  ss.Task,
				Input: ss.Input,
				Uses:  ss.Uses,
			}
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func stepID(ss StepSpec, i int) string {
	if ss.ID != "" {
		return ss.ID
	}
	return fmt.Sprintf("step-%d", i+1)
}
