package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var ErrContextKeyExists = errors.New("context key already set")

// Context maps step ids to outputs for one run. Each key is written at most
// once. It is not safe for concurrent use; parallel steps get a snapshot.
type Context struct {
	values map[string]any
}

func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

func (c *Context) Set(id string, v any) error {
	if _, ok := c.values[id]; ok {
		return fmt.Errorf("%w: %s", ErrContextKeyExists, id)
	}
	c.values[id] = v
	return nil
}

func (c *Context) Get(id string) (any, bool) {
	v, ok := c.values[id]
	return v, ok
}

// Snapshot returns a copy of the stored outputs.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Condition is a resolved guard.
type Condition struct {
	Key   string
	Value any
}

// Matches compares the stored output for Key with Value by their trimmed
// string forms, so a YAML 3 matches an output of "3". A missing key never
// matches.
func (g *Condition) Matches(c *Context) bool {
	v, ok := c.Get(g.Key)
	if !ok {
		return false
	}
	return strings.TrimSpace(fmt.Sprint(v)) == strings.TrimSpace(fmt.Sprint(g.Value))
}
