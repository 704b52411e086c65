package agent

import (
	"sort"
	"sync"
)

// Team lazily creates one Agent per resolved agent name for a single run.
type Team struct {
	roster *Roster
	opts   []Option

	mu     sync.Mutex
	agents map[string]*Agent
}

// NewTeam returns an empty team. opts apply to every agent it creates.
func NewTeam(roster *Roster, opts ...Option) *Team {
	return &Team{roster: roster, opts: opts, agents: make(map[string]*Agent)}
}

// Get returns the agent for name, following aliases.
func (t *Team) Get(name string) *Agent {
	resolved := t.roster.Resolve(name)

	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.agents[resolved]; ok {
		return a
	}
	def, _ := t.roster.GetDefinition(resolved)
	opts := append([]Option{WithModel(def.Model), WithSystem(def.System)}, t.opts...)
	a := New(resolved, opts...)
	t.agents[resolved] = a
	return a
}

// Snapshot returns the state of every agent created so far, sorted by name.
func (t *Team) Snapshot() []State {
	t.mu.Lock()
	agents := make([]*Agent, 0, len(t.agents))
	for _, a := range t.agents {
		agents = append(agents, a)
	}
	t.mu.Unlock()

	out := make([]State, len(agents))
	for i, a := range agents {
		out[i] = a.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
