package agent

import (
	"sort"
	"strings"

	"github.com/mtzanidakis/orca/internal/config"
)

var builtinAgents = map[string]config.AgentDefinition{
	"orchestrator": {
		Description: "Master controller for the system",
		System: "You coordinate work across the team. Break tasks into steps, delegate, " +
			"and verify results. Always commit changes with clear messages.",
	},
	"developer": {
		Description: "Code generation and optimization specialist",
		System: "Generate production-ready code that is tested, documented and easy to maintain. " +
			"Test code before committing.",
	},
	"infrastructure": {
		Description: "Deploys and manages services",
		System:      "Deploy services with zero downtime and roll back immediately if issues are detected.",
	},
	"monitor": {
		Description: "Monitors system health and performance",
		System:      "Watch all services, report anomalies and errors, and suggest optimizations.",
	},
}

// Roster resolves step agent names to agent definitions.
type Roster struct {
	agents   map[string]config.AgentDefinition
	aliases  map[string]string
	fallback string
}

// NewRoster combines the built-in agents with configured definitions and
// aliases. Configured definitions replace built-ins of the same name.
func NewRoster(cfg config.AgentsConfig) *Roster {
	r := &Roster{
		agents:   make(map[string]config.AgentDefinition, len(builtinAgents)+len(cfg.Definitions)),
		aliases:  make(map[string]string, len(cfg.Aliases)),
		fallback: cfg.Default,
	}
	for name, def := range builtinAgents {
		r.agents[name] = def
	}
	for name, def := range cfg.Definitions {
		r.agents[strings.ToLower(name)] = def
	}
	for alias, target := range cfg.Aliases {
		r.aliases[strings.ToLower(alias)] = strings.ToLower(target)
	}
	if _, ok := r.agents[r.fallback]; !ok {
		r.fallback = "developer"
	}
	return r
}

// Resolve maps a step's agent name to a defined agent. Aliases are followed
// once; unknown names resolve to the default agent.
func (r *Roster) Resolve(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := r.agents[n]; ok {
		return n
	}
	if target, ok := r.aliases[n]; ok {
		if _, ok := r.agents[target]; ok {
			return target
		}
	}
	return r.fallback
}

func (r *Roster) GetDefinition(name string) (config.AgentDefinition, bool) {
	def, ok := r.agents[r.Resolve(name)]
	return def, ok
}

// ResolveModel returns the agent's pinned model, or "" to let task routing
// decide.
func (r *Roster) ResolveModel(name string) string {
	if def, ok := r.GetDefinition(name); ok {
		return def.Model
	}
	return ""
}

func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
