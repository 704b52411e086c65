package config

import (
	"reflect"
	"sort"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	SchedulesChanged bool
	NewSchedules     []ScheduleConfig

	WorkflowsChanged bool
	NewWorkflows     WorkflowsConfig

	GovernanceChanged bool
	NewGovernance     GovernanceConfig

	AgentsChanged  bool
	RoutingChanged bool

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.SchedulesChanged ||
		d.WorkflowsChanged ||
		d.GovernanceChanged ||
		d.AgentsChanged ||
		d.RoutingChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Scheduler.Schedules, new.Scheduler.Schedules) ||
		old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulesChanged = true
		d.NewSchedules = new.Scheduler.Schedules
	}

	if old.Workflows != new.Workflows {
		d.WorkflowsChanged = true
		d.NewWorkflows = new.Workflows
	}

	if old.Governance != new.Governance {
		d.GovernanceChanged = true
		d.NewGovernance = new.Governance
	}

	if !reflect.DeepEqual(old.Agents, new.Agents) {
		d.AgentsChanged = true
	}

	if !reflect.DeepEqual(old.Gateway.Routing, new.Gateway.Routing) ||
		!reflect.DeepEqual(old.Gateway.Pricing, new.Gateway.Pricing) {
		d.RoutingChanged = true
	}

	// Non-reloadable warnings
	if !reflect.DeepEqual(old.Servers, new.Servers) {
		d.NonReloadable = append(d.NonReloadable, "servers")
	}
	if old.Gateway.BaseURL != new.Gateway.BaseURL || old.Gateway.APIKey != new.Gateway.APIKey {
		d.NonReloadable = append(d.NonReloadable, "gateway")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Telemetry != new.Telemetry {
		d.NonReloadable = append(d.NonReloadable, "telemetry")
	}
	sort.Strings(d.NonReloadable)

	return d
}
