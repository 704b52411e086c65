package executor

// Meta is the part of a step shared by every variant.
type Meta struct {
	ID     string
	Name   string
	Agent  string
	Action string
	// Index is the 1-based position in the workflow.
	Index int
}

// Step is either a ToolStep or a ModelStep.
type Step interface {
	StepMeta() Meta
}

// ToolStep invokes a registered tool. String arguments may reference earlier
// outputs as ${stepId}.
type ToolStep struct {
	Meta
	Tool string
	Args map[string]any
}

func (s ToolStep) StepMeta() Meta { return s.Meta }

// ModelStep asks the step's agent to perform Action through the gateway.
type ModelStep struct {
	Meta
	Model string
	Task  string
	Input any
	// Uses lists context keys whose outputs are included in the prompt.
	// Empty means every available output.
	Uses []string
}

func (s ModelStep) StepMeta() Meta { return s.Meta }
