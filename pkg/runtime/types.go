// Package runtime drives skill execution: condition gating, argument
// rendering, tool dispatch, error policies, and nested skill calls.
package runtime

import (
	"fmt"
	"time"
)

// StepStatus is the terminal status of one step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "error"
	StepHealed  StepStatus = "healed" // succeeded after remediation retry
)

// SkillStatus is the terminal status of one skill run.
type SkillStatus string

const (
	SkillCompleted SkillStatus = "completed"
	SkillAborted   SkillStatus = "aborted"
)

// StepResult is the per-step envelope returned to callers. Templates
// inside the run see only Value; the envelope is reporting surface.
type StepResult struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Value     any        `json:"value,omitempty"`
	ErrorText string     `json:"error,omitempty"`
	Retries   int        `json:"retries"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// SkillResult is the aggregate result of a skill run.
type SkillResult struct {
	Skill       string         `json:"skill"`
	Status      SkillStatus    `json:"status"`
	StepResults []StepResult   `json:"step_results"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// StepError aborts a run when a step with the fail policy errors. The
// partial SkillResult accompanies it on the Engine.Execute return.
type StepError struct {
	Skill string
	Step  string
	Text  string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("skill %s: step %s failed: %s", e.Skill, e.Step, e.Text)
}

// ExecutionContext is the mutable state visible to templates during a
// run. Steps holds raw step values, not result envelopes.
type ExecutionContext struct {
	Inputs map[string]any
	Config map[string]any
	Steps  map[string]any
	Depth  int // nesting depth, 0 for a root run
}

// NewExecutionContext copies inputs so callers keep ownership of their
// maps.
func NewExecutionContext(inputs, config map[string]any, depth int) *ExecutionContext {
	in := make(map[string]any, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	if config == nil {
		config = map[string]any{}
	}
	return &ExecutionContext{
		Inputs: in,
		Config: config,
		Steps:  make(map[string]any),
		Depth:  depth,
	}
}

// Env is the template scope: inputs, config, and completed step values.
func (c *ExecutionContext) Env() map[string]any {
	return map[string]any{
		"inputs": c.Inputs,
		"config": c.Config,
		"steps":  c.Steps,
	}
}
