package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/skillrun/pkg/catalog"
	"github.com/ormasoftchile/skillrun/pkg/heal"
	"github.com/ormasoftchile/skillrun/pkg/logger"
	"github.com/ormasoftchile/skillrun/pkg/memory"
	"github.com/ormasoftchile/skillrun/pkg/remedy"
	"github.com/ormasoftchile/skillrun/pkg/schema"
	"github.com/ormasoftchile/skillrun/pkg/template"
	"github.com/ormasoftchile/skillrun/pkg/tools"
)

// DefaultMaxCallDepth bounds nested skill_run chains, counting the root
// run as depth 0.
const DefaultMaxCallDepth = 5

// Engine executes skill definitions against a tool registry.
type Engine struct {
	Catalog  catalog.Catalog
	Tools    tools.Registry
	Remedy   remedy.Provider
	Sink     memory.Sink
	Resolver *template.Resolver
	Config   map[string]any

	// MaxAttempts is the total attempt cap for auto_heal steps;
	// 0 means heal.DefaultMaxAttempts.
	MaxAttempts int
	// MaxCallDepth caps skill nesting; 0 means DefaultMaxCallDepth.
	MaxCallDepth int
}

// NewEngine wires an engine with the standard resolver. Catalog, Remedy,
// and Sink may be nil when the caller never uses nested skills or
// auto_heal.
func NewEngine(reg tools.Registry) *Engine {
	return &Engine{
		Tools:    reg,
		Resolver: template.NewResolver(),
		Config:   map[string]any{},
	}
}

// Execute runs a skill to completion. The returned SkillResult is
// non-nil even on error: a fail-policy step returns the partial result
// alongside a *StepError.
func (e *Engine) Execute(ctx context.Context, def *schema.SkillDefinition, inputs map[string]any) (*SkillResult, error) {
	return e.execute(ctx, def, inputs, 0)
}

func (e *Engine) execute(ctx context.Context, def *schema.SkillDefinition, inputs map[string]any, depth int) (*SkillResult, error) {
	result := &SkillResult{Skill: def.Name, Status: SkillCompleted}

	if errs := schema.ValidateDomain(def); schema.HasErrors(errs) {
		return result, fmt.Errorf("skill %s is invalid: %w", def.Name, firstError(errs))
	}

	ec := NewExecutionContext(inputs, e.Config, depth)
	if err := applyInputs(def, ec); err != nil {
		return result, err
	}

	log := logger.G(ctx).WithField("skill", def.Name)
	if depth > 0 {
		log = log.WithField("depth", depth)
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		sr := e.runStep(ctx, def, step, ec)
		result.StepResults = append(result.StepResults, sr)

		switch sr.Status {
		case StepOK, StepHealed:
			ec.Steps[step.Name] = sr.Value
			continue
		case StepSkipped:
			continue
		}

		// Step errored; the policy decides what happens next.
		switch step.OnError.Policy() {
		case schema.OnErrorContinue, schema.OnErrorAutoHeal:
			log.WithField("step", step.Name).WithField("error", sr.ErrorText).
				Warn("step failed, continuing")
		case schema.OnErrorAbort:
			log.WithField("step", step.Name).WithField("error", sr.ErrorText).
				Warn("step failed, aborting skill")
			result.Status = SkillAborted
			result.Outputs = e.renderOutputs(def, ec)
			return result, nil
		default: // fail
			return result, &StepError{Skill: def.Name, Step: step.Name, Text: sr.ErrorText}
		}
	}

	result.Outputs = e.renderOutputs(def, ec)
	return result, nil
}

// applyInputs fills defaults and rejects missing required inputs.
func applyInputs(def *schema.SkillDefinition, ec *ExecutionContext) error {
	var missing []string
	for _, in := range def.Inputs {
		if _, ok := ec.Inputs[in.Name]; ok {
			continue
		}
		if in.Default != nil {
			ec.Inputs[in.Name] = in.Default
			continue
		}
		if in.Required {
			missing = append(missing, in.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("skill %s: missing required inputs: %s", def.Name, strings.Join(missing, ", "))
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, def *schema.SkillDefinition, step *schema.StepSpec, ec *ExecutionContext) StepResult {
	sr := StepResult{Name: step.Name, Status: StepOK, StartedAt: time.Now().UTC()}
	defer func() { sr.EndedAt = time.Now().UTC() }()

	env := ec.Env()
	if step.Condition != "" && !e.Resolver.EvalCondition(step.Condition, env) {
		sr.Status = StepSkipped
		return sr
	}

	args := e.renderArgs(step.Args, env)

	var out heal.Outcome
	switch step.Kind() {
	case schema.KindCompute:
		value, err := e.Resolver.Eval(step.Compute, env)
		if err != nil {
			sr.Status = StepFailed
			sr.ErrorText = err.Error()
			return sr
		}
		sr.Value = value
		return sr

	case schema.KindSkillRun:
		value, err := e.runNested(ctx, step, args, ec.Depth)
		if err != nil {
			sr.Status = StepFailed
			sr.ErrorText = err.Error()
			return sr
		}
		sr.Value = value
		return sr

	default: // KindTool; KindInvalid is rejected by validation
		call := func(ctx context.Context) (any, error) {
			return e.Tools.Invoke(ctx, step.Tool, args)
		}
		if step.OnError.Policy() == schema.OnErrorAutoHeal {
			retrier := &heal.Retrier{Remedy: e.Remedy, Sink: e.Sink, MaxAttempts: e.MaxAttempts}
			out = retrier.Run(ctx, def.Name, step.Tool, true, call)
		} else {
			out = e.runOnce(ctx, def.Name, step.Tool, call)
		}
	}

	sr.Value = out.Value
	sr.Retries = out.Retries()
	switch {
	case out.Failed:
		sr.Status = StepFailed
		sr.ErrorText = out.Failure.Summary
	case out.Healed:
		sr.Status = StepHealed
	}
	return sr
}

// runOnce is the single-attempt path for tool steps without auto_heal:
// same classification of the result, but no remediation, no retry, and
// no sink entry. The failure memory records only auto_heal outcomes.
func (e *Engine) runOnce(ctx context.Context, skill, tool string, call heal.Call) heal.Outcome {
	retrier := &heal.Retrier{MaxAttempts: 1}
	return retrier.Run(ctx, skill, tool, true, call)
}

// renderArgs resolves templates in step args, preserving types for
// sole-span values.
func (e *Engine) renderArgs(args map[string]any, env map[string]any) map[string]any {
	rendered := make(map[string]any, len(args))
	for k, v := range args {
		rendered[k] = e.Resolver.RenderValue(v, env)
	}
	return rendered
}

// runNested resolves and executes a skill_run step. The step value is
// a small map with the child's status and outputs; the child's step
// envelopes stay with the child.
func (e *Engine) runNested(ctx context.Context, step *schema.StepSpec, args map[string]any, depth int) (any, error) {
	maxDepth := e.MaxCallDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	if depth+1 >= maxDepth {
		return nil, fmt.Errorf("skill call depth limit (%d) exceeded", maxDepth)
	}
	if e.Catalog == nil {
		return nil, fmt.Errorf("nested skills are not available: no catalog configured")
	}

	name, _ := args["skill_name"].(string)
	if name == "" {
		return nil, fmt.Errorf("skill_run requires a skill_name arg")
	}
	childInputs, _ := args["inputs"].(map[string]any)

	child, err := e.Catalog.LoadSkill(name)
	if err != nil {
		return nil, fmt.Errorf("load skill %s: %w", name, err)
	}

	childResult, err := e.execute(ctx, child, childInputs, depth+1)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":  string(childResult.Status),
		"outputs": childResult.Outputs,
	}, nil
}

// renderOutputs resolves output templates against the final context.
// Unresolvable fragments render empty by the resolver contract.
func (e *Engine) renderOutputs(def *schema.SkillDefinition, ec *ExecutionContext) map[string]any {
	if len(def.Outputs) == 0 {
		return nil
	}
	env := ec.Env()
	outputs := make(map[string]any, len(def.Outputs))
	for _, out := range def.Outputs {
		outputs[out.Name] = e.Resolver.RenderValue(out.Value, env)
	}
	return outputs
}

func firstError(errs []*schema.ValidationError) error {
	for _, e := range errs {
		if e.Severity == "error" {
			return e
		}
	}
	return errs[0]
}
