package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/skillrun/pkg/template"
)

// ValidationError represents a single validation error with location
// context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g. "steps[2].on_error")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a skill
// file. Phase 1: structural (strict YAML decode). Phase 2: semantic
// (JSON Schema). Phase 3: domain (custom rules).
func ValidateFile(path string) (*SkillDefinition, []*ValidationError) {
	def, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return def, Validate(def)
}

// Validate runs the semantic and domain phases on an already-decoded
// definition. nil/empty result means valid.
func Validate(def *SkillDefinition) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(def)...)
	all = append(all, ValidateDomain(def)...)
	return all
}

// HasErrors reports whether any entry is error-severity (warnings
// alone do not invalidate a skill).
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// validateSemantic validates the definition against the generated JSON
// Schema.
func validateSemantic(def *SkillDefinition) []*ValidationError {
	fail := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
	}

	data, err := json.Marshal(def)
	if err != nil {
		return fail(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail(fmt.Sprintf("generate schema: %v", err))
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("skill-v0.json", schemaDoc); err != nil {
		return fail(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("skill-v0.json")
	if err != nil {
		return fail(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation: the rules
// the JSON Schema cannot express.
func ValidateDomain(def *SkillDefinition) []*ValidationError {
	var errs []*ValidationError
	domainErr := func(path, msg string) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "error"})
	}
	domainWarn := func(path, msg string) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "warning"})
	}

	if def.Name == "" {
		domainErr("name", "skill requires a name")
	}

	// Input name uniqueness.
	seenInputs := make(map[string]bool)
	for i, in := range def.Inputs {
		path := fmt.Sprintf("inputs[%d]", i)
		if in.Name == "" {
			domainErr(path+".name", "input requires a name")
			continue
		}
		if seenInputs[in.Name] {
			domainErr(path, fmt.Sprintf("duplicate input name %q", in.Name))
		}
		seenInputs[in.Name] = true
		if in.Required && in.Default != nil {
			domainWarn(path, fmt.Sprintf("input %q is required; its default is never used", in.Name))
		}
	}

	// Step rules. An empty steps list is legal and yields an empty result.
	seenSteps := make(map[string]bool)
	for i, step := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if step.Name == "" {
			domainErr(path+".name", "step requires a name")
			continue
		}
		if seenSteps[step.Name] {
			domainErr(path, fmt.Sprintf("duplicate step name %q", step.Name))
		}
		seenSteps[step.Name] = true

		switch step.Kind() {
		case KindInvalid:
			if step.Tool != "" && step.Compute != "" {
				domainErr(path, fmt.Sprintf("step %q sets both tool and compute; exactly one is allowed", step.Name))
			} else {
				domainErr(path, fmt.Sprintf("step %q sets neither tool nor compute", step.Name))
			}
		case KindSkillRun:
			if _, ok := step.Args["skill_name"]; !ok {
				domainErr(path+".args", fmt.Sprintf("step %q: skill_run requires a skill_name arg", step.Name))
			}
			if _, ok := step.Args["inputs"]; ok {
				if _, isMap := step.Args["inputs"].(map[string]any); !isMap {
					domainErr(path+".args.inputs", fmt.Sprintf("step %q: skill_run inputs must be a mapping", step.Name))
				}
			}
		}

		if !step.OnError.Valid() {
			domainErr(path+".on_error",
				fmt.Sprintf("unknown on_error %q: must be continue, auto_heal, abort, or fail", step.OnError))
		}
	}

	// Output name uniqueness.
	seenOutputs := make(map[string]bool)
	for i, out := range def.Outputs {
		path := fmt.Sprintf("outputs[%d]", i)
		if out.Name == "" {
			domainErr(path+".name", "output requires a name")
			continue
		}
		if seenOutputs[out.Name] {
			domainErr(path, fmt.Sprintf("duplicate output name %q", out.Name))
		}
		seenOutputs[out.Name] = true
	}

	errs = append(errs, smokeRenderTemplates(def)...)
	return errs
}

// smokeRenderTemplates renders every condition and output template
// against a synthetic context. Rendering is total by contract, so the
// pass can only produce warnings: a condition that does not parse will
// silently evaluate to false at runtime, which is almost never what the
// author meant.
func smokeRenderTemplates(def *SkillDefinition) []*ValidationError {
	var errs []*ValidationError
	resolver := template.NewResolver()
	env := syntheticEnv(def)

	for i, step := range def.Steps {
		if step.Condition == "" {
			continue
		}
		resolver.EvalCondition(step.Condition, env) // must not panic
		if err := resolver.CheckExpr(step.Condition); err != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("steps[%d].condition", i),
				Message:  fmt.Sprintf("condition does not parse and will always be false: %v", err),
				Severity: "warning",
			})
		}
	}
	for i, out := range def.Outputs {
		resolver.Render(out.Value, env) // must not panic
		_ = i
	}
	for i, step := range def.Steps {
		if step.Compute == "" {
			continue
		}
		if err := resolver.CheckExpr(step.Compute); err != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("steps[%d].compute", i),
				Message:  fmt.Sprintf("compute expression does not parse: %v", err),
				Severity: "warning",
			})
		}
	}
	return errs
}

// syntheticEnv builds a placeholder context carrying every declared
// input and step name, so smoke rendering exercises realistic lookups.
func syntheticEnv(def *SkillDefinition) map[string]any {
	inputs := make(map[string]any, len(def.Inputs))
	for _, in := range def.Inputs {
		if in.Default != nil {
			inputs[in.Name] = in.Default
		} else {
			inputs[in.Name] = "placeholder"
		}
	}
	steps := make(map[string]any, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.Name] = "placeholder"
	}
	return map[string]any{
		"inputs": inputs,
		"config": map[string]any{},
		"steps":  steps,
	}
}
