// Package schema defines the Go struct types for the skill YAML schema
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SkillRunTool is the reserved tool name that invokes a nested skill
// instead of a registry tool.
const SkillRunTool = "skill_run"

// SkillDefinition is the top-level document describing one declarative
// multi-step automation. Immutable once loaded.
type SkillDefinition struct {
	Name        string       `yaml:"name"                  json:"name"                  jsonschema:"required"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []InputSpec  `yaml:"inputs,omitempty"      json:"inputs,omitempty"`
	Steps       []StepSpec   `yaml:"steps,omitempty"       json:"steps,omitempty"`
	Outputs     []OutputSpec `yaml:"outputs,omitempty"     json:"outputs,omitempty"`
}

// InputSpec declares one skill input.
type InputSpec struct {
	Name        string `yaml:"name"                  json:"name"                  jsonschema:"required"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
	Default     any    `yaml:"default,omitempty"     json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// OnError selects a step's error-handling policy.
type OnError string

const (
	OnErrorFail     OnError = "fail" // default: the whole run fails
	OnErrorContinue OnError = "continue"
	OnErrorAutoHeal OnError = "auto_heal"
	OnErrorAbort    OnError = "abort"
)

// Policy normalizes the empty value to the default.
func (o OnError) Policy() OnError {
	if o == "" {
		return OnErrorFail
	}
	return o
}

// Valid reports whether the value is a known policy.
func (o OnError) Valid() bool {
	switch o.Policy() {
	case OnErrorFail, OnErrorContinue, OnErrorAutoHeal, OnErrorAbort:
		return true
	}
	return false
}

// StepKind is the dispatch target of a step, resolved once at
// validation time.
type StepKind int

const (
	KindInvalid StepKind = iota
	KindTool
	KindCompute
	KindSkillRun
)

// StepSpec is one unit of work. Exactly one of Tool and Compute must be
// set; the reserved tool name "skill_run" invokes a nested skill.
type StepSpec struct {
	Name      string         `yaml:"name"                json:"name"                jsonschema:"required"`
	Tool      string         `yaml:"tool,omitempty"      json:"tool,omitempty"`
	Compute   string         `yaml:"compute,omitempty"   json:"compute,omitempty"`
	Args      map[string]any `yaml:"args,omitempty"      json:"args,omitempty"`
	Condition string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	OnError   OnError        `yaml:"on_error,omitempty"  json:"on_error,omitempty" jsonschema:"enum=continue,enum=auto_heal,enum=abort,enum=fail"`
}

// Kind resolves the step's dispatch target. Steps that set both or
// neither of tool/compute are KindInvalid; validation rejects them
// before execution.
func (s *StepSpec) Kind() StepKind {
	switch {
	case s.Tool != "" && s.Compute != "":
		return KindInvalid
	case s.Tool == SkillRunTool:
		return KindSkillRun
	case s.Tool != "":
		return KindTool
	case s.Compute != "":
		return KindCompute
	default:
		return KindInvalid
	}
}

// OutputSpec declares one named output rendered from the final context.
type OutputSpec struct {
	Name  string `yaml:"name"  json:"name"  jsonschema:"required"`
	Value string `yaml:"value" json:"value" jsonschema:"required"`
}

// LoadFile reads and parses a skill YAML file with strict unknown-field
// rejection.
func LoadFile(path string) (*SkillDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open skill: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a skill from an io.Reader with strict unknown-field
// rejection.
func Load(r io.Reader) (*SkillDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def SkillDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode skill: %w", err)
	}
	return &def, nil
}
