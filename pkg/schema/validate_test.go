package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDef() *SkillDefinition {
	return &SkillDefinition{
		Name: "demo",
		Inputs: []InputSpec{
			{Name: "issue_key", Required: true},
		},
		Steps: []StepSpec{
			{Name: "fetch", Tool: "jira_view_issue", Args: map[string]any{"key": "{{ inputs.issue_key }}"}},
			{Name: "derive", Compute: "steps.fetch", Condition: "steps.fetch != ''"},
		},
		Outputs: []OutputSpec{
			{Name: "result", Value: "{{ steps.derive }}"},
		},
	}
}

func TestValidateClean(t *testing.T) {
	errs := Validate(validDef())
	assert.Empty(t, errs)
	assert.False(t, HasErrors(errs))
}

func TestValidateEmptyStepsLegal(t *testing.T) {
	def := &SkillDefinition{Name: "noop"}
	assert.False(t, HasErrors(Validate(def)))
}

func domainMessages(errs []*ValidationError) []string {
	var msgs []string
	for _, e := range errs {
		if e.Phase == "domain" && e.Severity == "error" {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func TestValidateDomainRules(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*SkillDefinition)
		wantSub string
	}{
		{
			"duplicate step names",
			func(d *SkillDefinition) { d.Steps[1].Name = "fetch" },
			"duplicate step name",
		},
		{
			"both tool and compute",
			func(d *SkillDefinition) { d.Steps[0].Compute = "1" },
			"both tool and compute",
		},
		{
			"neither tool nor compute",
			func(d *SkillDefinition) { d.Steps[0].Tool = "" },
			"neither tool nor compute",
		},
		{
			"unknown on_error",
			func(d *SkillDefinition) { d.Steps[0].OnError = "retry" },
			"unknown on_error",
		},
		{
			"skill_run without skill_name",
			func(d *SkillDefinition) {
				d.Steps[0].Tool = SkillRunTool
				d.Steps[0].Args = map[string]any{"inputs": map[string]any{}}
			},
			"requires a skill_name",
		},
		{
			"skill_run inputs not a mapping",
			func(d *SkillDefinition) {
				d.Steps[0].Tool = SkillRunTool
				d.Steps[0].Args = map[string]any{"skill_name": "child", "inputs": "oops"}
			},
			"inputs must be a mapping",
		},
		{
			"duplicate input names",
			func(d *SkillDefinition) { d.Inputs = append(d.Inputs, InputSpec{Name: "issue_key"}) },
			"duplicate input name",
		},
		{
			"duplicate output names",
			func(d *SkillDefinition) { d.Outputs = append(d.Outputs, OutputSpec{Name: "result", Value: "x"}) },
			"duplicate output name",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDef()
			tc.mutate(def)
			msgs := domainMessages(ValidateDomain(def))
			require.NotEmpty(t, msgs)
			found := false
			for _, m := range msgs {
				if strings.Contains(m, tc.wantSub) {
					found = true
				}
			}
			assert.True(t, found, "no domain error containing %q in %v", tc.wantSub, msgs)
		})
	}
}

func TestValidateRequiredWithDefaultWarns(t *testing.T) {
	def := validDef()
	def.Inputs[0].Default = "CCX-1"

	errs := ValidateDomain(def)
	assert.False(t, HasErrors(errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "warning", errs[0].Severity)
}

func TestValidateUnparsableConditionWarns(t *testing.T) {
	def := validDef()
	def.Steps[1].Condition = "((("

	errs := ValidateDomain(def)
	assert.False(t, HasErrors(errs), "broken condition is a warning, not an error")

	var warned bool
	for _, e := range errs {
		if e.Severity == "warning" && e.Path == "steps[1].condition" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestValidateSemanticMissingName(t *testing.T) {
	def := validDef()
	def.Name = ""

	errs := Validate(def)
	assert.True(t, HasErrors(errs))
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "skill-v0.json")
	assert.Contains(t, string(data), "Skill Definition v0")
}

func TestValidationErrorString(t *testing.T) {
	e := &ValidationError{Phase: "domain", Path: "steps[0]", Message: "boom", Severity: "error"}
	assert.Equal(t, "[domain] steps[0]: boom", e.Error())
}
