package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/skillrun/pkg/catalog"
	"github.com/ormasoftchile/skillrun/pkg/memory"
	"github.com/ormasoftchile/skillrun/pkg/schema"
	"github.com/ormasoftchile/skillrun/pkg/tools"
)

type fakeRemedy struct {
	logins   []string
	vpnCalls int
}

func (f *fakeRemedy) KubeLogin(_ context.Context, cluster string) error {
	f.logins = append(f.logins, cluster)
	return nil
}

func (f *fakeRemedy) VPNConnect(context.Context) error {
	f.vpnCalls++
	return nil
}

type recordingSink struct {
	entries []memory.Entry
}

func (s *recordingSink) LogFailure(_ context.Context, e memory.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

// scriptedTool returns queued results in order, repeating the last, and
// records the args of every invocation.
type scriptedTool struct {
	results []any
	calls   []map[string]any
}

func (s *scriptedTool) fn(_ context.Context, args map[string]any) (any, error) {
	i := len(s.calls)
	s.calls = append(s.calls, args)
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	if err, ok := s.results[i].(error); ok {
		return nil, err
	}
	return s.results[i], nil
}

func newTestEngine(t *testing.T, reg *tools.MemoryRegistry) (*Engine, *fakeRemedy, *recordingSink) {
	t.Helper()
	rem := &fakeRemedy{}
	sink := &recordingSink{}
	e := NewEngine(reg)
	e.Remedy = rem
	e.Sink = sink
	return e, rem, sink
}

func TestExecuteRendersArgsAndCompletes(t *testing.T) {
	tool := &scriptedTool{results: []any{"ok"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("jira_view_issue", tool.fn))
	e, _, _ := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name:   "view",
		Inputs: []schema.InputSpec{{Name: "issue_key", Required: true}},
		Steps: []schema.StepSpec{
			{Name: "fetch", Tool: "jira_view_issue", Args: map[string]any{"issue_key": "{{ inputs.issue_key }}"}},
		},
	}

	res, err := e.Execute(context.Background(), def, map[string]any{"issue_key": "AAP-1"})
	require.NoError(t, err)

	assert.Equal(t, SkillCompleted, res.Status)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, StepOK, res.StepResults[0].Status)
	assert.Equal(t, "ok", res.StepResults[0].Value)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, map[string]any{"issue_key": "AAP-1"}, tool.calls[0])
}

func TestExecuteFalseConditionSkipsStep(t *testing.T) {
	tool := &scriptedTool{results: []any{"never"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("gitlab_create_mr", tool.fn))
	e, _, _ := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "guarded",
		Steps: []schema.StepSpec{
			{
				Name:      "maybe_mr",
				Tool:      "gitlab_create_mr",
				Condition: "inputs.has_branch and inputs.has_issue",
			},
		},
	}

	res, err := e.Execute(context.Background(), def, map[string]any{
		"has_branch": true,
		"has_issue":  false,
	})
	require.NoError(t, err)

	assert.Equal(t, SkillCompleted, res.Status)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, StepSkipped, res.StepResults[0].Status)
	assert.Empty(t, tool.calls, "tool must not be invoked for a skipped step")
}

// Auth failure on the first call, clean result on the retry after one
// kube login.
func TestExecuteAutoHealRecovers(t *testing.T) {
	tool := &scriptedTool{results: []any{"Error: 401 unauthorized", "success"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("oc_get_pods", tool.fn))
	e, rem, sink := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "pods",
		Steps: []schema.StepSpec{
			{Name: "list", Tool: "oc_get_pods", OnError: schema.OnErrorAutoHeal},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, SkillCompleted, res.Status)
	require.Len(t, res.StepResults, 1)
	sr := res.StepResults[0]
	assert.Equal(t, StepHealed, sr.Status)
	assert.Equal(t, "success", sr.Value)
	assert.Equal(t, 1, sr.Retries)
	assert.Equal(t, []string{"stage"}, rem.logins)
	require.Len(t, sink.entries, 1)
	assert.True(t, sink.entries[0].AutoFixed)
}

// Persistent auth failure: two total attempts, the step errors, the run
// still completes because auto_heal absorbs the failure.
func TestExecuteAutoHealExhausted(t *testing.T) {
	tool := &scriptedTool{results: []any{"Error: 401 unauthorized"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("oc_get_pods", tool.fn))
	e, rem, sink := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "pods",
		Steps: []schema.StepSpec{
			{Name: "list", Tool: "oc_get_pods", OnError: schema.OnErrorAutoHeal},
			{Name: "after", Compute: "'ran'"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, SkillCompleted, res.Status)
	require.Len(t, res.StepResults, 2)
	assert.Equal(t, StepFailed, res.StepResults[0].Status)
	assert.Equal(t, 1, res.StepResults[0].Retries)
	assert.Len(t, tool.calls, 2, "default cap is two total attempts")
	assert.Len(t, rem.logins, 1)
	require.Len(t, sink.entries, 1)
	assert.False(t, sink.entries[0].AutoFixed)

	assert.Equal(t, StepOK, res.StepResults[1].Status, "auto_heal absorbs the failure")
}

func TestExecuteAbortStopsRun(t *testing.T) {
	tool := &scriptedTool{results: []any{"Error: manifest unknown"}}
	later := &scriptedTool{results: []any{"never"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("podman_pull", tool.fn))
	require.NoError(t, reg.Register("podman_run", later.fn))
	e, _, _ := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "deploy",
		Steps: []schema.StepSpec{
			{Name: "pull", Tool: "podman_pull", OnError: schema.OnErrorAbort},
			{Name: "run", Tool: "podman_run"},
		},
		Outputs: []schema.OutputSpec{
			{Name: "pull_status", Value: "{{ steps.pull }}"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, SkillAborted, res.Status)
	require.Len(t, res.StepResults, 1, "steps after abort never execute")
	assert.Equal(t, StepFailed, res.StepResults[0].Status)
	assert.Empty(t, later.calls)
	require.NotNil(t, res.Outputs, "aborted runs still render outputs")
	assert.Equal(t, "", res.Outputs["pull_status"], "failed step value is absent from context")
}

func TestExecuteFailPolicyPropagates(t *testing.T) {
	tool := &scriptedTool{results: []any{errors.New("boom")}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("flaky", tool.fn))
	e, _, sink := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "strict",
		Steps: []schema.StepSpec{
			{Name: "first", Tool: "flaky"},
			{Name: "second", Compute: "'never'"},
		},
		Outputs: []schema.OutputSpec{{Name: "x", Value: "1"}},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "strict", stepErr.Skill)
	assert.Equal(t, "first", stepErr.Step)

	require.NotNil(t, res, "partial result accompanies the error")
	require.Len(t, res.StepResults, 1)
	assert.Nil(t, res.Outputs, "failed runs do not render outputs")
	assert.Empty(t, sink.entries, "only auto_heal outcomes reach the failure memory")
}

// The failed-step status and the terminal run error are distinct
// surfaces with distinct names.
func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Skill: "strict", Step: "fetch", Text: "boom"}
	assert.Equal(t, "skill strict: step fetch failed: boom", err.Error())
	assert.Equal(t, StepStatus("error"), StepFailed)
}

func TestExecuteContinuePolicy(t *testing.T) {
	tool := &scriptedTool{results: []any{"Error: the input device is not a TTY"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("oc_exec", tool.fn))
	e, _, sink := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "tolerant",
		Steps: []schema.StepSpec{
			{Name: "exec", Tool: "oc_exec", OnError: schema.OnErrorContinue},
			{Name: "after", Compute: "'done'"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, SkillCompleted, res.Status)
	require.Len(t, res.StepResults, 2)
	assert.Equal(t, StepFailed, res.StepResults[0].Status)
	assert.Equal(t, StepOK, res.StepResults[1].Status)
	assert.Empty(t, sink.entries, "only auto_heal outcomes reach the failure memory")
}

func TestExecuteComputeChaining(t *testing.T) {
	tool := &scriptedTool{results: []any{"release-1.2"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("git_current_branch", tool.fn))
	e, _, _ := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name: "branch_info",
		Steps: []schema.StepSpec{
			{Name: "branch", Tool: "git_current_branch"},
			{Name: "is_release", Compute: `steps.branch startsWith "release-"`},
		},
		Outputs: []schema.OutputSpec{
			{Name: "branch", Value: "{{ steps.branch }}"},
			{Name: "is_release", Value: "{{ steps.is_release }}"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.StepResults[1].Value)
	assert.Equal(t, "release-1.2", res.Outputs["branch"])
	assert.Equal(t, true, res.Outputs["is_release"], "sole-span output keeps its type")
}

// A compute value that merely looks like an error is never classified.
func TestExecuteComputeErrorShapedValueIsData(t *testing.T) {
	e, _, sink := newTestEngine(t, tools.NewMemoryRegistry())

	def := &schema.SkillDefinition{
		Name: "summarize",
		Steps: []schema.StepSpec{
			{Name: "summary", Compute: `"Error: 401 unauthorized"`},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StepOK, res.StepResults[0].Status)
	assert.Equal(t, "Error: 401 unauthorized", res.StepResults[0].Value)
	assert.Empty(t, sink.entries)
}

func TestExecuteMissingRequiredInput(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())

	def := &schema.SkillDefinition{
		Name: "needs_input",
		Inputs: []schema.InputSpec{
			{Name: "issue_key", Required: true},
			{Name: "project", Required: true},
		},
	}

	_, err := e.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required inputs: issue_key, project")
}

func TestExecuteAppliesDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())

	def := &schema.SkillDefinition{
		Name: "defaulted",
		Inputs: []schema.InputSpec{
			{Name: "project", Default: "CCXDEV"},
		},
		Outputs: []schema.OutputSpec{
			{Name: "project", Value: "{{ inputs.project }}"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "CCXDEV", res.Outputs["project"])
}

func TestExecuteRejectsDuplicateStepNames(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())

	def := &schema.SkillDefinition{
		Name: "dup",
		Steps: []schema.StepSpec{
			{Name: "x", Compute: "1"},
			{Name: "x", Compute: "2"},
		},
	}

	_, err := e.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestExecuteNestedSkill(t *testing.T) {
	tool := &scriptedTool{results: []any{"pong"}}
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("ping", tool.fn))
	e, _, _ := newTestEngine(t, reg)
	e.Catalog = catalog.StaticCatalog{
		"child": &schema.SkillDefinition{
			Name: "child",
			Inputs: []schema.InputSpec{
				{Name: "target", Required: true},
			},
			Steps: []schema.StepSpec{
				{Name: "call", Tool: "ping", Args: map[string]any{"host": "{{ inputs.target }}"}},
			},
			Outputs: []schema.OutputSpec{
				{Name: "reply", Value: "{{ steps.call }}"},
			},
		},
	}

	def := &schema.SkillDefinition{
		Name: "parent",
		Steps: []schema.StepSpec{
			{
				Name: "delegate",
				Tool: schema.SkillRunTool,
				Args: map[string]any{
					"skill_name": "child",
					"inputs":     map[string]any{"target": "db-1"},
				},
			},
		},
		Outputs: []schema.OutputSpec{
			{Name: "child_reply", Value: "{{ steps.delegate.outputs.reply }}"},
		},
	}

	res, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	require.Len(t, res.StepResults, 1)
	value, ok := res.StepResults[0].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", value["status"])
	assert.Equal(t, "pong", res.Outputs["child_reply"])
	require.Len(t, tool.calls, 1)
	assert.Equal(t, map[string]any{"host": "db-1"}, tool.calls[0])
}

// A self-calling skill terminates at the depth cap instead of recursing
// until resource exhaustion.
func TestExecuteDepthCapBreaksCycle(t *testing.T) {
	loop := &schema.SkillDefinition{
		Name: "loop",
		Steps: []schema.StepSpec{
			{Name: "again", Tool: schema.SkillRunTool, Args: map[string]any{"skill_name": "loop"}},
		},
	}
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())
	e.Catalog = catalog.StaticCatalog{"loop": loop}

	_, err := e.Execute(context.Background(), loop, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth limit")
}

func TestExecuteUnknownNestedSkill(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())
	e.Catalog = catalog.StaticCatalog{}

	def := &schema.SkillDefinition{
		Name: "parent",
		Steps: []schema.StepSpec{
			{Name: "delegate", Tool: schema.SkillRunTool, Args: map[string]any{"skill_name": "ghost"}},
		},
	}

	_, err := e.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

// Identical inputs and a pure tool yield an identical result.
func TestExecuteIdempotent(t *testing.T) {
	reg := tools.NewMemoryRegistry()
	require.NoError(t, reg.Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return fmt.Sprintf("echo:%v", args["msg"]), nil
	}))
	e, _, _ := newTestEngine(t, reg)

	def := &schema.SkillDefinition{
		Name:   "echoer",
		Inputs: []schema.InputSpec{{Name: "msg", Required: true}},
		Steps: []schema.StepSpec{
			{Name: "say", Tool: "echo", Args: map[string]any{"msg": "{{ inputs.msg }}"}},
		},
		Outputs: []schema.OutputSpec{{Name: "said", Value: "{{ steps.say }}"}},
	}

	inputs := map[string]any{"msg": "hi"}
	first, err := e.Execute(context.Background(), def, inputs)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), def, inputs)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Outputs, second.Outputs)
	require.Equal(t, len(first.StepResults), len(second.StepResults))
	for i := range first.StepResults {
		assert.Equal(t, first.StepResults[i].Status, second.StepResults[i].Status)
		assert.Equal(t, first.StepResults[i].Value, second.StepResults[i].Value)
		assert.Equal(t, first.StepResults[i].Retries, second.StepResults[i].Retries)
	}
}

// Caller input maps are never mutated by default filling.
func TestExecuteDoesNotMutateCallerInputs(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())

	def := &schema.SkillDefinition{
		Name:   "defaulted",
		Inputs: []schema.InputSpec{{Name: "project", Default: "CCXDEV"}},
	}

	inputs := map[string]any{}
	_, err := e.Execute(context.Background(), def, inputs)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestExecuteEmptySteps(t *testing.T) {
	e, _, _ := newTestEngine(t, tools.NewMemoryRegistry())

	res, err := e.Execute(context.Background(), &schema.SkillDefinition{Name: "noop"}, nil)
	require.NoError(t, err)
	assert.Equal(t, SkillCompleted, res.Status)
	assert.Empty(t, res.StepResults)
	assert.Nil(t, res.Outputs)
}
