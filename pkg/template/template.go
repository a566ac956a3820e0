// Package template implements skill expression rendering. Strings may
// contain {{ ... }} spans whose bodies are expr-lang expressions with an
// optional Jinja-style filter pipeline ({{ value | length }}). Rendering
// is total: undefined variables, undefined chained access and malformed
// expressions all render as the empty string, never as an error or a
// placeholder token.
package template

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// Resolver renders templates and evaluates conditions against a context
// environment. Filters are registered by the caller; only length is
// built in.
type Resolver struct {
	filters map[string]FilterFunc
}

// NewResolver returns a resolver with the built-in filter set.
func NewResolver() *Resolver {
	r := &Resolver{filters: make(map[string]FilterFunc)}
	r.RegisterFilter("length", lengthFilter)
	return r
}

// RegisterFilter makes fn available as "| name" in templates.
// Registering an existing name replaces it.
func (r *Resolver) RegisterFilter(name string, fn FilterFunc) {
	r.filters[name] = fn
}

// Render substitutes every {{ ... }} span in tmpl with its evaluated
// value. Text outside spans is copied verbatim. Render never fails: a
// span that cannot be evaluated renders as the empty string.
func (r *Resolver) Render(tmpl string, env map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		close := strings.Index(rest[open+2:], "}}")
		if close < 0 {
			// Unterminated marker: emit literally.
			b.WriteString(rest[open:])
			break
		}
		body := rest[open+2 : open+2+close]
		if val, err := r.eval(body, env); err == nil {
			b.WriteString(Stringify(val))
		}
		rest = rest[open+2+close+2:]
	}
	return b.String()
}

// RenderValue renders a step argument value. Strings that consist of a
// single {{ ... }} span keep their evaluated type (so lists and maps
// survive into tool args); any other string is rendered as text. Maps
// and slices are rendered element-wise. Non-string scalars pass through.
func (r *Resolver) RenderValue(v any, env map[string]any) any {
	switch t := v.(type) {
	case string:
		if body, ok := soleSpan(t); ok {
			val, err := r.eval(body, env)
			if err != nil {
				return ""
			}
			return val
		}
		return r.Render(t, env)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = r.RenderValue(e, env)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.RenderValue(e, env)
		}
		return out
	default:
		return v
	}
}

// Eval evaluates a bare expression (no {{ }} markers) and returns its
// typed value. Unlike Render, evaluation errors are reported — compute
// steps route them through the step's on-error policy.
func (r *Resolver) Eval(code string, env map[string]any) (any, error) {
	return r.eval(code, env)
}

// EvalCondition reduces a condition expression to a boolean and never
// fails: evaluation errors and undefined variables are false, an empty
// condition is true.
func (r *Resolver) EvalCondition(code string, env map[string]any) bool {
	if strings.TrimSpace(code) == "" {
		return true
	}
	val, err := r.eval(code, env)
	if err != nil {
		return false
	}
	return Truthy(val)
}

// CheckExpr reports whether code parses as a pipeline of expressions.
// Used by schema validation to warn on conditions that will silently
// evaluate to false.
func (r *Resolver) CheckExpr(code string) error {
	segs := splitPipeline(code)
	exprCode := code
	if len(segs) > 1 && r.knownFilters(segs[1:]) {
		exprCode = segs[0]
	}
	if strings.TrimSpace(exprCode) == "" {
		return nil
	}
	_, err := expr.Compile(strings.TrimSpace(exprCode),
		expr.AllowUndefinedVariables(),
		expr.Patch(getCallPatcher{}),
		expr.Patch(notPatcher{}),
	)
	if err != nil {
		return fmt.Errorf("compile expression %q: %w", code, err)
	}
	return nil
}

// eval evaluates a span body: an expression followed by zero or more
// filters. The returned error is internal — exported callers either
// swallow it (Render, EvalCondition) or surface it (Eval).
func (r *Resolver) eval(body string, env map[string]any) (val any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, fmt.Errorf("evaluate %q: %v", body, rec)
		}
	}()

	segs := splitPipeline(body)
	exprCode := body
	var filters []string
	if len(segs) > 1 && r.knownFilters(segs[1:]) {
		exprCode = segs[0]
		filters = segs[1:]
	}

	val, err = r.evalExpr(exprCode, env)
	if err != nil {
		return nil, err
	}
	for _, name := range filters {
		fn, ok := r.filters[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", name)
		}
		val = fn(val)
	}
	return val, nil
}

func (r *Resolver) evalExpr(code string, env map[string]any) (any, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	scope := make(map[string]any, len(env)+2)
	for k, v := range env {
		scope[k] = v
	}
	scope["mapGet"] = mapGet
	scope["falsy"] = func(v any) bool { return !Truthy(v) }

	prog, err := expr.Compile(code,
		expr.Env(scope),
		expr.AllowUndefinedVariables(),
		expr.Patch(getCallPatcher{}),
		expr.Patch(notPatcher{}),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	out, err := expr.Run(prog, scope)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", code, err)
	}
	return out, nil
}

// knownFilters reports whether every pipeline tail segment is a
// registered filter name. When one is not, the whole body is treated as
// a single expression so expr's own operators keep working.
func (r *Resolver) knownFilters(segs []string) bool {
	for _, s := range segs {
		if _, ok := r.filters[strings.TrimSpace(s)]; !ok {
			return false
		}
	}
	return true
}

// soleSpan returns the body when s is exactly one {{ ... }} span.
func soleSpan(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	body := t[2 : len(t)-2]
	if strings.Contains(body, "{{") || strings.Contains(body, "}}") {
		return "", false
	}
	return body, true
}

// splitPipeline splits a span body on top-level single pipes, ignoring
// pipes inside quotes or brackets and the || operator.
func splitPipeline(body string) []string {
	var (
		segs  []string
		start int
		depth int
		quote rune
	)
	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote && (i == 0 || runes[i-1] != '\\') {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '|' && depth == 0:
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++ // skip "||"
				continue
			}
			if i > 0 && runes[i-1] == '|' {
				continue
			}
			segs = append(segs, string(runes[start:i]))
			start = i + 1
		}
	}
	segs = append(segs, string(runes[start:]))
	return segs
}

// mapGet backs rewritten .get(key[, default]) calls. The default
// applies only when a real map lacks the key; .get through an undefined
// receiver stays undefined so the whole chain renders empty.
func mapGet(m, key any, def ...any) any {
	if m == nil {
		return nil
	}
	var fallback any
	if len(def) > 0 {
		fallback = def[0]
	}
	switch t := m.(type) {
	case map[string]any:
		if v, ok := t[fmt.Sprint(key)]; ok && v != nil {
			return v
		}
	case map[string]string:
		if v, ok := t[fmt.Sprint(key)]; ok {
			return v
		}
	case map[any]any:
		if v, ok := t[key]; ok && v != nil {
			return v
		}
	}
	return fallback
}
