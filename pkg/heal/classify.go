// Package heal classifies tool failures and drives the bounded
// remediate-and-retry loop behind the auto_heal on-error policy.
package heal

import (
	"strings"
)

// Category buckets a failure by its likely cause.
type Category string

const (
	CategoryNone     Category = ""
	CategoryAuth     Category = "auth"
	CategoryNetwork  Category = "network"
	CategoryRegistry Category = "registry"
	CategoryTTY      Category = "tty"
	CategoryUnknown  Category = "unknown"
)

// Remediation action names understood by the remedy provider.
const (
	ActionKubeLogin  = "kube_login"
	ActionVPNConnect = "vpn_connect"
)

const (
	// indicatorWindow bounds how deep into a result we look for failure
	// indicators. "failed" buried late in a long success message must
	// not classify the result as a failure.
	indicatorWindow = 100
	// summaryLimit caps retained error text.
	summaryLimit = 300
)

// Failure is the classification of one tool result.
type Failure struct {
	Failed     bool
	Category   Category
	CanAutoFix bool
	FixAction  string
	FixArgs    map[string]string
	Summary    string
}

// Classify inspects a raw tool result string. An empty result, or one
// with no failure indicator within the first 100 characters, is not a
// failure.
func Classify(toolName, raw string) Failure {
	text := strings.TrimSpace(raw)
	if text == "" || !hasFailureIndicator(text) {
		return Failure{}
	}
	return categorize(toolName, text)
}

// ClassifyError classifies a Go error from the tool registry. Errors
// are failures by definition, so the indicator window does not apply;
// only the category is derived from the text.
func ClassifyError(toolName, text string) Failure {
	return categorize(toolName, strings.TrimSpace(text))
}

// ShouldRetry reports whether another attempt is worthwhile: only
// auto-fixable auth and network failures below the attempt cap qualify.
func ShouldRetry(f Failure, attempts, maxAttempts int) bool {
	if !f.Failed || !f.CanAutoFix {
		return false
	}
	if f.Category != CategoryAuth && f.Category != CategoryNetwork {
		return false
	}
	return attempts < maxAttempts
}

func hasFailureIndicator(text string) bool {
	window := text
	if len(window) > indicatorWindow {
		window = window[:indicatorWindow]
	}
	if strings.Contains(window, "✗") || strings.Contains(window, "❌") {
		return true
	}
	lower := strings.ToLower(window)
	if strings.HasPrefix(lower, "error:") {
		return true
	}
	for _, marker := range []string{"traceback", "exception", "failed"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func categorize(toolName, text string) Failure {
	lower := strings.ToLower(text)
	f := Failure{
		Failed:   true,
		Category: CategoryUnknown,
		Summary:  Truncate(text, summaryLimit),
	}

	switch {
	case containsAny(lower, "401", "unauthorized", "forbidden", "token expired", "permission denied"):
		f.Category = CategoryAuth
		f.CanAutoFix = true
		f.FixAction = ActionKubeLogin
		f.FixArgs = map[string]string{"cluster": GuessCluster(toolName, lower)}
	case containsAny(lower, "no route to host", "connection refused", "timeout", "dial tcp", "connection reset", "unexpected eof"):
		f.Category = CategoryNetwork
		f.CanAutoFix = true
		f.FixAction = ActionVPNConnect
	case containsAny(lower, "manifest unknown", "pull access denied", "image not found"):
		f.Category = CategoryRegistry
	case containsAny(lower, "not a tty", "not a terminal"):
		f.Category = CategoryTTY
	}
	return f
}

// GuessCluster picks the cluster to re-authenticate against, from the
// tool-name prefix first and the error text second.
func GuessCluster(toolName, lowerText string) string {
	switch {
	case strings.HasPrefix(toolName, "bonfire_") || strings.Contains(lowerText, "ephemeral"):
		return "ephemeral"
	case strings.HasPrefix(toolName, "konflux_"):
		return "konflux"
	case strings.Contains(lowerText, "production") || strings.Contains(lowerText, "prod"):
		return "production"
	default:
		return "stage"
	}
}

// Truncate shortens s to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
