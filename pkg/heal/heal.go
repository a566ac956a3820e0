package heal

import (
	"context"
	"time"

	"github.com/ormasoftchile/skillrun/pkg/logger"
	"github.com/ormasoftchile/skillrun/pkg/memory"
	"github.com/ormasoftchile/skillrun/pkg/remedy"
)

// DefaultMaxAttempts bounds total tool attempts (the initial call plus
// retries) for an auto_heal step.
const DefaultMaxAttempts = 2

// logErrorLimit caps error text recorded to the memory sink.
const logErrorLimit = 100

// Call is one invocation of the underlying operation (a tool call, or
// whatever the step executor wraps as one).
type Call func(ctx context.Context) (any, error)

// Outcome is the terminal result of a heal loop.
type Outcome struct {
	Value    any
	Failure  Failure // last classified failure; zero when not failed
	Attempts int
	Healed   bool // succeeded after at least one remediation retry
	Failed   bool
}

// Retries is the number of re-invocations after the initial attempt.
func (o Outcome) Retries() int {
	if o.Attempts > 0 {
		return o.Attempts - 1
	}
	return 0
}

// Retrier runs a call with classify → remediate → retry semantics.
type Retrier struct {
	Remedy      remedy.Provider
	Sink        memory.Sink
	MaxAttempts int // total attempts; 0 means DefaultMaxAttempts
}

// Run invokes call until it succeeds or retries are exhausted.
// classifyResult controls whether a string result is scanned for
// failure indicators; compute-style calls pass false so computed data
// is never mistaken for a tool failure. The terminal outcome of every
// failure (and every healed recovery) is recorded to the sink; sink
// errors never propagate.
func (r *Retrier) Run(ctx context.Context, skill, tool string, classifyResult bool, call Call) Outcome {
	max := r.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}

	var lastFailure Failure
	attempts := 0
	for {
		attempts++
		value, err := call(ctx)

		var failure Failure
		switch {
		case err != nil:
			failure = ClassifyError(tool, err.Error())
		case classifyResult:
			if s, ok := value.(string); ok {
				failure = Classify(tool, s)
			}
		}

		if !failure.Failed {
			healed := attempts > 1
			if healed {
				r.record(ctx, skill, tool, lastFailure.Summary, true)
			}
			return Outcome{Value: value, Attempts: attempts, Healed: healed}
		}

		if !ShouldRetry(failure, attempts, max) {
			r.record(ctx, skill, tool, failure.Summary, false)
			return Outcome{Value: value, Failure: failure, Attempts: attempts, Failed: true}
		}

		lastFailure = failure
		r.remediate(ctx, failure)
	}
}

// remediate performs the classified fix. Remediation is best-effort:
// a failed fix still leads to a retry, which produces the real signal.
func (r *Retrier) remediate(ctx context.Context, f Failure) {
	if r.Remedy == nil {
		return
	}
	log := logger.G(ctx).WithField("category", string(f.Category))
	var err error
	switch f.FixAction {
	case ActionKubeLogin:
		err = r.Remedy.KubeLogin(ctx, f.FixArgs["cluster"])
	case ActionVPNConnect:
		err = r.Remedy.VPNConnect(ctx)
	default:
		return
	}
	if err != nil {
		log.WithError(err).Warn("remediation failed, retrying tool anyway")
	}
}

func (r *Retrier) record(ctx context.Context, skill, tool, errText string, autoFixed bool) {
	if r.Sink == nil {
		return
	}
	entry := memory.Entry{
		Tool:      tool,
		Error:     Truncate(errText, logErrorLimit),
		Skill:     skill,
		AutoFixed: autoFixed,
		Timestamp: time.Now().UTC(),
	}
	if err := r.Sink.LogFailure(ctx, entry); err != nil {
		logger.G(ctx).WithError(err).Debug("memory sink write failed")
	}
}
