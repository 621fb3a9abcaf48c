package sandbox

import "fmt"

// OutcomeKind is the coarse result of one sandboxed execution.
type OutcomeKind int

const (
	// OutcomeSuccess: the handler returned a payload and a nil error.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeActivationError: the code failed before the handler could run
	// (parse, import, eval, or handler lookup failure).
	OutcomeActivationError
	// OutcomeRuntimeError: the handler ran and panicked or returned an error.
	OutcomeRuntimeError
	// OutcomeTimeout: the execution deadline elapsed.
	OutcomeTimeout
)

// String returns a human-readable outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeActivationError:
		return "activation_error"
	case OutcomeRuntimeError:
		return "runtime_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Activation phases, reported in Outcome.Phase for activation errors.
const (
	PhaseValidate = "validate"  // static checks before the interpreter
	PhaseEval     = "eval"      // interpreter evaluation of the source
	PhaseLookup   = "lookup"    // resolving the Handler symbol
	PhaseSign     = "signature" // Handler has the wrong shape
)

// Outcome is the structured result of executing (or activating) a candidate.
type Outcome struct {
	Kind    OutcomeKind
	Payload map[string]any // set on Success
	Logs    string         // captured stdout+stderr
	Phase   string         // activation phase, when Kind is ActivationError
	ErrKind string         // "panic" or "handler_error", when Kind is RuntimeError
	Message string         // error detail for non-success kinds
}

// Success reports whether the execution produced a payload.
func (o Outcome) Success() bool { return o.Kind == OutcomeSuccess }

func successOutcome(payload map[string]any, logs string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload, Logs: logs}
}

func activationOutcome(phase, format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeActivationError, Phase: phase, Message: fmt.Sprintf(format, args...)}
}

func runtimeOutcome(errKind, logs, format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRuntimeError, ErrKind: errKind, Logs: logs, Message: fmt.Sprintf(format, args...)}
}

func timeoutOutcome(logs string, err error) Outcome {
	return Outcome{Kind: OutcomeTimeout, Logs: logs, Message: fmt.Sprintf("execution deadline exceeded: %v", err)}
}
