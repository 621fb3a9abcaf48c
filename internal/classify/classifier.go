// Package classify maps a failed stage to a defect class via a fixed
// decision table. Classification is pure: no state, no heuristics.
package classify

import (
	"fmt"

	"svcforge/internal/deps"
	"svcforge/internal/grader"
	"svcforge/internal/sandbox"
)

// Class is the defect category a repair request is built around.
type Class int

const (
	// DependencyDefect: the code imports a package the sandbox lacks.
	DependencyDefect Class = iota
	// ActivationDefect: the code cannot be evaluated or exposes no handler.
	ActivationDefect
	// RuntimeDefect: the handler ran and failed (error, panic, or timeout).
	RuntimeDefect
	// AssertionMismatch: the handler succeeded but the graded expectations
	// did not hold.
	AssertionMismatch
)

// String returns the class name used in logs and history notes.
func (c Class) String() string {
	switch c {
	case DependencyDefect:
		return "dependency_defect"
	case ActivationDefect:
		return "activation_defect"
	case RuntimeDefect:
		return "runtime_defect"
	case AssertionMismatch:
		return "assertion_mismatch"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Classification carries the defect class plus the evidence that picked it.
type Classification struct {
	Class         Class
	MissingModule string // set for DependencyDefect
	Detail        string
}

// Activation classifies a failed activation outcome.
func Activation(out sandbox.Outcome) Classification {
	if module, ok := deps.Missing(out); ok {
		return Classification{
			Class:         DependencyDefect,
			MissingModule: deps.Resolve(module),
			Detail:        out.Message,
		}
	}
	return Classification{Class: ActivationDefect, Detail: out.Message}
}

// Execution classifies a failed test-case execution: the outcome decides
// between infrastructure defects, and a graded failure on a successful
// outcome is always an assertion mismatch.
func Execution(out sandbox.Outcome, verdict grader.Verdict) Classification {
	switch out.Kind {
	case sandbox.OutcomeActivationError:
		return Activation(out)
	case sandbox.OutcomeRuntimeError, sandbox.OutcomeTimeout:
		return Classification{Class: RuntimeDefect, Detail: out.Message}
	default:
		return Classification{Class: AssertionMismatch, Detail: verdict.Reason}
	}
}
