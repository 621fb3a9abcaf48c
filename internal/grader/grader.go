// Package grader turns a sandbox outcome into a pass/fail verdict for one
// test case. Grading is pure and deterministic: the same outcome and test
// case always produce the same verdict.
package grader

import (
	"fmt"
	"strings"

	"svcforge/internal/sandbox"
	"svcforge/internal/service"
)

// Mode selects how tolerant grading is of content drift.
type Mode string

const (
	// ModeStrict requires the payload to match the declared shape exactly.
	ModeStrict Mode = "strict"
	// ModeLenient tolerates content drift from live upstreams: a successful
	// call with a well-formed payload passes unless it carries an explicit
	// error indicator or every declared-required field is missing.
	ModeLenient Mode = "lenient"
)

// Verdict is the graded result of one test case.
type Verdict struct {
	Passed      bool
	Reason      string
	Issues      []string
	Suggestions []string
}

// errorFields are payload keys treated as explicit error indicators even when
// the call itself reported success. Live services often catch their own
// failures and return them as data.
var errorFields = []string{"error", "exception", "traceback"}

// Grader grades sandbox outcomes against test-case expectations.
type Grader struct {
	Mode Mode
}

// New returns a grader in the given mode.
func New(mode Mode) Grader { return Grader{Mode: mode} }

// Grade evaluates one outcome against one test case.
func (g Grader) Grade(spec *service.Spec, tc service.TestCase, out sandbox.Outcome) Verdict {
	if tc.Expect.Status == "error" {
		return gradeExpectedError(tc, out)
	}

	switch out.Kind {
	case sandbox.OutcomeActivationError:
		return fail(fmt.Sprintf("service failed to activate: %s", out.Message),
			nil, []string{"fix the activation failure before addressing test expectations"})
	case sandbox.OutcomeRuntimeError:
		return fail(fmt.Sprintf("service raised a runtime error: %s", out.Message),
			nil, []string{"handle this input without returning an error"})
	case sandbox.OutcomeTimeout:
		return fail("service did not respond before the execution deadline",
			nil, []string{"remove blocking calls or add an internal timeout"})
	}

	if hidden := hiddenError(out); hidden != "" {
		return fail(fmt.Sprintf("response reports an error despite succeeding: %s", hidden),
			[]string{hidden}, []string{"return the underlying failure as an error instead of embedding it in the payload"})
	}

	if g.Mode == ModeStrict {
		return gradeStrict(spec, tc, out)
	}
	return gradeLenient(spec, tc, out)
}

// gradeExpectedError handles cases whose expectation is an error response.
// A handler error is the intended behavior; infrastructure failures are not.
func gradeExpectedError(tc service.TestCase, out sandbox.Outcome) Verdict {
	switch out.Kind {
	case sandbox.OutcomeRuntimeError:
		return pass(fmt.Sprintf("service rejected the input as expected: %s", out.Message))
	case sandbox.OutcomeSuccess:
		if hidden := hiddenError(out); hidden != "" {
			return pass("service reported the expected error in its payload")
		}
		return fail("expected an error response but the call succeeded",
			nil, []string{"validate inputs and reject this case explicitly"})
	case sandbox.OutcomeTimeout:
		return fail("expected an error response but the service timed out", nil, nil)
	default:
		return fail(fmt.Sprintf("expected an error response but activation failed: %s", out.Message), nil, nil)
	}
}

func gradeStrict(spec *service.Spec, tc service.TestCase, out sandbox.Outcome) Verdict {
	if out.Payload == nil {
		return fail("service succeeded but returned no payload",
			nil, []string{"return a non-nil result map"})
	}

	var issues []string
	for _, field := range union(spec.Output.Required, tc.Expect.HasFields) {
		if !hasField(out.Payload, field) {
			issues = append(issues, fmt.Sprintf("required field %q is missing from the payload", field))
		}
	}
	for _, field := range tc.Expect.Absent {
		if hasField(out.Payload, field) {
			issues = append(issues, fmt.Sprintf("field %q must not be present", field))
		}
	}
	if len(issues) > 0 {
		return fail("payload does not match the declared shape", issues,
			[]string{"align the response fields with the declared output schema"})
	}
	return pass("payload matches the declared shape")
}

func gradeLenient(spec *service.Spec, tc service.TestCase, out sandbox.Outcome) Verdict {
	if out.Payload == nil {
		return fail("service succeeded but returned no payload",
			nil, []string{"return a non-nil result map"})
	}

	required := union(spec.Output.Required, tc.Expect.HasFields)
	if len(required) == 0 {
		return pass("service returned data successfully")
	}

	present := 0
	var issues []string
	for _, field := range required {
		if hasField(out.Payload, field) {
			present++
		} else {
			issues = append(issues, fmt.Sprintf("declared field %q is absent", field))
		}
	}
	if present == 0 {
		return fail("none of the declared fields are present in the payload", issues,
			[]string{"return at least the declared output fields"})
	}
	// Partial drift is tolerated; note it so the caller can see what moved.
	v := pass("service returned data successfully")
	v.Issues = issues
	return v
}

// hiddenError returns a description of an error buried in a successful
// response, or "" when the response is clean.
func hiddenError(out sandbox.Outcome) string {
	for _, field := range errorFields {
		if val, ok := out.Payload[field]; ok {
			if s, isStr := val.(string); isStr && s != "" {
				return fmt.Sprintf("%s=%q", field, s)
			}
			if val != nil {
				if _, isStr := val.(string); !isStr {
					return fmt.Sprintf("%s field is set", field)
				}
			}
		}
	}
	for _, line := range strings.Split(out.Logs, "\n") {
		if strings.Contains(line, "ERROR") {
			return fmt.Sprintf("log entry: %s", strings.TrimSpace(line))
		}
	}
	return ""
}

func hasField(payload map[string]any, field string) bool {
	_, ok := payload[field]
	return ok
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func pass(reason string) Verdict { return Verdict{Passed: true, Reason: reason} }

func fail(reason string, issues, suggestions []string) Verdict {
	return Verdict{Reason: reason, Issues: issues, Suggestions: suggestions}
}
