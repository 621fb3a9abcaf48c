package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcforge/internal/grader"
	"svcforge/internal/sandbox"
)

func TestActivationMissingModuleIsDependencyDefect(t *testing.T) {
	out := sandbox.Outcome{
		Kind:    sandbox.OutcomeActivationError,
		Message: `import "yaml" is not available to the sandbox`,
	}
	cls := Activation(out)
	require.Equal(t, DependencyDefect, cls.Class)
	assert.Equal(t, "gopkg.in/yaml.v3", cls.MissingModule, "alias must resolve to the canonical path")
}

func TestActivationOtherFailuresAreActivationDefects(t *testing.T) {
	out := sandbox.Outcome{
		Kind:    sandbox.OutcomeActivationError,
		Message: "Handler not found: undefined selector",
	}
	cls := Activation(out)
	assert.Equal(t, ActivationDefect, cls.Class)
	assert.Empty(t, cls.MissingModule)
}

func TestExecutionDecisionTable(t *testing.T) {
	failed := grader.Verdict{Passed: false, Reason: "field missing"}

	tests := []struct {
		name string
		out  sandbox.Outcome
		want Class
	}{
		{"runtime error", sandbox.Outcome{Kind: sandbox.OutcomeRuntimeError, Message: "panic"}, RuntimeDefect},
		{"timeout", sandbox.Outcome{Kind: sandbox.OutcomeTimeout, Message: "deadline"}, RuntimeDefect},
		{"graded failure on success", sandbox.Outcome{Kind: sandbox.OutcomeSuccess}, AssertionMismatch},
		{"activation missing module", sandbox.Outcome{
			Kind:    sandbox.OutcomeActivationError,
			Message: `import "uuid" is not available to the sandbox`,
		}, DependencyDefect},
		{"activation defect", sandbox.Outcome{
			Kind:    sandbox.OutcomeActivationError,
			Message: "code evaluation failed",
		}, ActivationDefect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := Execution(tt.out, failed)
			assert.Equal(t, tt.want, cls.Class)
		})
	}
}

func TestClassificationIsPure(t *testing.T) {
	out := sandbox.Outcome{Kind: sandbox.OutcomeRuntimeError, Message: "boom"}
	verdict := grader.Verdict{Reason: "x"}
	first := Execution(out, verdict)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Execution(out, verdict))
	}
}

func TestClassStrings(t *testing.T) {
	assert.Equal(t, "dependency_defect", DependencyDefect.String())
	assert.Equal(t, "activation_defect", ActivationDefect.String())
	assert.Equal(t, "runtime_defect", RuntimeDefect.String())
	assert.Equal(t, "assertion_mismatch", AssertionMismatch.String())
}
