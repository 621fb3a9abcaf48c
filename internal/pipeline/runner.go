package pipeline

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"svcforge/internal/classify"
	"svcforge/internal/grader"
	"svcforge/internal/logging"
	"svcforge/internal/oracle"
	"svcforge/internal/sandbox"
	"svcforge/internal/service"
)

// caseFailure pairs a failed test case with its outcome and verdict.
type caseFailure struct {
	Case    service.TestCase
	Outcome sandbox.Outcome
	Verdict grader.Verdict
}

// runTests executes every test case with bounded concurrency and grades the
// outcomes sequentially in declaration order, so verdicts are deterministic
// regardless of scheduling.
func (c *Controller) runTests(ctx context.Context, spec *service.Spec) []caseFailure {
	cases := spec.TestCases
	outcomes := make([]sandbox.Outcome, len(cases))

	workers := c.cfg.TestWorkers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, tc := range cases {
		g.Go(func() error {
			outcomes[i] = c.executor.Execute(gctx, spec, tc.Params)
			return nil
		})
	}
	_ = g.Wait()

	var failures []caseFailure
	for i, tc := range cases {
		verdict := c.grader.Grade(spec, tc, outcomes[i])
		if verdict.Passed {
			logging.Grader("%s/%s passed: %s", spec.Name, tc.Name, verdict.Reason)
			continue
		}
		logging.Grader("%s/%s FAILED: %s", spec.Name, tc.Name, verdict.Reason)
		failures = append(failures, caseFailure{Case: tc, Outcome: outcomes[i], Verdict: verdict})
	}
	return failures
}

// buildFixRequest packages the failure evidence for the oracle: previous
// code, every failing case with its actual payload, the grader's reasoning,
// and the tail of the sandbox logs.
func buildFixRequest(spec *service.Spec, cls *classify.Classification, failures []caseFailure) oracle.FixRequest {
	req := oracle.FixRequest{
		Spec:           spec,
		Classification: cls.Class.String(),
		MissingModule:  cls.MissingModule,
	}
	if len(failures) == 0 && cls.Detail != "" {
		// Activation-stage failures have no graded cases; the classification
		// detail is the whole story.
		req.FailingCases = []oracle.FailingCase{{
			Name:   "activation",
			Reason: cls.Detail,
		}}
	}

	var logs []string
	for _, f := range failures {
		req.FailingCases = append(req.FailingCases, oracle.FailingCase{
			Name:        f.Case.Name,
			Params:      f.Case.Params,
			Expect:      f.Case.Expect,
			Payload:     f.Outcome.Payload,
			Reason:      f.Verdict.Reason,
			Issues:      f.Verdict.Issues,
			Suggestions: f.Verdict.Suggestions,
		})
		if f.Outcome.Logs != "" {
			logs = append(logs, f.Outcome.Logs)
		}
	}
	req.Logs = strings.Join(logs, "\n")
	return req
}
