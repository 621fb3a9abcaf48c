// Package pipeline drives a candidate service from natural-language
// description to a terminal verdict: Published or Abandoned. One shared
// attempt budget covers dependency retries and full repair cycles.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"svcforge/internal/classify"
	"svcforge/internal/config"
	"svcforge/internal/deps"
	"svcforge/internal/grader"
	"svcforge/internal/logging"
	"svcforge/internal/oracle"
	"svcforge/internal/sandbox"
	"svcforge/internal/service"
	"svcforge/internal/store"
)

// Controller wires the oracle, sandbox, grader, and store into the repair
// loop.
type Controller struct {
	oracle    oracle.Oracle
	executor  *sandbox.Executor
	grader    grader.Grader
	installer deps.Installer
	store     store.Store
	cfg       config.PipelineConfig
}

// New assembles a controller. installer and st may be nil in tests; a nil
// installer disables dependency installs, a nil store disables persistence.
func New(o oracle.Oracle, ex *sandbox.Executor, g grader.Grader, installer deps.Installer, st store.Store, cfg config.PipelineConfig) *Controller {
	return &Controller{
		oracle:    o,
		executor:  ex,
		grader:    g,
		installer: installer,
		store:     st,
		cfg:       cfg,
	}
}

// Result is the terminal state of one pipeline run.
type Result struct {
	Record       *service.Record
	Published    bool
	RepairCycles int
	// FinalClass is the classification that caused abandonment, nil when
	// published.
	FinalClass *classify.Classification
}

// Run generates a candidate for the description and drives it to a terminal
// verdict. It returns an error only for infrastructure failures (oracle
// outage, store failure); candidate defects end in an Abandoned record, not
// an error.
func (c *Controller) Run(ctx context.Context, name, description string) (*Result, error) {
	spec, err := c.oracle.Generate(ctx, oracle.GenerateRequest{
		Name:              name,
		Description:       description,
		AvailablePackages: c.executor.Catalog().Registered(),
	})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	if len(spec.TestCases) == 0 {
		cases, err := c.oracle.GenerateTests(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("test generation failed: %w", err)
		}
		spec.TestCases = cases
	}

	rec := service.NewRecord(spec)
	logging.Pipeline("run %s (%s): %d test cases, budget %d",
		spec.Name, spec.ID, len(spec.TestCases), c.cfg.MaxRepairAttempts)
	return c.drive(ctx, rec)
}

// Retest re-runs the full loop for an existing record, starting from its
// stored spec. Used to re-verify published services whose upstreams may have
// drifted.
func (c *Controller) Retest(ctx context.Context, rec *service.Record) (*Result, error) {
	fresh := service.NewRecord(rec.Spec)
	return c.drive(ctx, fresh)
}

// drive is the state machine: Activating -> Active -> Testing, with failures
// parked in Failed and resolved into Repairing or Abandoned until the verdict
// is terminal.
func (c *Controller) drive(ctx context.Context, rec *service.Record) (*Result, error) {
	result := &Result{Record: rec}

	for {
		if err := rec.Transition(service.StatusActivating, ""); err != nil {
			return nil, err
		}

		cls, ok := c.activate(ctx, rec)
		if !ok {
			if done, err := c.routeFailure(ctx, rec, result, cls, nil); done {
				return result, err
			}
			continue
		}

		if err := rec.Transition(service.StatusActive, "activation succeeded"); err != nil {
			return nil, err
		}
		if err := rec.Transition(service.StatusTesting, ""); err != nil {
			return nil, err
		}

		failures := c.runTests(ctx, rec.Spec)
		if len(failures) == 0 {
			if err := rec.Transition(service.StatusPassed, "all test cases passed"); err != nil {
				return nil, err
			}
			if err := rec.Transition(service.StatusPublished, ""); err != nil {
				return nil, err
			}
			result.Published = true
			logging.Pipeline("published %s after %d attempts", rec.Spec.Name, rec.Attempts)
			return result, c.persist(ctx, rec)
		}

		first := failures[0]
		failCls := classify.Execution(first.Outcome, first.Verdict)
		if done, err := c.routeFailure(ctx, rec, result, &failCls, failures); done {
			return result, err
		}
	}
}

// activate smoke-activates the spec, spending at most one shared-budget
// attempt on a missing-dependency install and retry. Returns the
// classification on failure.
func (c *Controller) activate(ctx context.Context, rec *service.Record) (*classify.Classification, bool) {
	out := c.executor.Activate(ctx, rec.Spec)
	if out.Success() {
		return nil, true
	}

	cls := classify.Activation(out)
	if cls.Class != classify.DependencyDefect || c.installer == nil {
		return &cls, false
	}
	if rec.Attempts >= c.cfg.MaxRepairAttempts {
		return &cls, false
	}

	// Install-and-retry-once: a second missing dependency in this activation
	// goes to the repair loop as a hard defect.
	rec.Attempts++
	logging.Deps("activation of %s missing %s, installing (attempt %d/%d)",
		rec.Spec.Name, cls.MissingModule, rec.Attempts, c.cfg.MaxRepairAttempts)
	if err := c.installer.Install(ctx, cls.MissingModule); err != nil {
		// The install path is exhausted; from here on the missing import is
		// the candidate's problem to fix, not the environment's.
		return &classify.Classification{
			Class:  classify.ActivationDefect,
			Detail: fmt.Sprintf("dependency %s could not be installed: %v", cls.MissingModule, err),
		}, false
	}
	rec.Spec.AddDependency(cls.MissingModule)

	out = c.executor.Activate(ctx, rec.Spec)
	if out.Success() {
		return nil, true
	}
	retryCls := classify.Activation(out)
	if retryCls.Class == classify.DependencyDefect {
		retryCls = classify.Classification{
			Class:  classify.ActivationDefect,
			Detail: fmt.Sprintf("dependency %s still unavailable after install: %s", retryCls.MissingModule, retryCls.Detail),
		}
	}
	return &retryCls, false
}

// routeFailure parks the record in Failed and then either abandons it (budget
// gone) or requests a repaired candidate and keeps the loop going. The bool
// return reports whether the run is over.
func (c *Controller) routeFailure(ctx context.Context, rec *service.Record, result *Result, cls *classify.Classification, failures []caseFailure) (bool, error) {
	if err := rec.Transition(service.StatusFailed, cls.Class.String()+": "+cls.Detail); err != nil {
		return true, err
	}

	if rec.Attempts >= c.cfg.MaxRepairAttempts {
		note := fmt.Sprintf("%s after %d attempts: %s", cls.Class, rec.Attempts, cls.Detail)
		if err := rec.Transition(service.StatusAbandoned, note); err != nil {
			return true, err
		}
		result.FinalClass = cls
		logging.PipelineError("abandoned %s: %s", rec.Spec.Name, note)
		return true, c.persist(ctx, rec)
	}

	rec.Attempts++
	result.RepairCycles++
	if err := rec.Transition(service.StatusRepairing, cls.Class.String()); err != nil {
		return true, err
	}

	fixed, err := c.oracle.Repair(ctx, buildFixRequest(rec.Spec, cls, failures))
	if err != nil {
		// Oracle outage is infrastructural: persist where we stopped and
		// surface the error instead of charging the candidate with it.
		_ = c.persist(ctx, rec)
		return true, fmt.Errorf("repair request failed: %w", err)
	}
	rec.Spec = fixed
	logging.Pipeline("repairing %s (attempt %d/%d, %s)",
		rec.Spec.Name, rec.Attempts, c.cfg.MaxRepairAttempts, cls.Class)
	return false, nil
}

func (c *Controller) persist(ctx context.Context, rec *service.Record) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist %s: %w", rec.Spec.ID, err)
	}
	return nil
}
