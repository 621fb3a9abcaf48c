// Package sandbox executes candidate service code inside a yaegi interpreter.
// Interpretation instead of compilation keeps activation fast and removes the
// whole class of toolchain failures (hanging builds, linking, version skew).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"svcforge/internal/logging"
	"svcforge/internal/service"
)

// Executor runs candidate code in a fresh interpreter per call.
type Executor struct {
	catalog *Catalog
	timeout time.Duration
}

// NewExecutor creates an executor with the given catalog and per-execution
// timeout. A zero timeout means no deadline beyond the caller's context.
func NewExecutor(catalog *Catalog, timeout time.Duration) *Executor {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Executor{catalog: catalog, timeout: timeout}
}

// Catalog exposes the package catalog for installers.
func (e *Executor) Catalog() *Catalog { return e.catalog }

// handlerFunc is the shape every candidate entry point must satisfy.
type handlerFunc = func(map[string]any) (map[string]any, error)

// logBuffer is a concurrency-safe sink for the interpreter's stdout/stderr.
// On timeout the handler goroutine is abandoned but keeps writing; String
// snapshots under the same lock so the reader never races it.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Activate evaluates the candidate's code and resolves its handler without
// invoking it. A nil-kind Success outcome means the service is ready to run.
func (e *Executor) Activate(ctx context.Context, spec *service.Spec) Outcome {
	timer := logging.StartTimer(logging.CategorySandbox, "activate "+spec.Name)
	defer timer.Stop()

	_, logs, out := e.load(spec)
	if out != nil {
		logging.SandboxError("activation failed for %s [%s]: %s", spec.Name, out.Phase, out.Message)
		return *out
	}
	logging.Sandbox("activated %s", spec.Name)
	return successOutcome(nil, logs.String())
}

// Execute activates the candidate in a fresh interpreter and invokes its
// handler with params. Nothing leaks between executions: each call gets its
// own interpreter, so no candidate can observe another's state.
func (e *Executor) Execute(ctx context.Context, spec *service.Spec, params map[string]any) Outcome {
	handler, logs, actErr := e.load(spec)
	if actErr != nil {
		return *actErr
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resultChan := make(chan map[string]any, 1)
	errChan := make(chan error, 1)
	panicChan := make(chan any, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicChan <- r
			}
		}()
		payload, err := handler(params)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- payload
	}()

	select {
	case payload := <-resultChan:
		return successOutcome(payload, logs.String())
	case err := <-errChan:
		logging.SandboxError("handler error in %s: %v", spec.Name, err)
		return runtimeOutcome("handler_error", logs.String(), "%v", err)
	case r := <-panicChan:
		logging.SandboxError("handler panic in %s: %v", spec.Name, r)
		return runtimeOutcome("panic", logs.String(), "panic: %v", r)
	case <-ctx.Done():
		// The interpreter goroutine cannot be killed; it is abandoned and the
		// fresh-environment rule guarantees it cannot touch later runs.
		logging.SandboxError("execution timed out for %s", spec.Name)
		return timeoutOutcome(logs.String(), ctx.Err())
	}
}

// load builds a fresh interpreter, evaluates the code, and resolves the
// handler. Returns a non-nil outcome on any activation failure.
func (e *Executor) load(spec *service.Spec) (handlerFunc, *logBuffer, *Outcome) {
	logs := &logBuffer{}

	report := service.Validate(spec, e.catalog.Importable)
	if !report.Valid {
		out := activationOutcome(PhaseValidate, "%s", strings.Join(report.Problems, "; "))
		return nil, logs, &out
	}

	i := interp.New(interp.Options{Stdout: logs, Stderr: logs})
	if err := i.Use(stdlib.Symbols); err != nil {
		out := activationOutcome(PhaseEval, "failed to load stdlib symbols: %v", err)
		return nil, logs, &out
	}
	for _, exports := range e.catalog.enabledExports() {
		if err := i.Use(exports); err != nil {
			out := activationOutcome(PhaseEval, "failed to load package symbols: %v", err)
			return nil, logs, &out
		}
	}

	if _, err := i.Eval(wrapCode(spec.Code)); err != nil {
		out := activationOutcome(PhaseEval, "%v", err)
		return nil, logs, &out
	}

	sym, err := i.Eval("main." + service.HandlerName)
	if err != nil {
		out := activationOutcome(PhaseLookup, "%s not found: %v", service.HandlerName, err)
		return nil, logs, &out
	}
	handler, ok := sym.Interface().(handlerFunc)
	if !ok {
		out := activationOutcome(PhaseSign,
			"%s has incorrect signature (expected func(map[string]any) (map[string]any, error))",
			service.HandlerName)
		return nil, logs, &out
	}
	return handler, logs, nil
}

// wrapCode adds the package clause when the candidate omits it.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return fmt.Sprintf("package main\n\n%s", code)
}
