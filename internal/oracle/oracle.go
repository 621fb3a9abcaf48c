// Package oracle is the generation side of the pipeline: it asks an LLM for
// candidate service specs, repairs them with structured failure evidence,
// and generates test suites for specs that arrive without one.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"svcforge/internal/config"
	"svcforge/internal/logging"
	"svcforge/internal/service"
)

// GenerateRequest describes the service to create.
type GenerateRequest struct {
	Name        string
	Description string
	// AvailablePackages are non-stdlib packages the sandbox can enable.
	AvailablePackages []string
}

// FailingCase is the evidence for one failed test case.
type FailingCase struct {
	Name        string
	Params      map[string]any
	Expect      service.Expectation
	Payload     map[string]any
	Reason      string
	Issues      []string
	Suggestions []string
}

// FixRequest carries everything the oracle needs to repair a candidate:
// the previous code, what failed, and why the grader said so.
type FixRequest struct {
	Spec           *service.Spec
	Classification string
	MissingModule  string
	FailingCases   []FailingCase
	Logs           string
}

// Oracle is the narrow interface the pipeline depends on.
type Oracle interface {
	Generate(ctx context.Context, req GenerateRequest) (*service.Spec, error)
	Repair(ctx context.Context, req FixRequest) (*service.Spec, error)
	GenerateTests(ctx context.Context, spec *service.Spec) ([]service.TestCase, error)
}

// Completer is the raw LLM transport a client drives.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client implements Oracle over any Completer, with bounded transport
// retries. Retries cover transport and parse failures only; they are
// invisible to the repair budget.
type Client struct {
	completer Completer
	retries   int
	timeout   time.Duration
}

// New builds a client over an explicit completer.
func New(completer Completer, retries int, timeout time.Duration) *Client {
	return &Client{completer: completer, retries: retries, timeout: timeout}
}

// NewFromConfig selects the backend named by cfg.Provider.
func NewFromConfig(cfg config.OracleConfig) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	var completer Completer
	switch cfg.Provider {
	case "openai", "":
		completer = NewOpenAIClient(cfg)
	case "gemini":
		c, err := NewGeminiClient(cfg)
		if err != nil {
			return nil, err
		}
		completer = c
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	return New(completer, cfg.TransportRetries, timeout), nil
}

// Generate asks for a fresh candidate spec.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*service.Spec, error) {
	logging.Oracle("generate: %s", req.Name)
	spec, err := c.candidate(ctx, systemPrompt, generatePrompt(req))
	if err != nil {
		return nil, err
	}
	if spec.Name == "" {
		spec.Name = req.Name
	}
	if spec.Description == "" {
		spec.Description = req.Description
	}
	if spec.Route == "" {
		spec.Route = "/api/" + spec.Name
	}
	if spec.HTTPMethod == "" {
		spec.HTTPMethod = "GET"
	}
	return spec, nil
}

// Repair asks for a corrected candidate given the failure evidence.
func (c *Client) Repair(ctx context.Context, req FixRequest) (*service.Spec, error) {
	logging.Oracle("repair: %s (%s)", req.Spec.Name, req.Classification)
	spec, err := c.candidate(ctx, systemPrompt, repairPrompt(req))
	if err != nil {
		return nil, err
	}
	// Identity (name, route, method) and the test suite survive repair;
	// only the implementation and its declared contract may change.
	spec.ID = req.Spec.ID
	spec.Name = req.Spec.Name
	spec.Description = req.Spec.Description
	spec.Route = req.Spec.Route
	spec.HTTPMethod = req.Spec.HTTPMethod
	if len(spec.TestCases) == 0 {
		spec.TestCases = req.Spec.TestCases
	}
	return spec, nil
}

// GenerateTests asks for a nominal, an edge, and an error test case.
func (c *Client) GenerateTests(ctx context.Context, spec *service.Spec) ([]service.TestCase, error) {
	logging.Oracle("generate tests: %s", spec.Name)
	text, err := c.complete(ctx, testSystemPrompt, testsPrompt(spec))
	if err != nil {
		return nil, err
	}
	cases, err := parseTestCases(text)
	if err != nil {
		return nil, fmt.Errorf("oracle returned unparseable test cases: %w", err)
	}
	return cases, nil
}

// candidate runs one completion and parses the candidate, retrying the whole
// round trip on transport or parse failure.
func (c *Client) candidate(ctx context.Context, system, user string) (*service.Spec, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			logging.Oracle("transport retry %d/%d after: %v", attempt, c.retries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		text, err := c.completeOnce(ctx, system, user)
		if err != nil {
			lastErr = err
			continue
		}
		spec, err := parseCandidate(text)
		if err != nil {
			lastErr = fmt.Errorf("unparseable candidate: %w", err)
			continue
		}
		return spec, nil
	}
	return nil, fmt.Errorf("oracle transport exhausted after %d retries: %w", c.retries, lastErr)
}

// complete is the retrying variant for non-candidate completions.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		text, err := c.completeOnce(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("oracle transport exhausted after %d retries: %w", c.retries, lastErr)
}

func (c *Client) completeOnce(ctx context.Context, system, user string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	timer := logging.StartTimer(logging.CategoryOracle, "completion")
	defer timer.Stop()
	text, err := c.completer.Complete(ctx, system, user)
	if err != nil {
		logging.OracleError("completion failed: %v", err)
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("oracle returned an empty completion")
	}
	return text, nil
}
