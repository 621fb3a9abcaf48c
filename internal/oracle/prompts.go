package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"svcforge/internal/service"
)

// systemPrompt pins the output contract for candidate generation and repair.
const systemPrompt = `You are an expert Go engineer generating small, self-contained services.

A service is a single Go source snippet that defines:

    func Handler(params map[string]any) (map[string]any, error)

Rules:
- The code must be fully self-contained. No global state, no environment
  variables, no file access. Inline any constants the service needs.
- Import only what you use. Prefer the standard library; name any extra
  package in the "dependencies" list using its canonical module path.
- Return errors via the error result, never by embedding "error" keys in a
  successful payload.

Respond with ONLY a JSON object:
{
  "name": "...",
  "description": "...",
  "route": "/api/...",
  "method": "GET",
  "code": "...",
  "params": [{"name": "...", "type": "...", "required": true, "description": "..."}],
  "dependencies": ["..."],
  "output": {"required": ["..."]},
  "test_cases": [{"name": "...", "params": {...}, "expect": {"status": "success", "has_fields": ["..."]}}]
}`

func generatePrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a service named %q.\n\n", req.Name)
	fmt.Fprintf(&b, "Description:\n%s\n", req.Description)
	if len(req.AvailablePackages) > 0 {
		fmt.Fprintf(&b, "\nNon-stdlib packages available to the sandbox:\n")
		for _, pkg := range req.AvailablePackages {
			fmt.Fprintf(&b, "  - %s\n", pkg)
		}
	}
	b.WriteString("\nInclude three test cases: a nominal call, an edge case, and an invalid input that must produce an error.\n")
	return b.String()
}

// repairPrompt assembles the full failure evidence so the oracle fixes the
// actual defect instead of guessing.
func repairPrompt(req FixRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The service %q failed and must be repaired.\n\n", req.Spec.Name)
	fmt.Fprintf(&b, "Failure class: %s\n", req.Classification)
	if req.MissingModule != "" {
		fmt.Fprintf(&b, "Missing module: %s (declare it in dependencies or drop the import)\n", req.MissingModule)
	}

	b.WriteString("\nCurrent code:\n```go\n")
	b.WriteString(req.Spec.Code)
	b.WriteString("\n```\n")

	for _, fc := range req.FailingCases {
		fmt.Fprintf(&b, "\nFailed test case %q:\n", fc.Name)
		fmt.Fprintf(&b, "  params: %s\n", compactJSON(fc.Params))
		fmt.Fprintf(&b, "  expected: status=%s", fc.Expect.Status)
		if len(fc.Expect.HasFields) > 0 {
			fmt.Fprintf(&b, " with fields %v", fc.Expect.HasFields)
		}
		b.WriteString("\n")
		if fc.Payload != nil {
			fmt.Fprintf(&b, "  actual payload: %s\n", compactJSON(fc.Payload))
		}
		fmt.Fprintf(&b, "  verdict: %s\n", fc.Reason)
		for _, issue := range fc.Issues {
			fmt.Fprintf(&b, "  issue: %s\n", issue)
		}
		for _, s := range fc.Suggestions {
			fmt.Fprintf(&b, "  suggestion: %s\n", s)
		}
	}

	if req.Logs != "" {
		b.WriteString("\nRecent execution logs:\n")
		b.WriteString(tail(req.Logs, 2000))
		b.WriteString("\n")
	}

	b.WriteString("\nReturn the complete corrected service as the same JSON object. Fix the reported defect; do not change unrelated behavior.\n")
	return b.String()
}

const testSystemPrompt = `You design test suites for small JSON-in/JSON-out services.
Respond with ONLY a JSON array of test cases:
[{"name": "...", "params": {...}, "expect": {"status": "success"|"error", "has_fields": ["..."]}}]`

func testsPrompt(spec *service.Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design test cases for the service %q.\n\n", spec.Name)
	fmt.Fprintf(&b, "Description:\n%s\n", spec.Description)
	if len(spec.Params) > 0 {
		b.WriteString("\nParameters:\n")
		for _, p := range spec.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	if len(spec.Output.Required) > 0 {
		fmt.Fprintf(&b, "\nOutput must contain: %v\n", spec.Output.Required)
	}
	b.WriteString("\nCode:\n```go\n")
	b.WriteString(spec.Code)
	b.WriteString("\n```\n")
	b.WriteString("\nProduce exactly three cases: nominal, edge, and invalid input expecting an error.\n")
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// tail returns the last n bytes of s, cut at a line boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
