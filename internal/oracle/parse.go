package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"svcforge/internal/service"
)

// candidatePayload is the wire shape of an oracle candidate.
type candidatePayload struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Route        string               `json:"route"`
	Method       string               `json:"method"`
	Code         string               `json:"code"`
	Params       []service.Param      `json:"params"`
	Dependencies []string             `json:"dependencies"`
	Output       service.OutputSchema `json:"output"`
	TestCases    []service.TestCase   `json:"test_cases"`
}

// parseCandidate decodes a candidate spec from raw completion text.
func parseCandidate(text string) (*service.Spec, error) {
	raw, err := extractJSON(text, '{', '}')
	if err != nil {
		return nil, err
	}
	var payload candidatePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("invalid candidate JSON: %w", err)
	}
	if strings.TrimSpace(payload.Code) == "" {
		return nil, fmt.Errorf("candidate has no code")
	}
	return &service.Spec{
		Name:         payload.Name,
		Description:  payload.Description,
		Route:        payload.Route,
		HTTPMethod:   payload.Method,
		Code:         payload.Code,
		Params:       payload.Params,
		Dependencies: payload.Dependencies,
		Output:       payload.Output,
		TestCases:    payload.TestCases,
	}, nil
}

// parseTestCases decodes a JSON array of test cases.
func parseTestCases(text string) ([]service.TestCase, error) {
	raw, err := extractJSON(text, '[', ']')
	if err != nil {
		return nil, err
	}
	var cases []service.TestCase
	if err := json.Unmarshal([]byte(raw), &cases); err != nil {
		return nil, fmt.Errorf("invalid test case JSON: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no test cases in response")
	}
	return cases, nil
}

// extractJSON pulls a JSON value out of completion text: a fenced block if
// present, otherwise a depth-balanced scan from the first opening delimiter.
// Models decorate their JSON with prose often enough that both are needed.
func extractJSON(text string, opener, closer byte) (string, error) {
	if fenced := extractFence(text); fenced != "" {
		text = fenced
	}

	start := strings.IndexByte(text, opener)
	if start < 0 {
		return "", fmt.Errorf("no JSON value found in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON value in completion")
}

// extractFence returns the body of the first ```json (or bare ```) block.
func extractFence(text string) string {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		body := text[start+len(marker):]
		end := strings.Index(body, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(body[:end])
	}
	return ""
}
