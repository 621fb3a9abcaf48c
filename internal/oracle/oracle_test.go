package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcforge/internal/config"
	"svcforge/internal/service"
)

// mockCompleter is a Completer with an overridable function field.
type mockCompleter struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)
	calls        int
}

func (m *mockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user)
	}
	return "", nil
}

const candidateJSON = `{"name": "echo", "code": "func Handler(params map[string]any) (map[string]any, error) { return params, nil }"}`

func TestGenerateParsesCandidate(t *testing.T) {
	mock := &mockCompleter{
		CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
			assert.Contains(t, user, "weather for a city")
			return candidateJSON, nil
		},
	}
	client := New(mock, 0, time.Second)

	spec, err := client.Generate(context.Background(), GenerateRequest{
		Name:        "weather",
		Description: "weather for a city",
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", spec.Name)
	assert.Equal(t, "weather for a city", spec.Description, "empty description falls back to the request")
	assert.Equal(t, "/api/echo", spec.Route, "omitted route gets a default")
	assert.Equal(t, "GET", spec.HTTPMethod, "omitted method defaults to GET")
}

func TestTransportRetriesThenSuccess(t *testing.T) {
	mock := &mockCompleter{}
	mock.CompleteFunc = func(ctx context.Context, system, user string) (string, error) {
		if mock.calls < 3 {
			return "", fmt.Errorf("connection reset")
		}
		return candidateJSON, nil
	}
	client := New(mock, 2, time.Second)

	_, err := client.Generate(context.Background(), GenerateRequest{Name: "echo"})
	require.NoError(t, err)
	assert.Equal(t, 3, mock.calls, "two retries after the initial call")
}

func TestTransportExhaustion(t *testing.T) {
	mock := &mockCompleter{
		CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
			return "", fmt.Errorf("connection reset")
		},
	}
	client := New(mock, 1, time.Second)

	_, err := client.Generate(context.Background(), GenerateRequest{Name: "echo"})
	require.ErrorContains(t, err, "transport exhausted")
	assert.Equal(t, 2, mock.calls)
}

func TestParseFailureIsRetriedAsTransport(t *testing.T) {
	mock := &mockCompleter{}
	mock.CompleteFunc = func(ctx context.Context, system, user string) (string, error) {
		if mock.calls == 1 {
			return "I refuse to answer in JSON.", nil
		}
		return candidateJSON, nil
	}
	client := New(mock, 1, time.Second)

	_, err := client.Generate(context.Background(), GenerateRequest{Name: "echo"})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.calls)
}

func TestRepairPreservesIdentityAndSuite(t *testing.T) {
	mock := &mockCompleter{
		CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
			assert.Contains(t, user, "Failure class: assertion_mismatch")
			assert.Contains(t, user, "old code marker")
			return candidateJSON, nil
		},
	}
	client := New(mock, 0, time.Second)

	original := &service.Spec{
		ID:          "svc-1",
		Name:        "weather",
		Description: "weather service",
		Route:       "/api/weather",
		HTTPMethod:  "POST",
		Code:        "// old code marker",
		TestCases:   []service.TestCase{{Name: "nominal"}},
	}
	fixed, err := client.Repair(context.Background(), FixRequest{
		Spec:           original,
		Classification: "assertion_mismatch",
		FailingCases: []FailingCase{{
			Name:   "nominal",
			Reason: "field missing",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "svc-1", fixed.ID)
	assert.Equal(t, "weather", fixed.Name)
	assert.Equal(t, "/api/weather", fixed.Route, "route survives repair")
	assert.Equal(t, "POST", fixed.HTTPMethod, "method survives repair")
	assert.Equal(t, original.TestCases, fixed.TestCases, "suite survives repair when the oracle omits one")
	assert.NotEqual(t, original.Code, fixed.Code)
}

func TestGenerateTests(t *testing.T) {
	mock := &mockCompleter{
		CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
			return `[{"name": "nominal", "params": {}, "expect": {"status": "success"}}]`, nil
		},
	}
	client := New(mock, 0, time.Second)

	cases, err := client.GenerateTests(context.Background(), &service.Spec{Name: "echo"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "nominal", cases[0].Name)
}

func TestEmptyCompletionIsTransportError(t *testing.T) {
	mock := &mockCompleter{
		CompleteFunc: func(ctx context.Context, system, user string) (string, error) {
			return "   ", nil
		},
	}
	client := New(mock, 0, time.Second)
	_, err := client.Generate(context.Background(), GenerateRequest{Name: "echo"})
	require.ErrorContains(t, err, "empty completion")
}

func TestNewFromConfigRejectsUnknownProvider(t *testing.T) {
	_, err := NewFromConfig(config.OracleConfig{Provider: "delphi"})
	require.ErrorContains(t, err, `unknown oracle provider "delphi"`)
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "pong"}},
			},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.OracleConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Model:     "test-model",
		TimeoutMs: 5000,
	})
	text, err := client.Complete(context.Background(), "sys", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
}

func TestOpenAIClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.OracleConfig{BaseURL: srv.URL, TimeoutMs: 5000})
	_, err := client.Complete(context.Background(), "sys", "ping")
	require.ErrorContains(t, err, "429")
}
