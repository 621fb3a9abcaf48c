package pipeline

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/traefik/yaegi/interp"

	"svcforge/internal/config"
	"svcforge/internal/deps"
	"svcforge/internal/grader"
	"svcforge/internal/oracle"
	"svcforge/internal/sandbox"
	"svcforge/internal/service"
)

// --- mockOracle ---

type mockOracle struct {
	GenerateFunc      func(ctx context.Context, req oracle.GenerateRequest) (*service.Spec, error)
	RepairFunc        func(ctx context.Context, req oracle.FixRequest) (*service.Spec, error)
	GenerateTestsFunc func(ctx context.Context, spec *service.Spec) ([]service.TestCase, error)

	// State for verification
	RepairCalls []oracle.FixRequest
}

func (m *mockOracle) Generate(ctx context.Context, req oracle.GenerateRequest) (*service.Spec, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &service.Spec{Name: req.Name, Description: req.Description}, nil
}

func (m *mockOracle) Repair(ctx context.Context, req oracle.FixRequest) (*service.Spec, error) {
	m.RepairCalls = append(m.RepairCalls, req)
	if m.RepairFunc != nil {
		return m.RepairFunc(ctx, req)
	}
	return req.Spec, nil
}

func (m *mockOracle) GenerateTests(ctx context.Context, spec *service.Spec) ([]service.TestCase, error) {
	if m.GenerateTestsFunc != nil {
		return m.GenerateTestsFunc(ctx, spec)
	}
	return []service.TestCase{{Name: "nominal", Expect: service.Expectation{Status: "success"}}}, nil
}

// --- candidate code fixtures ---

const goodCode = `
func Handler(params map[string]any) (map[string]any, error) {
	city, _ := params["city"].(string)
	return map[string]any{"city": city, "temperature": 21.5}, nil
}
`

// driftCode renames a declared field, the classic live-upstream drift.
const driftCode = `
func Handler(params map[string]any) (map[string]any, error) {
	city, _ := params["city"].(string)
	return map[string]any{"city": city, "temp_c": 21.5}, nil
}
`

const panicCode = `
func Handler(params map[string]any) (map[string]any, error) {
	var m map[string]int
	m["boom"] = 1
	return nil, nil
}
`

const strutilCode = `
import "example.com/strutil"

func Handler(params map[string]any) (map[string]any, error) {
	city, _ := params["city"].(string)
	return map[string]any{"city": strutil.Upper(city), "temperature": 21.5}, nil
}
`

func weatherSpec(code string) *service.Spec {
	return &service.Spec{
		ID:          "svc-test",
		Name:        "weather",
		Description: "weather for a city",
		Code:        code,
		Output:      service.OutputSchema{Required: []string{"city", "temperature"}},
		TestCases: []service.TestCase{{
			Name:   "nominal",
			Params: map[string]any{"city": "Paris"},
			Expect: service.Expectation{Status: "success", HasFields: []string{"city", "temperature"}},
		}},
	}
}

// --- harness ---

type harness struct {
	oracle  *mockOracle
	catalog *sandbox.Catalog
	ctrl    *Controller
}

func defaultTestConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxRepairAttempts:  5,
		ExecutionTimeoutMs: 1000,
		LeniencyMode:       "strict",
		TestWorkers:        2,
	}
}

// newHarness wires a controller with a real sandbox executor, a registered
// (but not enabled) strutil package, and a mock oracle.
func newHarness(t *testing.T, orc *mockOracle, cfg config.PipelineConfig) *harness {
	t.Helper()
	catalog := sandbox.NewCatalog()
	catalog.Register("example.com/strutil", interp.Exports{
		"example.com/strutil/strutil": map[string]reflect.Value{
			"Upper": reflect.ValueOf(strings.ToUpper),
		},
	})
	executor := sandbox.NewExecutor(catalog, time.Second)
	installer := &deps.CatalogInstaller{Catalog: catalog}
	g := grader.New(grader.Mode(cfg.LeniencyMode))
	return &harness{
		oracle:  orc,
		catalog: catalog,
		ctrl:    New(orc, executor, g, installer, nil, cfg),
	}
}

// statuses extracts the To side of a record's history.
func statuses(rec *service.Record) []service.Status {
	out := make([]service.Status, 0, len(rec.History))
	for _, ev := range rec.History {
		out = append(out, ev.To)
	}
	return out
}
