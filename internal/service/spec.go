// Package service defines the service specification model: what a generated
// service looks like, how its lifecycle progresses, and the append-only
// history of everything that happened to it.
package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE SPECIFICATION
// =============================================================================

// Param describes one input parameter of a generated service.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "bool", "object", "array"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// OutputSchema declares the structural contract of a service's result payload.
type OutputSchema struct {
	// Required lists top-level fields that a healthy response must carry.
	Required []string `json:"required,omitempty"`
}

// Expectation is the declarative pass condition of a test case.
type Expectation struct {
	// Status is the coarse outcome expected: "success" or "error".
	Status string `json:"status"`
	// HasFields lists payload fields that must be present.
	HasFields []string `json:"has_fields,omitempty"`
	// Absent lists payload fields that must NOT be present.
	Absent []string `json:"absent,omitempty"`
}

// TestCase is one concrete invocation with its expected shape.
type TestCase struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
	Expect Expectation    `json:"expect"`
}

// Spec is a full candidate service: code, contract, and test suite.
// Code must be Go source defining
//
//	func Handler(params map[string]any) (map[string]any, error)
//
// and must be self-contained: every import resolvable from Dependencies plus
// the sandbox stdlib whitelist, no environment-variable lookups.
type Spec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// Route and HTTPMethod identify where a published service is mounted.
	// Together with Name they are the service's identity: repair may rewrite
	// the code, never these.
	Route        string       `json:"route,omitempty"`
	HTTPMethod   string       `json:"method,omitempty"`
	Code         string       `json:"code"`
	Params       []Param      `json:"params,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Output       OutputSchema `json:"output"`
	TestCases    []TestCase   `json:"test_cases,omitempty"`
}

// NewSpec creates a Draft spec with a fresh ID.
func NewSpec(name, description string) *Spec {
	return &Spec{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}
}

// HasDependency reports whether pkg is already declared.
func (s *Spec) HasDependency(pkg string) bool {
	for _, d := range s.Dependencies {
		if d == pkg {
			return true
		}
	}
	return false
}

// AddDependency declares pkg if not already present.
func (s *Spec) AddDependency(pkg string) {
	if !s.HasDependency(pkg) {
		s.Dependencies = append(s.Dependencies, pkg)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Status is the lifecycle state of a service record.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActivating Status = "activating"
	StatusActive     Status = "active"
	StatusTesting    Status = "testing"
	StatusFailed     Status = "failed"
	StatusPassed     Status = "passed"
	StatusPublished  Status = "published"
	StatusRepairing  Status = "repairing"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusAbandoned
}

// validTransitions is the full transition table. Every defect lands in Failed
// first, which then resolves into Repairing or Abandoned; Repairing loops back
// to Activating because every repaired candidate re-enters the sandbox from
// scratch.
var validTransitions = map[Status][]Status{
	StatusDraft:      {StatusActivating, StatusAbandoned},
	StatusActivating: {StatusActive, StatusFailed},
	StatusActive:     {StatusTesting},
	StatusTesting:    {StatusPassed, StatusFailed},
	StatusFailed:     {StatusRepairing, StatusAbandoned},
	StatusPassed:     {StatusPublished},
	StatusRepairing:  {StatusActivating, StatusAbandoned},
}

// ErrIllegalTransition is returned when a transition violates the lifecycle.
var ErrIllegalTransition = fmt.Errorf("illegal status transition")

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// RECORD AND HISTORY
// =============================================================================

// Event is one append-only history entry.
type Event struct {
	Time    time.Time `json:"time"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Attempt int       `json:"attempt"`
	Note    string    `json:"note,omitempty"`
}

// Record binds a spec to its lifecycle state, attempt counter, and history.
// History is append-only: entries are never rewritten or removed.
type Record struct {
	Spec      *Spec     `json:"spec"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	History   []Event   `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord wraps a spec into a Draft record.
func NewRecord(spec *Spec) *Record {
	now := time.Now().UTC()
	return &Record{
		Spec:      spec,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the record to the next status, appending a history event.
// Returns ErrIllegalTransition if the step is not in the lifecycle table.
func (r *Record) Transition(to Status, note string) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.Status, to)
	}
	now := time.Now().UTC()
	r.History = append(r.History, Event{
		Time:    now,
		From:    r.Status,
		To:      to,
		Attempt: r.Attempts,
		Note:    note,
	})
	r.Status = to
	r.UpdatedAt = now
	return nil
}
