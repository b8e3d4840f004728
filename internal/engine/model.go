package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InstanceStatus tracks the lifecycle of a process instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceAborted   InstanceStatus = "aborted"
	InstanceFailed    InstanceStatus = "failed"
)

// ExecutionStatus tracks a single activity execution.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionAborted   ExecutionStatus = "aborted"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ProcessInstance is a snapshot of one run of a definition.
type ProcessInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Version      string         `json:"version"`
	Status       InstanceStatus `json:"status"`
	Variables    map[string]any `json:"variables,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
}

// Execution records one visit of a task node.
type Execution struct {
	ID          string          `json:"id"`
	InstanceID  string          `json:"instance_id"`
	ActivityID  string          `json:"activity_id"`
	Status      ExecutionStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Delegation is implemented by components named in a service task.
type Delegation interface {
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// DelegationFunc adapts a function to Delegation.
type DelegationFunc func(ctx context.Context, ec *ExecutionContext) error

// Execute calls f.
func (f DelegationFunc) Execute(ctx context.Context, ec *ExecutionContext) error {
	return f(ctx, ec)
}

// AsDelegation checks that a resolved component can run as a service task.
func AsDelegation(name string, component any) (Delegation, error) {
	switch d := component.(type) {
	case Delegation:
		return d, nil
	case func(context.Context, *ExecutionContext) error:
		return DelegationFunc(d), nil
	default:
		return nil, fmt.Errorf("engine: component %s (%T) does not implement Delegation", name, component)
	}
}

// Variables is the variable scope shared by every branch of an instance.
type Variables struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariables copies initial into a new scope.
func NewVariables(initial map[string]any) *Variables {
	v := &Variables{values: make(map[string]any, len(initial))}
	for k, val := range initial {
		v.values[k] = val
	}
	return v
}

// Get returns a variable.
func (v *Variables) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	return val, ok
}

// Set stores a variable.
func (v *Variables) Set(key string, value any) {
	v.mu.Lock()
	v.values[key] = value
	v.mu.Unlock()
}

// Merge stores every entry of values.
func (v *Variables) Merge(values map[string]any) {
	v.mu.Lock()
	for k, val := range values {
		v.values[k] = val
	}
	v.mu.Unlock()
}

// Snapshot returns a copy of all variables.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// ExecutionContext is handed to a Delegation.
type ExecutionContext struct {
	InstanceID   string
	DefinitionID string
	ActivityID   string
	Vars         *Variables
}
