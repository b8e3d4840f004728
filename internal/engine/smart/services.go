package smart

import (
	"context"
	"fmt"

	"github.com/kingrea/orchestra/internal/engine"
)

type processCommand struct{ e *Engine }

// Start runs a new instance until every token has ended or parked. A failed
// instance is returned together with the error that failed it.
func (s processCommand) Start(ctx context.Context, definitionID, version string, vars map[string]any) (*engine.ProcessInstance, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.e.startInstance(ctx, definitionID, version, vars)
}

func (s processCommand) Abort(_ context.Context, instanceID string) error {
	return s.e.abort(instanceID)
}

type processQuery struct{ e *Engine }

func (s processQuery) Find(instanceID string) (*engine.ProcessInstance, error) {
	if err := s.e.ready(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	inst, ok := s.e.instances[instanceID]
	s.e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("smart engine: instance %s: %w", instanceID, engine.ErrNotFound)
	}
	return inst.snapshot(), nil
}

// List returns every instance in start order.
func (s processQuery) List() []*engine.ProcessInstance {
	s.e.mu.RLock()
	insts := make([]*instance, 0, len(s.e.instOrder))
	for _, id := range s.e.instOrder {
		insts = append(insts, s.e.instances[id])
	}
	s.e.mu.RUnlock()
	out := make([]*engine.ProcessInstance, len(insts))
	for i, inst := range insts {
		out[i] = inst.snapshot()
	}
	return out
}

type executionCommand struct{ e *Engine }

// Signal completes a waiting receive task and continues the instance.
func (s executionCommand) Signal(ctx context.Context, executionID string, vars map[string]any) (*engine.ProcessInstance, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.e.signal(ctx, executionID, vars)
}

type executionQuery struct{ e *Engine }

func (s executionQuery) Find(executionID string) (*engine.Execution, error) {
	if err := s.e.ready(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	exe, ok := s.e.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("smart engine: execution %s: %w", executionID, engine.ErrNotFound)
	}
	copied := *exe
	return &copied, nil
}

func (s executionQuery) FindActive(instanceID string) ([]*engine.Execution, error) {
	return s.e.listExecutions(instanceID, true)
}

func (s executionQuery) List(instanceID string) ([]*engine.Execution, error) {
	return s.e.listExecutions(instanceID, false)
}

func (e *Engine) listExecutions(instanceID string, activeOnly bool) ([]*engine.Execution, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.instances[instanceID]; !ok {
		return nil, fmt.Errorf("smart engine: instance %s: %w", instanceID, engine.ErrNotFound)
	}
	var out []*engine.Execution
	for _, id := range e.execOrder {
		exe := e.executions[id]
		if exe.InstanceID != instanceID {
			continue
		}
		if activeOnly && exe.Status != engine.ExecutionActive {
			continue
		}
		copied := *exe
		out = append(out, &copied)
	}
	return out, nil
}
