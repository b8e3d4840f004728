package smart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

// instance is the live state of one process run. Lock order is inst.mu
// before Engine.mu.
type instance struct {
	id   string
	def  *definition.ProcessDefinition
	vars *engine.Variables

	// run serializes Start and Signal passes over the same instance.
	run    sync.Mutex
	tokens sync.WaitGroup

	mu          sync.Mutex
	status      engine.InstanceStatus
	err         error
	joins       map[string]int
	startedAt   time.Time
	completedAt time.Time
}

func (inst *instance) fail(err error) {
	inst.mu.Lock()
	if inst.err == nil {
		inst.err = err
	}
	inst.mu.Unlock()
}

func (inst *instance) halted() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.status != engine.InstanceRunning || inst.err != nil
}

// arrive records a token at a joining gateway and reports whether it was the
// last one expected.
func (inst *instance) arrive(gateway string, expected int) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.joins[gateway]++
	if inst.joins[gateway] < expected {
		return false
	}
	inst.joins[gateway] = 0
	return true
}

func (inst *instance) snapshot() *engine.ProcessInstance {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := &engine.ProcessInstance{
		ID:           inst.id,
		DefinitionID: inst.def.ID,
		Version:      inst.def.Version,
		Status:       inst.status,
		Variables:    inst.vars.Snapshot(),
		StartedAt:    inst.startedAt,
		CompletedAt:  inst.completedAt,
	}
	if inst.err != nil {
		out.Error = inst.err.Error()
	}
	return out
}

func (e *Engine) startInstance(ctx context.Context, definitionID, version string, vars map[string]any) (*engine.ProcessInstance, error) {
	def, err := e.lookupDefinition(definitionID, version)
	if err != nil {
		return nil, err
	}
	inst := &instance{
		id:        e.newID(),
		def:       def,
		vars:      engine.NewVariables(vars),
		status:    engine.InstanceRunning,
		joins:     map[string]int{},
		startedAt: e.now(),
	}
	e.mu.Lock()
	e.instances[inst.id] = inst
	e.instOrder = append(e.instOrder, inst.id)
	e.mu.Unlock()
	log := e.logger.WithField("instance", inst.id).WithField("definition", def.Key())
	log.Debug("process instance started")

	inst.run.Lock()
	e.spawn(ctx, inst, def.Start().ID, true)
	inst.tokens.Wait()
	e.settle(inst)
	inst.run.Unlock()

	snap := inst.snapshot()
	if snap.Status == engine.InstanceFailed {
		log.WithField("error", snap.Error).Warn("process instance failed")
		return snap, fmt.Errorf("smart engine: instance %s failed: %w", inst.id, inst.err)
	}
	return snap, nil
}

func (e *Engine) signal(ctx context.Context, executionID string, vars map[string]any) (*engine.ProcessInstance, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	exe, ok := e.executions[executionID]
	var inst *instance
	if ok {
		inst = e.instances[exe.InstanceID]
	}
	e.mu.RUnlock()
	if !ok || inst == nil {
		return nil, fmt.Errorf("smart engine: execution %s: %w", executionID, engine.ErrNotFound)
	}
	inst.run.Lock()
	defer inst.run.Unlock()
	if inst.halted() {
		return nil, fmt.Errorf("smart engine: instance %s: %w", inst.id, engine.ErrNotActive)
	}
	if !e.finishExecution(executionID, engine.ExecutionActive, engine.ExecutionCompleted) {
		return nil, fmt.Errorf("smart engine: execution %s: %w", executionID, engine.ErrNotActive)
	}
	inst.vars.Merge(vars)
	node, _ := inst.def.Node(exe.ActivityID)
	next, err := e.next(inst, node)
	if err != nil {
		inst.fail(err)
	} else {
		for _, target := range next[1:] {
			e.spawn(ctx, inst, target, false)
		}
		e.spawn(ctx, inst, next[0], true)
	}
	inst.tokens.Wait()
	e.settle(inst)
	snap := inst.snapshot()
	if snap.Status == engine.InstanceFailed {
		return snap, fmt.Errorf("smart engine: instance %s failed: %w", inst.id, inst.err)
	}
	return snap, nil
}

func (e *Engine) abort(instanceID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("smart engine: instance %s: %w", instanceID, engine.ErrNotFound)
	}
	inst.mu.Lock()
	if inst.status != engine.InstanceRunning {
		inst.mu.Unlock()
		return fmt.Errorf("smart engine: instance %s: %w", instanceID, engine.ErrNotActive)
	}
	inst.status = engine.InstanceAborted
	inst.completedAt = e.now()
	inst.mu.Unlock()
	e.abortActive(instanceID)
	e.metrics.ProcessFinished(string(engine.InstanceAborted))
	return nil
}

// spawn starts a token at nodeID, inline on the calling goroutine or on the
// executor.
func (e *Engine) spawn(ctx context.Context, inst *instance, nodeID string, inline bool) {
	inst.tokens.Add(1)
	task := func() {
		defer inst.tokens.Done()
		if err := e.advance(ctx, inst, nodeID); err != nil {
			inst.fail(err)
		}
	}
	if inline {
		task()
		return
	}
	if err := e.executor.Submit(task); err != nil {
		inst.tokens.Done()
		inst.fail(fmt.Errorf("smart engine: submit branch %s: %w", nodeID, err))
	}
}

// advance walks a single token until it ends, parks or is absorbed by a join.
func (e *Engine) advance(ctx context.Context, inst *instance, nodeID string) error {
	for {
		if inst.halted() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := inst.def.Node(nodeID)
		if !ok {
			return fmt.Errorf("smart engine: unknown node %s", nodeID)
		}
		switch node.Kind {
		case definition.EndEvent:
			return nil
		case definition.ReceiveTask:
			e.newExecution(inst, node.ID)
			return nil
		case definition.ServiceTask:
			if err := e.runServiceTask(ctx, inst, node); err != nil {
				return err
			}
		case definition.ParallelGateway:
			if expected := len(inst.def.Incoming(node.ID)); expected > 1 && !inst.arrive(node.ID, expected) {
				return nil
			}
		}
		next, err := e.next(inst, node)
		if err != nil {
			return err
		}
		for _, target := range next[1:] {
			e.spawn(ctx, inst, target, false)
		}
		nodeID = next[0]
	}
}

func (e *Engine) next(inst *instance, node definition.Node) ([]string, error) {
	out := inst.def.Outgoing(node.ID)
	if len(out) == 0 {
		return nil, fmt.Errorf("smart engine: %s has no outgoing flow", node.ID)
	}
	if node.Kind != definition.ExclusiveGateway {
		targets := make([]string, len(out))
		for i, f := range out {
			targets[i] = f.Target
		}
		return targets, nil
	}
	var fallback string
	for _, f := range out {
		if f.ID == node.Default {
			fallback = f.Target
			continue
		}
		if f.Condition == "" {
			if fallback == "" && node.Default == "" {
				fallback = f.Target
			}
			continue
		}
		cond, err := definition.ParseCondition(f.Condition)
		if err != nil {
			return nil, err
		}
		if cond.Eval(inst.vars.Get) {
			return []string{f.Target}, nil
		}
	}
	if fallback == "" {
		return nil, fmt.Errorf("smart engine: gateway %s: no outgoing flow matched", node.ID)
	}
	return []string{fallback}, nil
}

func (e *Engine) runServiceTask(ctx context.Context, inst *instance, node definition.Node) error {
	exe := e.newExecution(inst, node.ID)
	component, err := e.accessor.Access(node.Class)
	if err == nil {
		var del engine.Delegation
		del, err = engine.AsDelegation(node.Class, component)
		if err == nil {
			err = del.Execute(ctx, &engine.ExecutionContext{
				InstanceID:   inst.id,
				DefinitionID: inst.def.ID,
				ActivityID:   node.ID,
				Vars:         inst.vars,
			})
		}
	}
	if err != nil {
		e.finishExecution(exe.ID, engine.ExecutionActive, engine.ExecutionFailed)
		return fmt.Errorf("smart engine: activity %s: %w", node.ID, err)
	}
	e.finishExecution(exe.ID, engine.ExecutionActive, engine.ExecutionCompleted)
	return nil
}

func (e *Engine) newExecution(inst *instance, activityID string) *engine.Execution {
	exe := &engine.Execution{
		ID:         e.newID(),
		InstanceID: inst.id,
		ActivityID: activityID,
		Status:     engine.ExecutionActive,
		CreatedAt:  e.now(),
	}
	e.mu.Lock()
	e.executions[exe.ID] = exe
	e.execOrder = append(e.execOrder, exe.ID)
	e.mu.Unlock()
	return exe
}

// finishExecution moves an execution from one status to another and reports
// whether it was in the expected status.
func (e *Engine) finishExecution(id string, from, to engine.ExecutionStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exe, ok := e.executions[id]
	if !ok || exe.Status != from {
		return false
	}
	exe.Status = to
	exe.CompletedAt = e.now()
	return true
}

// settle derives the instance status once no token is moving.
func (e *Engine) settle(inst *instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.status != engine.InstanceRunning {
		return
	}
	if inst.err != nil {
		inst.status = engine.InstanceFailed
		inst.completedAt = e.now()
		e.abortActive(inst.id)
		e.metrics.ProcessFinished(string(inst.status))
		return
	}
	if e.hasActive(inst.id) {
		return
	}
	inst.status = engine.InstanceCompleted
	inst.completedAt = e.now()
	e.metrics.ProcessFinished(string(inst.status))
}

func (e *Engine) hasActive(instanceID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, exe := range e.executions {
		if exe.InstanceID == instanceID && exe.Status == engine.ExecutionActive {
			return true
		}
	}
	return false
}

func (e *Engine) abortActive(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, exe := range e.executions {
		if exe.InstanceID == instanceID && exe.Status == engine.ExecutionActive {
			exe.Status = engine.ExecutionAborted
			exe.CompletedAt = e.now()
		}
	}
}
