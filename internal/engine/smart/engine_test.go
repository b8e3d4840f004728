package smart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/pool"
)

const orderXML = `<definitions xmlns:smart="http://smartengine.org/schema/process" id="order" version="1.0.0">
  <process id="order">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="check"/>
    <serviceTask id="check" smart:class="orders.Checker"/>
    <sequenceFlow id="f2" sourceRef="check" targetRef="route"/>
    <exclusiveGateway id="route" default="f4"/>
    <sequenceFlow id="f3" sourceRef="route" targetRef="fork">
      <conditionExpression>amount &gt; 100</conditionExpression>
    </sequenceFlow>
    <sequenceFlow id="f4" sourceRef="route" targetRef="end"/>
    <parallelGateway id="fork"/>
    <sequenceFlow id="f5" sourceRef="fork" targetRef="reserve"/>
    <sequenceFlow id="f6" sourceRef="fork" targetRef="approve"/>
    <serviceTask id="reserve" smart:class="orders.Reserver"/>
    <receiveTask id="approve"/>
    <sequenceFlow id="f7" sourceRef="reserve" targetRef="join"/>
    <sequenceFlow id="f8" sourceRef="approve" targetRef="join"/>
    <parallelGateway id="join"/>
    <sequenceFlow id="f9" sourceRef="join" targetRef="ship"/>
    <serviceTask id="ship" smart:class="orders.Shipper"/>
    <sequenceFlow id="f10" sourceRef="ship" targetRef="end"/>
    <endEvent id="end"/>
  </process>
</definitions>`

const fanoutXML = `<definitions xmlns:smart="http://smartengine.org/schema/process" id="fanout" version="1">
  <process>
    <startEvent id="s"/>
    <sequenceFlow id="a" sourceRef="s" targetRef="fork"/>
    <parallelGateway id="fork"/>
    <sequenceFlow id="b1" sourceRef="fork" targetRef="t1"/>
    <sequenceFlow id="b2" sourceRef="fork" targetRef="t2"/>
    <sequenceFlow id="b3" sourceRef="fork" targetRef="t3"/>
    <serviceTask id="t1" smart:class="work"/>
    <serviceTask id="t2" smart:class="work"/>
    <serviceTask id="t3" smart:class="work"/>
    <sequenceFlow id="c1" sourceRef="t1" targetRef="join"/>
    <sequenceFlow id="c2" sourceRef="t2" targetRef="join"/>
    <sequenceFlow id="c3" sourceRef="t3" targetRef="join"/>
    <parallelGateway id="join"/>
    <sequenceFlow id="d" sourceRef="join" targetRef="e"/>
    <endEvent id="e"/>
  </process>
</definitions>`

type harness struct {
	engine *Engine
	pool   *pool.Pool
	calls  sync.Map
}

func (h *harness) record(name string) engine.Delegation {
	return engine.DelegationFunc(func(_ context.Context, ec *engine.ExecutionContext) error {
		v, _ := h.calls.LoadOrStore(name, new(int32))
		atomic.AddInt32(v.(*int32), 1)
		ec.Vars.Set(name, true)
		return nil
	})
}

func (h *harness) count(name string) int32 {
	v, ok := h.calls.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt32(v.(*int32))
}

func newHarness(t *testing.T, components map[string]any) *harness {
	t.Helper()
	p, err := pool.New(2)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Shutdown()
		p.Wait()
	})
	h := &harness{pool: p}
	if components == nil {
		components = map[string]any{
			"orders.Checker":  h.record("checked"),
			"orders.Reserver": h.record("reserved"),
			"orders.Shipper":  h.record("shipped"),
			"work":            h.record("work"),
		}
	}
	seq := 0
	var mu sync.Mutex
	h.engine = New(WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}))
	cfg := engine.NewConfiguration()
	cfg.Executor = p
	cfg.InstanceAccessor = engine.InstanceAccessorFunc(func(name string) (any, error) {
		c, ok := components[name]
		if !ok {
			return nil, fmt.Errorf("no component %s", name)
		}
		return c, nil
	})
	cfg.Options.Enable(engine.OptionServiceOrchestration)
	require.NoError(t, h.engine.Init(cfg))
	return h
}

func TestInitRequiresOrchestrationOption(t *testing.T) {
	e := New()
	cfg := engine.NewConfiguration()
	cfg.Executor = engine.Executor(nil)
	assert.Error(t, e.Init(cfg))

	p, err := pool.New(1)
	require.NoError(t, err)
	defer p.Shutdown()
	cfg.Executor = p
	cfg.InstanceAccessor = engine.InstanceAccessorFunc(func(string) (any, error) { return nil, nil })
	assert.Error(t, e.Init(cfg), "option not enabled")
	cfg.Options.Enable(engine.OptionServiceOrchestration)
	require.NoError(t, e.Init(cfg))
	assert.Error(t, e.Init(cfg), "second init")
}

func TestServicesRejectCallsBeforeInit(t *testing.T) {
	e := New()
	_, err := e.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	assert.ErrorIs(t, err, engine.ErrNotInitialized)
	_, err = e.ProcessCommandService().Start(context.Background(), "order", "", nil)
	assert.ErrorIs(t, err, engine.ErrNotInitialized)
}

func TestDeployAndQueryLatestVersion(t *testing.T) {
	h := newHarness(t, nil)
	repo := h.engine.RepositoryCommandService()
	_, err := repo.Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	_, err = repo.Deploy(strings.NewReader(strings.Replace(orderXML, `version="1.0.0"`, `version="1.1.0"`, 1)))
	require.NoError(t, err)

	query := h.engine.RepositoryQueryService()
	latest, err := query.Find("order", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)
	old, err := query.Find("order", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", old.Version)
	assert.Len(t, query.List(), 2)

	_, err = query.Find("missing", "")
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = repo.Deploy(strings.NewReader("<definitions"))
	assert.Error(t, err)
}

func TestSmallOrderTakesDefaultFlow(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	inst, err := h.engine.ProcessCommandService().Start(context.Background(), "order", "", map[string]any{"amount": 10})
	require.NoError(t, err)
	assert.Equal(t, engine.InstanceCompleted, inst.Status)
	assert.Equal(t, int32(1), h.count("checked"))
	assert.Equal(t, int32(0), h.count("reserved"))
}

func TestLargeOrderWaitsForSignalThenJoins(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	inst, err := h.engine.ProcessCommandService().Start(context.Background(), "order", "1.0.0", map[string]any{"amount": 500})
	require.NoError(t, err)
	assert.Equal(t, engine.InstanceRunning, inst.Status)
	assert.Equal(t, int32(1), h.count("reserved"))
	assert.Equal(t, int32(0), h.count("shipped"))

	active, err := h.engine.ExecutionQueryService().FindActive(inst.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "approve", active[0].ActivityID)

	done, err := h.engine.ExecutionCommandService().Signal(context.Background(), active[0].ID, map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, engine.InstanceCompleted, done.Status)
	assert.Equal(t, true, done.Variables["approved"])
	assert.Equal(t, int32(1), h.count("shipped"))

	_, err = h.engine.ExecutionCommandService().Signal(context.Background(), active[0].ID, nil)
	assert.ErrorIs(t, err, engine.ErrNotActive)

	all, err := h.engine.ExecutionQueryService().List(inst.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	found, err := h.engine.ProcessQueryService().Find(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.InstanceCompleted, found.Status)
}

func TestFanoutRunsBranchesOnExecutor(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(fanoutXML))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		inst, err := h.engine.ProcessCommandService().Start(context.Background(), "fanout", "", nil)
		require.NoError(t, err)
		assert.Equal(t, engine.InstanceCompleted, inst.Status)
	}
	assert.Equal(t, int32(15), h.count("work"))
	assert.Len(t, h.engine.ProcessQueryService().List(), 5)
}

func TestMissingComponentFailsInstance(t *testing.T) {
	boom := errors.New("cannot resolve")
	h := newHarness(t, map[string]any{})
	h.engine.accessor = engine.InstanceAccessorFunc(func(string) (any, error) { return nil, boom })
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	inst, err := h.engine.ProcessCommandService().Start(context.Background(), "order", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, inst)
	assert.Equal(t, engine.InstanceFailed, inst.Status)
	assert.Contains(t, inst.Error, "check")
}

func TestNonDelegationComponentFails(t *testing.T) {
	h := newHarness(t, map[string]any{"orders.Checker": "not a delegation"})
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	_, err = h.engine.ProcessCommandService().Start(context.Background(), "order", "", nil)
	assert.Error(t, err)
}

func TestAbortStopsWaitingInstance(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.RepositoryCommandService().Deploy(strings.NewReader(orderXML))
	require.NoError(t, err)
	inst, err := h.engine.ProcessCommandService().Start(context.Background(), "order", "", map[string]any{"amount": 101})
	require.NoError(t, err)
	require.NoError(t, h.engine.ProcessCommandService().Abort(context.Background(), inst.ID))
	active, err := h.engine.ExecutionQueryService().FindActive(inst.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.ErrorIs(t, h.engine.ProcessCommandService().Abort(context.Background(), inst.ID), engine.ErrNotActive)
}

func TestWithClockStampsInstances(t *testing.T) {
	fixed := time.Unix(1730000000, 0).UTC()
	e := New(WithClock(func() time.Time { return fixed }))
	assert.Equal(t, fixed, e.now())
}
