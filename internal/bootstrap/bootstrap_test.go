package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/orchestra/internal/config"
	"github.com/kingrea/orchestra/internal/container"
	"github.com/kingrea/orchestra/internal/deployer"
	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/enginetest"
	"github.com/kingrea/orchestra/internal/engine/smart"
	"github.com/kingrea/orchestra/internal/pool"
	"github.com/kingrea/orchestra/internal/resolver"
)

const greetXML = `<definitions xmlns:smart="http://smartengine.org/schema/process" id="%s" version="1">
  <process>
    <startEvent id="s"/>
    <sequenceFlow id="f1" sourceRef="s" targetRef="greet"/>
    <serviceTask id="greet" smart:class="demo.Greeter"/>
    <sequenceFlow id="f2" sourceRef="greet" targetRef="e"/>
    <endEvent id="e"/>
  </process>
</definitions>`

type greeter struct{}

func (greeter) Execute(_ context.Context, ec *engine.ExecutionContext) error {
	ec.Vars.Set("greeting", "hello")
	return nil
}

func definitionsRoot(docs ...string) deployer.Root {
	fsys := fstest.MapFS{}
	for i, doc := range docs {
		fsys[fmt.Sprintf("service-orchestration/%02d.xml", i)] = &fstest.MapFile{Data: []byte(doc)}
	}
	return deployer.FSRoot("test", fsys)
}

func hostWith(t *testing.T, props map[string]string) *container.Container {
	t.Helper()
	merged := map[string]string{config.KeyResourceRoots: t.TempDir()}
	for k, v := range props {
		merged[k] = v
	}
	return container.New(config.FromMap(merged))
}

type countingFactory struct {
	calls  int32
	engine engine.Engine
}

func (f *countingFactory) factory() (engine.Engine, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.engine, nil
}

func newFake(t *testing.T, props map[string]string, opts ...Option) (*Bootstrapper, *enginetest.Engine, *countingFactory) {
	t.Helper()
	fake := enginetest.New()
	fake.Repo.FailMarker = "MALFORMED"
	cf := &countingFactory{engine: fake}
	b, err := New(hostWith(t, props), cf.factory, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, fake, cf
}

func TestInvalidPoolSizeFailsBeforeEngineInit(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-2", ""} {
		b, fake, cf := newFake(t, map[string]string{config.KeyExecutorNum: raw})
		_, err := b.Engine(context.Background())
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr), "value %q: %v", raw, err)
		assert.Equal(t, config.KeyExecutorNum, cfgErr.Key)
		assert.ErrorIs(t, err, pool.ErrInvalidSize)
		assert.Equal(t, int32(0), atomic.LoadInt32(&cf.calls))
		assert.Equal(t, 0, fake.Inits())
		assert.Equal(t, StateFailed, b.State())
		assert.Equal(t, err, b.Err())
	}
}

func TestDefaultsApplyWhenPropertiesMissing(t *testing.T) {
	host := container.New(config.FromMap(map[string]string{config.KeyResourceRoots: t.TempDir()}).
		Without(config.KeyExecutorNum).
		Without(config.KeyDeployLocal))
	fake := enginetest.New()
	b, err := New(host, func() (engine.Engine, error) { return fake, nil }, WithRoots(definitionsRoot("a")))
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Engine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, b.PoolSize())
	assert.Equal(t, 1, fake.Repo.Count(), "deployment is on by default")
}

func TestOnlyTrueEnablesDeployment(t *testing.T) {
	for raw, want := range map[string]int{
		"true":   1,
		" TRUE ": 1,
		"True":   1,
		"no":     0,
		"off":    0,
		"1":      0,
		"t":      0,
		"maybe":  0,
	} {
		b, fake, cf := newFake(t, map[string]string{config.KeyDeployLocal: raw}, WithRoots(definitionsRoot("one")))
		_, err := b.Engine(context.Background())
		require.NoError(t, err, "value %q", raw)
		assert.Equal(t, StateReady, b.State(), "value %q", raw)
		assert.Equal(t, want, fake.Repo.Count(), "value %q", raw)
		assert.Equal(t, int32(1), atomic.LoadInt32(&cf.calls))
	}
}

func TestCancelledFirstCallerDoesNotFailEngine(t *testing.T) {
	b, fake, _ := newFake(t, nil, WithRoots(definitionsRoot("one", "two")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo, err := b.RepositoryQueryService(ctx)
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, StateReady, b.State())

	_, err = b.RepositoryQueryService(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, fake.Repo.Deployed())
}

func TestDeploysEveryDefinitionThenReady(t *testing.T) {
	b, fake, _ := newFake(t, nil, WithRoots(definitionsRoot("one", "two", "three")))
	eng, err := b.Engine(context.Background())
	require.NoError(t, err)
	assert.Same(t, fake, eng)
	assert.Equal(t, []string{"one", "two", "three"}, fake.Repo.Deployed())
	assert.Equal(t, StateReady, b.State())
	assert.Len(t, b.Report().Resources, 3)

	cfg := fake.Config()
	require.NotNil(t, cfg)
	assert.True(t, cfg.Options.Enabled(engine.OptionServiceOrchestration))
	assert.NotNil(t, cfg.Executor)
	assert.IsType(t, &resolver.Bridge{}, cfg.InstanceAccessor)
}

func TestMalformedDefinitionIsFatal(t *testing.T) {
	b, fake, _ := newFake(t, nil, WithRoots(definitionsRoot("one", "MALFORMED", "three")))
	eng, err := b.Engine(context.Background())
	assert.Nil(t, eng)
	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "deploy", initErr.Phase)
	var depErr *deployer.Error
	require.True(t, errors.As(err, &depErr))
	assert.True(t, strings.HasSuffix(depErr.Resource, "01.xml"))
	assert.Equal(t, []string{"one"}, fake.Repo.Deployed())
	assert.Equal(t, StateFailed, b.State())

	svc, err := b.ProcessQueryService(context.Background())
	assert.Nil(t, svc)
	assert.Error(t, err)
}

func TestLocationFalseSkipsDeployment(t *testing.T) {
	b, fake, _ := newFake(t, map[string]string{config.KeyDeployLocal: "false"},
		WithRoots(definitionsRoot("one", "MALFORMED")))
	_, err := b.Engine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, 0, fake.Repo.Count())
	assert.Empty(t, b.Report().Resources)
}

func TestInitFailureIsInitError(t *testing.T) {
	b, fake, _ := newFake(t, nil)
	fake.InitErr = errors.New("engine refused")
	_, err := b.Engine(context.Background())
	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "init", initErr.Phase)
	assert.Equal(t, StateFailed, b.State())
}

func TestEngineIsConstructedOnce(t *testing.T) {
	b, _, cf := newFake(t, nil)
	var wg sync.WaitGroup
	engines := make([]engine.Engine, 16)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eng, err := b.Engine(context.Background())
			assert.NoError(t, err)
			engines[i] = eng
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cf.calls))
	for _, eng := range engines[1:] {
		assert.Same(t, engines[0], eng)
	}
}

func TestAccessorsShareOneEngine(t *testing.T) {
	types := resolver.NewTypeRegistry()
	types.MustRegister("demo.Greeter", greeter{})
	host := hostWith(t, map[string]string{config.KeyDeployLocal: "false"})
	require.NoError(t, host.Register("greeter", greeter{}))
	b, err := New(host, smart.Factory(), WithTypes(types))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	repoCmd, err := b.RepositoryCommandService(ctx)
	require.NoError(t, err)
	_, err = repoCmd.Deploy(strings.NewReader(fmt.Sprintf(greetXML, "greet")))
	require.NoError(t, err)

	repoQuery, err := b.RepositoryQueryService(ctx)
	require.NoError(t, err)
	def, err := repoQuery.Find("greet", "")
	require.NoError(t, err)
	assert.Equal(t, "greet", def.ID)

	procCmd, err := b.ProcessCommandService(ctx)
	require.NoError(t, err)
	inst, err := procCmd.Start(ctx, "greet", "", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.InstanceCompleted, inst.Status)
	assert.Equal(t, "hello", inst.Variables["greeting"])

	procQuery, err := b.ProcessQueryService(ctx)
	require.NoError(t, err)
	found, err := procQuery.Find(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, found.ID)

	execQuery, err := b.ExecutionQueryService(ctx)
	require.NoError(t, err)
	execs, err := execQuery.List(inst.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	execCmd, err := b.ExecutionCommandService(ctx)
	require.NoError(t, err)
	_, err = execCmd.Signal(ctx, "missing", nil)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUnknownClassSurfacesResolutionError(t *testing.T) {
	host := hostWith(t, map[string]string{config.KeyDeployLocal: "true"})
	b, err := New(host, smart.Factory(), WithRoots(definitionsRoot(fmt.Sprintf(greetXML, "greet"))))
	require.NoError(t, err)
	defer b.Close()
	procCmd, err := b.ProcessCommandService(context.Background())
	require.NoError(t, err)
	_, err = procCmd.Start(context.Background(), "greet", "", nil)
	var resErr *resolver.ResolutionError
	require.True(t, errors.As(err, &resErr), "got %v", err)
	assert.Equal(t, "demo.Greeter", resErr.Name)
}

func TestBindRegistersServicesAndSkipsExisting(t *testing.T) {
	host := hostWith(t, map[string]string{config.KeyDeployLocal: "false"})
	custom := enginetest.New()
	require.NoError(t, host.Register(RepositoryQueryServiceName, custom.RepositoryQueryService()))
	b, err := New(host, smart.Factory())
	require.NoError(t, err)
	defer b.Close()

	bound, err := b.Bind(host)
	require.NoError(t, err)
	assert.Len(t, bound, 6)
	assert.NotContains(t, bound, RepositoryQueryServiceName)
	assert.Equal(t, StateUnconfigured, b.State(), "binding is lazy")

	svc, err := host.ResolveByName(ProcessCommandServiceName)
	require.NoError(t, err)
	_, ok := svc.(engine.ProcessCommandService)
	assert.True(t, ok)
	assert.Equal(t, StateReady, b.State())

	byType, err := host.ResolveByType(reflect.TypeOf((*engine.ExecutionQueryService)(nil)).Elem())
	require.NoError(t, err)
	assert.NotNil(t, byType)
	eng, err := host.ResolveByName(EngineName)
	require.NoError(t, err)
	own, err := b.Engine(context.Background())
	require.NoError(t, err)
	assert.Same(t, own, eng)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, smart.Factory())
	assert.Error(t, err)
	_, err = New(hostWith(t, nil), nil)
	assert.Error(t, err)
	_, err = New(hostWith(t, nil), smart.Factory(), WithPattern("["))
	assert.Error(t, err)
}
