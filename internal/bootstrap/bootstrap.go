package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/config"
	"github.com/kingrea/orchestra/internal/deployer"
	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
	"github.com/kingrea/orchestra/internal/pool"
	"github.com/kingrea/orchestra/internal/resolver"
)

// State is a bootstrap lifecycle state.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateInitialized  State = "initialized"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

var allStates = []string{
	string(StateUnconfigured),
	string(StateConfigured),
	string(StateInitialized),
	string(StateReady),
	string(StateFailed),
}

// Host is the container the engine is bootstrapped into.
type Host interface {
	resolver.Host
	Property(key, def string) string
}

// Bootstrapper builds exactly one engine and exposes its services.
type Bootstrapper struct {
	host    Host
	factory engine.Factory
	types   resolver.TypeLoader
	roots   []deployer.Root
	pattern string
	logger  logrus.FieldLogger
	metrics *metrics.Set

	once   sync.Once
	engine engine.Engine
	err    error

	mu       sync.RWMutex
	state    State
	pool     *pool.Pool
	poolSize int
	deploy   bool
	report   deployer.Report
}

// Option customizes a bootstrapper.
type Option func(*Bootstrapper)

// WithLogger overrides the default discard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bootstrapper) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics exports pool, deployment and state metrics.
func WithMetrics(m *metrics.Set) Option {
	return func(b *Bootstrapper) {
		b.metrics = m
	}
}

// WithTypes sets the type loader used by the resolver bridge.
func WithTypes(types resolver.TypeLoader) Option {
	return func(b *Bootstrapper) {
		if types != nil {
			b.types = types
		}
	}
}

// WithRoots adds resource roots scanned after the configured locations,
// typically an embed.FS.
func WithRoots(roots ...deployer.Root) Option {
	return func(b *Bootstrapper) {
		b.roots = append(b.roots, roots...)
	}
}

// WithPattern overrides deployer.DefaultPattern.
func WithPattern(pattern string) Option {
	return func(b *Bootstrapper) {
		b.pattern = pattern
	}
}

// New prepares a bootstrapper. Nothing is built until the first call to
// Engine or one of the service accessors.
func New(host Host, factory engine.Factory, opts ...Option) (*Bootstrapper, error) {
	if host == nil {
		return nil, fmt.Errorf("bootstrap: host container is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("bootstrap: engine factory is required")
	}
	b := &Bootstrapper{
		host:    host,
		factory: factory,
		types:   resolver.NewTypeRegistry(),
		pattern: deployer.DefaultPattern,
		logger:  logging.Discard(),
		state:   StateUnconfigured,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if err := deployer.ValidatePattern(b.pattern); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	b.metrics.BootstrapState(string(StateUnconfigured), allStates)
	return b, nil
}

// Engine returns the engine, building it on first call. Every caller sees
// the same engine or the same error; a failed bootstrap is not retried.
func (b *Bootstrapper) Engine(ctx context.Context) (engine.Engine, error) {
	b.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		// The engine is shared by every caller, so the first caller's
		// cancellation must not fail the build.
		b.engine, b.err = b.build(context.WithoutCancel(ctx))
		if b.err != nil {
			b.setState(StateFailed)
			b.logger.WithError(b.err).Error("engine bootstrap failed")
		}
	})
	return b.engine, b.err
}

func (b *Bootstrapper) build(ctx context.Context) (engine.Engine, error) {
	cfg, err := b.configure()
	if err != nil {
		return nil, err
	}
	b.setState(StateConfigured)

	eng, err := b.factory()
	if err == nil && eng == nil {
		err = errors.New("engine factory returned nil")
	}
	if err == nil {
		err = eng.Init(cfg)
	}
	if err != nil {
		b.stopPool()
		return nil, &InitError{Phase: "init", Err: err}
	}
	b.setState(StateInitialized)

	b.mu.RLock()
	deploy := b.deploy
	b.mu.RUnlock()
	if !deploy {
		b.logger.Info("deployment of local process definitions disabled")
		b.setState(StateReady)
		return eng, nil
	}
	report, err := b.deployDefinitions(ctx, eng)
	if err != nil {
		b.stopPool()
		return nil, &InitError{Phase: "deploy", Err: err}
	}
	b.mu.Lock()
	b.report = report
	b.mu.Unlock()
	b.setState(StateReady)
	b.logger.WithField("definitions", len(report.Definitions)).Info("engine ready")
	return eng, nil
}

// configure reads every property and assembles the engine configuration.
// Nothing here touches the engine.
func (b *Bootstrapper) configure() (*engine.Configuration, error) {
	rawSize := b.host.Property(config.KeyExecutorNum, config.DefaultExecutorNum)
	size, err := pool.ParseSize(rawSize)
	if err != nil {
		return nil, &ConfigError{Key: config.KeyExecutorNum, Value: rawSize, Err: err}
	}
	rawDeploy := b.host.Property(config.KeyDeployLocal, config.DefaultDeployLocal)
	// Only "true", in any case, enables deployment; anything else disables it.
	deploy := strings.EqualFold(strings.TrimSpace(rawDeploy), "true")
	rawPolicy := b.host.Property(config.KeyResolverPolicy, "type-only")
	policy, err := resolver.ParsePolicy(rawPolicy)
	if err != nil {
		return nil, &ConfigError{Key: config.KeyResolverPolicy, Value: rawPolicy, Err: err}
	}
	b.logger.WithField("pool_size", size).Infof("fork/join pool size %d (set %s to change)", size, config.KeyExecutorNum)
	b.logger.WithField("deploy", deploy).Infof("deploy local process definitions: %t (set %s to change)", deploy, config.KeyDeployLocal)

	bridge, err := resolver.New(b.host, b.types,
		resolver.WithPolicy(policy),
		resolver.WithLogger(b.logger.WithField("component", "resolver")))
	if err != nil {
		return nil, err
	}
	workers, err := pool.New(size,
		pool.WithLogger(b.logger.WithField("component", "pool")),
		pool.WithMetrics(b.metrics))
	if err != nil {
		return nil, &ConfigError{Key: config.KeyExecutorNum, Value: rawSize, Err: err}
	}
	b.mu.Lock()
	b.pool = workers
	b.poolSize = size
	b.deploy = deploy
	b.mu.Unlock()

	cfg := engine.NewConfiguration()
	cfg.Executor = workers
	cfg.InstanceAccessor = bridge
	cfg.Options.Enable(engine.OptionServiceOrchestration)
	cfg.Logger = b.logger.WithField("component", "engine")
	cfg.Metrics = b.metrics
	return cfg, nil
}

func (b *Bootstrapper) deployDefinitions(ctx context.Context, eng engine.Engine) (deployer.Report, error) {
	locations := config.SplitList(b.host.Property(config.KeyResourceRoots, config.Defaults[config.KeyResourceRoots]))
	roots, err := deployer.OpenRoots(locations)
	if err != nil {
		return deployer.Report{}, err
	}
	// NewScanner owns the roots from here on, including on failure.
	scanner, err := deployer.NewScanner(b.pattern, append(roots, b.roots...)...)
	if err != nil {
		return deployer.Report{}, err
	}
	defer scanner.Close()
	d, err := deployer.New(scanner,
		deployer.WithLogger(b.logger.WithField("component", "deployer")),
		deployer.WithMetrics(b.metrics))
	if err != nil {
		return deployer.Report{}, err
	}
	return d.Deploy(ctx, eng.RepositoryCommandService())
}

func (b *Bootstrapper) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.metrics.BootstrapState(string(s), allStates)
	b.logger.WithField("state", s).Debug("bootstrap state changed")
}

func (b *Bootstrapper) stopPool() {
	b.mu.Lock()
	p := b.pool
	b.pool = nil
	b.mu.Unlock()
	if p != nil {
		p.Shutdown()
	}
}

// State reports the current lifecycle state.
func (b *Bootstrapper) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Err returns the bootstrap failure, if any.
func (b *Bootstrapper) Err() error {
	if b.State() != StateFailed {
		return nil
	}
	return b.err
}

// Report returns what the startup deployment pass deployed.
func (b *Bootstrapper) Report() deployer.Report {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.report
}

// PoolSize returns the configured worker count, or 0 before configuration.
func (b *Bootstrapper) PoolSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.poolSize
}

// Close stops the worker pool after queued branches finish.
func (b *Bootstrapper) Close() error {
	b.mu.Lock()
	p := b.pool
	b.pool = nil
	b.mu.Unlock()
	if p != nil {
		p.Shutdown()
		p.Wait()
	}
	return nil
}

// RepositoryCommandService returns the engine's repository command service.
func (b *Bootstrapper) RepositoryCommandService(ctx context.Context) (engine.RepositoryCommandService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.RepositoryCommandService(), nil
}

// ProcessCommandService returns the engine's process command service.
func (b *Bootstrapper) ProcessCommandService(ctx context.Context) (engine.ProcessCommandService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.ProcessCommandService(), nil
}

// ExecutionCommandService returns the engine's execution command service.
func (b *Bootstrapper) ExecutionCommandService(ctx context.Context) (engine.ExecutionCommandService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.ExecutionCommandService(), nil
}

// RepositoryQueryService returns the engine's repository query service.
func (b *Bootstrapper) RepositoryQueryService(ctx context.Context) (engine.RepositoryQueryService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.RepositoryQueryService(), nil
}

// ProcessQueryService returns the engine's process query service.
func (b *Bootstrapper) ProcessQueryService(ctx context.Context) (engine.ProcessQueryService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.ProcessQueryService(), nil
}

// ExecutionQueryService returns the engine's execution query service.
func (b *Bootstrapper) ExecutionQueryService(ctx context.Context) (engine.ExecutionQueryService, error) {
	eng, err := b.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.ExecutionQueryService(), nil
}
