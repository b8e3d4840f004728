// Package smart is the in-memory reference implementation of engine.Engine.
// Definitions drive calls to container components; parallel branches run on
// the configured executor.
package smart

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
)

// Engine keeps definitions, instances and executions in memory.
type Engine struct {
	clock func() time.Time
	newID func() string

	mu          sync.RWMutex
	initialized bool
	executor    engine.Executor
	accessor    engine.InstanceAccessor
	options     engine.OptionSet
	logger      logrus.FieldLogger
	metrics     *metrics.Set

	definitions map[string]*definition.ProcessDefinition
	deployOrder []string
	latest      map[string]string
	instances   map[string]*instance
	instOrder   []string
	executions  map[string]*engine.Execution
	execOrder   []string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator replaces the uuid based identifier source.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New returns an engine awaiting Init.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		logger:      logging.Discard(),
		definitions: map[string]*definition.ProcessDefinition{},
		latest:      map[string]string{},
		instances:   map[string]*instance{},
		executions:  map[string]*engine.Execution{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Factory adapts New to engine.Factory.
func Factory(opts ...Option) engine.Factory {
	return func() (engine.Engine, error) {
		return New(opts...), nil
	}
}

// Init copies what the engine needs out of cfg. Later changes to cfg have no
// effect.
func (e *Engine) Init(cfg *engine.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Options.Enabled(engine.OptionServiceOrchestration) {
		return fmt.Errorf("smart engine: option %s must be enabled", engine.OptionServiceOrchestration)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return fmt.Errorf("smart engine: already initialized")
	}
	copied := cfg.Clone()
	e.executor = copied.Executor
	e.accessor = copied.InstanceAccessor
	e.options = copied.Options
	if copied.Logger != nil {
		e.logger = copied.Logger
	}
	e.metrics = copied.Metrics
	e.initialized = true
	return nil
}

// Initialized reports whether Init succeeded.
func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

func (e *Engine) ready() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return engine.ErrNotInitialized
	}
	return nil
}

func (e *Engine) RepositoryCommandService() engine.RepositoryCommandService {
	return repositoryCommand{e}
}

func (e *Engine) RepositoryQueryService() engine.RepositoryQueryService {
	return repositoryQuery{e}
}

func (e *Engine) ProcessCommandService() engine.ProcessCommandService {
	return processCommand{e}
}

func (e *Engine) ProcessQueryService() engine.ProcessQueryService {
	return processQuery{e}
}

func (e *Engine) ExecutionCommandService() engine.ExecutionCommandService {
	return executionCommand{e}
}

func (e *Engine) ExecutionQueryService() engine.ExecutionQueryService {
	return executionQuery{e}
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}
