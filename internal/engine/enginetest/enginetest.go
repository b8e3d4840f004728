// Package enginetest provides recording fakes of the engine contracts.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

// Repository records every document handed to Deploy. Documents containing
// FailMarker are rejected.
type Repository struct {
	FailMarker string

	mu       sync.Mutex
	deployed []string
}

// Deploy reads the whole stream and records it.
func (r *Repository) Deploy(in io.Reader) (*definition.ProcessDefinition, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	body := string(data)
	if r.FailMarker != "" && strings.Contains(body, r.FailMarker) {
		return nil, fmt.Errorf("enginetest: rejected document")
	}
	r.mu.Lock()
	r.deployed = append(r.deployed, body)
	r.mu.Unlock()
	return &definition.ProcessDefinition{ID: fmt.Sprintf("doc-%d", r.Count()), Version: definition.DefaultVersion}, nil
}

// Deployed returns the recorded documents in call order.
func (r *Repository) Deployed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deployed...)
}

// Count returns the number of successful deploy calls.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deployed)
}

// Engine is a fake engine whose services are plain values. Only the
// repository command service records calls.
type Engine struct {
	Repo    *Repository
	InitErr error

	mu     sync.Mutex
	inits  int
	config *engine.Configuration
}

// New returns a fake engine with an empty repository.
func New() *Engine {
	return &Engine{Repo: &Repository{}}
}

// Init records cfg.
func (e *Engine) Init(cfg *engine.Configuration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	if e.InitErr != nil {
		return e.InitErr
	}
	e.config = cfg.Clone()
	return nil
}

// Inits returns how many times Init was called.
func (e *Engine) Inits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits
}

// Config returns the configuration seen at Init.
func (e *Engine) Config() *engine.Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func (e *Engine) RepositoryCommandService() engine.RepositoryCommandService { return e.Repo }
func (e *Engine) RepositoryQueryService() engine.RepositoryQueryService     { return definitions{} }
func (e *Engine) ProcessCommandService() engine.ProcessCommandService       { return commands{} }
func (e *Engine) ProcessQueryService() engine.ProcessQueryService           { return instances{} }
func (e *Engine) ExecutionCommandService() engine.ExecutionCommandService   { return commands{} }
func (e *Engine) ExecutionQueryService() engine.ExecutionQueryService       { return executions{} }

type commands struct{}

func (commands) Start(context.Context, string, string, map[string]any) (*engine.ProcessInstance, error) {
	return nil, engine.ErrNotFound
}

func (commands) Abort(context.Context, string) error { return engine.ErrNotFound }

func (commands) Signal(context.Context, string, map[string]any) (*engine.ProcessInstance, error) {
	return nil, engine.ErrNotFound
}

type definitions struct{}

func (definitions) Find(string, string) (*definition.ProcessDefinition, error) {
	return nil, engine.ErrNotFound
}

func (definitions) List() []*definition.ProcessDefinition { return nil }

type instances struct{}

func (instances) Find(string) (*engine.ProcessInstance, error) { return nil, engine.ErrNotFound }
func (instances) List() []*engine.ProcessInstance              { return nil }

type executions struct{}

func (executions) Find(string) (*engine.Execution, error)         { return nil, engine.ErrNotFound }
func (executions) FindActive(string) ([]*engine.Execution, error) { return nil, nil }
func (executions) List(string) ([]*engine.Execution, error)       { return nil, nil }
