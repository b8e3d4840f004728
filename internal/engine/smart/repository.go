package smart

import (
	"fmt"
	"io"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/engine/definition"
)

type repositoryCommand struct{ e *Engine }

// Deploy parses and stores a definition. Deploying an existing id and
// version replaces the stored copy.
func (s repositoryCommand) Deploy(r io.Reader) (*definition.ProcessDefinition, error) {
	if err := s.e.ready(); err != nil {
		return nil, err
	}
	def, err := definition.Parse(r)
	if err != nil {
		return nil, err
	}
	key := def.Key()
	s.e.mu.Lock()
	if _, exists := s.e.definitions[key]; !exists {
		s.e.deployOrder = append(s.e.deployOrder, key)
	}
	s.e.definitions[key] = def
	s.e.latest[def.ID] = def.Version
	s.e.mu.Unlock()
	s.e.logger.WithField("definition", key).Info("definition deployed")
	return def.Clone(), nil
}

type repositoryQuery struct{ e *Engine }

func (s repositoryQuery) Find(id, version string) (*definition.ProcessDefinition, error) {
	def, err := s.e.lookupDefinition(id, version)
	if err != nil {
		return nil, err
	}
	return def.Clone(), nil
}

// List returns every deployed definition in deployment order.
func (s repositoryQuery) List() []*definition.ProcessDefinition {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	out := make([]*definition.ProcessDefinition, 0, len(s.e.deployOrder))
	for _, key := range s.e.deployOrder {
		out = append(out, s.e.definitions[key].Clone())
	}
	return out
}

func (e *Engine) lookupDefinition(id, version string) (*definition.ProcessDefinition, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if version == "" {
		latest, ok := e.latest[id]
		if !ok {
			return nil, fmt.Errorf("smart engine: definition %s: %w", id, engine.ErrNotFound)
		}
		version = latest
	}
	def, ok := e.definitions[definition.Key(id, version)]
	if !ok {
		return nil, fmt.Errorf("smart engine: definition %s: %w", definition.Key(id, version), engine.ErrNotFound)
	}
	return def, nil
}
