package bootstrap

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kingrea/orchestra/internal/container"
	"github.com/kingrea/orchestra/internal/engine"
)

// Component names the engine and its services are registered under.
const (
	EngineName                   = "smartEngine"
	RepositoryCommandServiceName = "repositoryCommandService"
	ProcessCommandServiceName    = "processCommandService"
	ExecutionCommandServiceName  = "executionCommandService"
	RepositoryQueryServiceName   = "repositoryQueryService"
	ProcessQueryServiceName      = "processQueryService"
	ExecutionQueryServiceName    = "executionQueryService"
)

type binding struct {
	name    string
	typ     reflect.Type
	service func(engine.Engine) any
}

var bindings = []binding{
	{EngineName, reflect.TypeOf((*engine.Engine)(nil)).Elem(), func(e engine.Engine) any { return e }},
	{RepositoryCommandServiceName, reflect.TypeOf((*engine.RepositoryCommandService)(nil)).Elem(), func(e engine.Engine) any { return e.RepositoryCommandService() }},
	{ProcessCommandServiceName, reflect.TypeOf((*engine.ProcessCommandService)(nil)).Elem(), func(e engine.Engine) any { return e.ProcessCommandService() }},
	{ExecutionCommandServiceName, reflect.TypeOf((*engine.ExecutionCommandService)(nil)).Elem(), func(e engine.Engine) any { return e.ExecutionCommandService() }},
	{RepositoryQueryServiceName, reflect.TypeOf((*engine.RepositoryQueryService)(nil)).Elem(), func(e engine.Engine) any { return e.RepositoryQueryService() }},
	{ProcessQueryServiceName, reflect.TypeOf((*engine.ProcessQueryService)(nil)).Elem(), func(e engine.Engine) any { return e.ProcessQueryService() }},
	{ExecutionQueryServiceName, reflect.TypeOf((*engine.ExecutionQueryService)(nil)).Elem(), func(e engine.Engine) any { return e.ExecutionQueryService() }},
}

// Bind registers the engine and its six services in c as lazy singletons.
// Names the host already provides are left alone. It returns the names it
// registered.
func (b *Bootstrapper) Bind(c *container.Container) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("bootstrap: container is required")
	}
	var bound []string
	for _, bd := range bindings {
		if c.Has(bd.name) {
			b.logger.WithField("name", bd.name).Debug("component already provided, skipping")
			continue
		}
		bd := bd
		err := c.Provide(bd.name, bd.typ, func(*container.Container) (any, error) {
			eng, err := b.Engine(context.Background())
			if err != nil {
				return nil, err
			}
			return bd.service(eng), nil
		})
		if err != nil {
			return bound, fmt.Errorf("bootstrap: bind %s: %w", bd.name, err)
		}
		bound = append(bound, bd.name)
	}
	return bound, nil
}
