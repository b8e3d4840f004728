package cmd

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/examples"
	"github.com/kingrea/orchestra/internal/bootstrap"
	"github.com/kingrea/orchestra/internal/config"
	"github.com/kingrea/orchestra/internal/container"
	"github.com/kingrea/orchestra/internal/engine/smart"
	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
	"github.com/kingrea/orchestra/internal/resolver"
	"github.com/kingrea/orchestra/plugins"
)

// runtime is the fully wired host: properties, logger, container, metrics
// and the bootstrapper with its services bound into the container.
type runtime struct {
	props   config.Snapshot
	logger  *logging.Logger
	host    *container.Container
	metrics *metrics.Set
	boot    *bootstrap.Bootstrapper
}

// newRuntime wires the host. logOut replaces stderr as the console log
// writer; the inspector passes io.Discard so lines do not tear the screen.
func newRuntime(logOut io.Writer) (*runtime, error) {
	props, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := logging.OptionsFromConfig(props)
	opts.Out = logOut
	logger, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		props:   props,
		logger:  logger,
		host:    container.New(props),
		metrics: metrics.New(),
	}
	if err := rt.wire(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire() error {
	types := resolver.NewTypeRegistry()
	bootOpts := []bootstrap.Option{
		bootstrap.WithLogger(rt.logger.WithField("component", "bootstrap")),
		bootstrap.WithMetrics(rt.metrics),
		bootstrap.WithTypes(types),
	}
	if demo {
		if err := examples.Register(rt.host, types, rt.logger.WithField("component", "examples")); err != nil {
			return err
		}
		bootOpts = append(bootOpts, bootstrap.WithRoots(examples.Root()))
	}

	dir := rt.props.Get(config.KeyPluginsDir, config.Defaults[config.KeyPluginsDir])
	scripts, err := plugins.RegisterScripts(rt.host, dir)
	if err != nil {
		return err
	}
	if len(scripts) > 0 {
		rt.logger.WithFields(logrus.Fields{"dir": dir, "scripts": len(scripts)}).Info("script components loaded")
		if policy, _ := resolver.ParsePolicy(rt.props.Get(config.KeyResolverPolicy, "")); policy != resolver.PolicyTypeThenName {
			rt.logger.Warnf("scripts are resolved by component name; set %s=%s to reach them", config.KeyResolverPolicy, resolver.PolicyTypeThenName)
		}
	}

	boot, err := bootstrap.New(rt.host, smart.Factory(), bootOpts...)
	if err != nil {
		return err
	}
	rt.boot = boot
	bound, err := boot.Bind(rt.host)
	if err != nil {
		return err
	}
	rt.logger.WithField("services", bound).Debug("engine services bound")
	return nil
}

// Close stops the worker pool and releases the log file.
func (rt *runtime) Close() error {
	var errs []error
	if rt.boot != nil {
		errs = append(errs, rt.boot.Close())
	}
	errs = append(errs, rt.logger.Close())
	return errors.Join(errs...)
}
