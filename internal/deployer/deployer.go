package deployer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/engine"
	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
)

// Error reports the resource and step that aborted a deployment pass.
type Error struct {
	Resource string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deployer: %s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Report lists what a pass deployed, in order.
type Report struct {
	Resources   []string
	Definitions []string
}

// Deployer hands every resource found by a Scanner to the engine repository.
type Deployer struct {
	scanner *Scanner
	logger  logrus.FieldLogger
	metrics *metrics.Set
}

// Option customizes a deployer.
type Option func(*Deployer)

// WithLogger overrides the default discard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Deployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics counts deployment results.
func WithMetrics(m *metrics.Set) Option {
	return func(d *Deployer) {
		d.metrics = m
	}
}

// New returns a deployer over scanner.
func New(scanner *Scanner, opts ...Option) (*Deployer, error) {
	if scanner == nil {
		return nil, fmt.Errorf("deployer: scanner is required")
	}
	d := &Deployer{scanner: scanner, logger: logging.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Deploy runs one sequential pass. The first failure aborts the pass; no
// resource is retried. Finding nothing is not an error.
func (d *Deployer) Deploy(ctx context.Context, target engine.RepositoryCommandService) (Report, error) {
	if target == nil {
		return Report{}, fmt.Errorf("deployer: repository service is required")
	}
	resources, err := d.scanner.Scan()
	if err != nil {
		return Report{}, err
	}
	if len(resources) == 0 {
		d.logger.WithField("pattern", d.scanner.Pattern()).Info("no process definitions found")
		return Report{}, nil
	}
	var report Report
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			return report, &Error{Resource: res.Name, Op: "deploy", Err: err}
		}
		key, err := d.deployOne(res, target)
		if err != nil {
			d.metrics.Deployed("error")
			return report, err
		}
		d.metrics.Deployed("ok")
		report.Resources = append(report.Resources, res.Name)
		report.Definitions = append(report.Definitions, key)
		d.logger.WithField("resource", res.Name).WithField("definition", key).Info("process definition deployed")
	}
	return report, nil
}

// deployOne releases the stream on every path. A close failure is logged
// and never replaces the deploy result.
func (d *Deployer) deployOne(res Resource, target engine.RepositoryCommandService) (string, error) {
	stream, err := res.Open()
	if err != nil {
		return "", &Error{Resource: res.Name, Op: "open", Err: err}
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			d.logger.WithField("resource", res.Name).WithError(cerr).Warn("close definition stream")
		}
	}()
	def, err := target.Deploy(stream)
	if err != nil {
		return "", &Error{Resource: res.Name, Op: "deploy", Err: err}
	}
	if def == nil {
		return "", nil
	}
	return def.Key(), nil
}
