package pool

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/logging"
	"github.com/kingrea/orchestra/internal/metrics"
)

var (
	// ErrInvalidSize reports a worker count that is not a positive integer.
	ErrInvalidSize = errors.New("pool: size must be a positive integer")
	// ErrShutdown is returned by Submit once Shutdown was called.
	ErrShutdown = errors.New("pool: shut down")
)

// Executor is the task sink handed to the engine for parallel branches.
type Executor interface {
	Submit(task func()) error
}

// Pool runs tasks on a fixed set of workers fed by an unbounded FIFO queue.
// Submit never blocks.
type Pool struct {
	size    int
	logger  logrus.FieldLogger
	metrics *metrics.Set

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	active   int
	shutdown bool
	done     sync.WaitGroup
}

// Option customizes a pool.
type Option func(*Pool)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records queue depth, busy workers and task outcomes.
func WithMetrics(m *metrics.Set) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// ParseSize converts the raw worker-count property.
func ParseSize(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	return n, nil
}

// New starts n workers.
func New(n int, opts ...Option) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	p := &Pool{size: n}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.metrics.PoolWorkers(n)
	p.done.Add(n)
	for i := 0; i < n; i++ {
		go p.work(i)
	}
	return p, nil
}

// Submit enqueues task.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("pool: task is nil")
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.queue = append(p.queue, task)
	depth := len(p.queue)
	p.mu.Unlock()
	p.metrics.PoolQueueDepth(depth)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks. Queued tasks still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every worker exited after Shutdown.
func (p *Pool) Wait() {
	p.done.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Active returns the number of workers running a task.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) work(id int) {
	defer p.done.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		depth, busy := len(p.queue), p.active
		p.mu.Unlock()
		p.metrics.PoolQueueDepth(depth)
		p.metrics.PoolBusy(busy)

		outcome := p.run(id, task)

		p.mu.Lock()
		p.active--
		busy = p.active
		p.mu.Unlock()
		p.metrics.PoolBusy(busy)
		p.metrics.PoolTaskDone(outcome)
	}
}

func (p *Pool) run(id int, task func()) (outcome string) {
	outcome = "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			p.logger.WithField("worker", id).Errorf("pool: task panicked: %v", r)
		}
	}()
	task()
	return outcome
}
