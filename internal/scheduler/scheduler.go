package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/devicecache"
	"github.com/vk/mellongo/internal/node"
	"github.com/vk/mellongo/internal/nodestore"
	"github.com/vk/mellongo/internal/registry"
)

// Scheduler is the single execution lane of the process.
type Scheduler struct {
	registry *registry.Registry
	cache    node.ResourceCache
	store    nodestore.Store
	notifier Notifier

	queue   *queue
	workers int
	device  string
	rand    *rand.Rand
	now     func() time.Time
	logger  *slog.Logger

	// pool is owned by the control loop while Run is active.
	pool *pool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the size of the pool that runs compute calls. The
// control loop waits for each call, so calls never overlap.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithQueueSize bounds the request queue. Zero means unbounded.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) { s.queue = newQueue(n) }
}

// WithSeed makes per-run randomization reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Scheduler) { s.rand = rand.New(rand.NewPCG(seed, seed)) }
}

// WithDevice sets the default device of the node instances it creates.
func WithDevice(device string) Option {
	return func(s *Scheduler) { s.device = device }
}

// WithClock overrides the time source used for UI locators.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger used outside of a request context.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a scheduler. Call Run to start processing.
func New(reg *registry.Registry, cache node.ResourceCache, store nodestore.Store, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		cache:    cache,
		store:    store,
		notifier: notifier,
		queue:    newQueue(0),
		workers:  1,
		device:   devicecache.DefaultHost,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueGraphRun appends a graph request to the queue.
func (s *Scheduler) EnqueueGraphRun(req *GraphRequest) error {
	if req == nil {
		return errors.New("scheduler: nil graph request")
	}
	if err := s.queue.push(req); err != nil {
		return err
	}
	s.logger.Debug("Graph run queued.", "sid", req.SessionID, "nodes", len(req.Nodes), "paths", len(req.Paths))
	return nil
}

// EnqueueSingleNodeRun appends a single-node request to the queue.
func (s *Scheduler) EnqueueSingleNodeRun(req *SingleRequest) error {
	if req == nil {
		return errors.New("scheduler: nil node request")
	}
	if err := s.queue.push(req); err != nil {
		return err
	}
	s.logger.Debug("Node run queued.", "sid", req.SessionID, "module", req.Module, "action", req.Action)
	return nil
}

// Pending returns the number of queued requests.
func (s *Scheduler) Pending() int {
	return s.queue.len()
}

// Node returns the memoized instance for id.
func (s *Scheduler) Node(id string) (*node.Instance, bool) {
	return s.store.Get(id)
}

// ClearNodeCache drops the named nodes, or every node when ids is empty,
// and deletes the resources they own. It returns the ids it was asked to
// clear.
func (s *Scheduler) ClearNodeCache(ctx context.Context, ids ...string) ([]string, error) {
	if len(ids) == 0 {
		ids = s.store.IDs()
	}
	var errs []error
	for _, id := range ids {
		inst, ok := s.store.Delete(id)
		if !ok {
			continue
		}
		if err := inst.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.cache.Flush(true)
	ctxlog.FromContext(ctx).Debug("Node cache cleared.", "nodes", ids)
	return ids, errors.Join(errs...)
}

// Run processes queued requests one at a time until ctx is canceled or
// Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	logger := s.logger
	ctx = ctxlog.WithLogger(ctx, logger)

	s.pool = startPool(ctx, s.workers)
	defer s.pool.stop()

	logger.Info("Scheduler started.")
	for {
		item, err := s.queue.pop(ctx)
		if err != nil {
			logger.Info("Scheduler stopped.")
			return nil
		}
		s.process(ctx, item)
	}
}

func (s *Scheduler) process(ctx context.Context, item any) {
	var (
		sid string
		err error
	)
	switch req := item.(type) {
	case *GraphRequest:
		sid = req.SessionID
		err = s.runGraph(ctx, req)
	case *SingleRequest:
		sid = req.SessionID
		err = s.runSingle(ctx, req)
	}
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		ctxlog.FromContext(ctx).Warn("Run interrupted by shutdown.", "sid", sid, "error", err)
		return
	}
	ctxlog.FromContext(ctx).Error("Error processing queued request.", "sid", sid, "error", err)
	s.notify(ctx, sid, Event{Type: EventError, Error: genericFailure})
}

// Shutdown stops intake, cancels the control loop and releases every
// node's resources. It does not interrupt a compute call already running.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.queue.close()

	s.mu.Lock()
	running, cancel := s.running, s.cancel
	s.mu.Unlock()

	if running {
		cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := s.ClearNodeCache(ctx)
	return err
}

func (s *Scheduler) notify(ctx context.Context, sid string, ev Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, sid, ev)
}
