package devicecache

import (
	"context"
	"log/slog"
	"reflect"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultHost is the placement objects return to when unloaded.
const DefaultHost = "cpu"

// Placeable is implemented by objects the cache can move between devices.
// Objects that do not implement it are tracked but never moved.
type Placeable interface {
	MoveTo(ctx context.Context, device string) error
}

// Located is implemented by objects that know their own placement.
type Located interface {
	Device() string
}

// Handle is a read-only snapshot of one cache entry.
type Handle struct {
	ID       string
	Device   string
	Priority int
	LastUsed time.Time
}

type entry struct {
	id       string
	object   any
	device   string
	priority int
	lastUsed time.Time
	// seq breaks ties between accesses that share a clock reading.
	seq uint64
}

func (e *entry) less(o *entry) bool {
	if e.priority != o.priority {
		return e.priority < o.priority
	}
	if !e.lastUsed.Equal(o.lastUsed) {
		return e.lastUsed.Before(o.lastUsed)
	}
	return e.seq < o.seq
}

// Cache maps resource ids to device-resident objects.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64

	host   string
	now    func() time.Time
	flush  func(collect bool)
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithHost overrides the name of the host placement.
func WithHost(host string) Option {
	return func(c *Cache) { c.host = host }
}

// WithClock replaces time.Now for lastUsed bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFlush replaces the allocator hint run after deletions and moves.
func WithFlush(flush func(collect bool)) Option {
	return func(c *Cache) { c.flush = flush }
}

// WithLogger sets the logger used for eviction and deletion messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		host:    DefaultHost,
		now:     time.Now,
		flush:   defaultFlush,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultFlush(collect bool) {
	if collect {
		runtime.GC()
		return
	}
	debug.FreeOSMemory()
}

// Host returns the name of the host placement.
func (c *Cache) Host() string { return c.host }

func (c *Cache) touch(e *entry) {
	c.seq++
	e.seq = c.seq
	e.lastUsed = c.now()
}

// Register starts tracking object under id. An empty id is replaced by a
// generated one. If id is already tracked the existing entry wins and the
// call only returns the id. An empty device records the object's own
// placement when it reports one, and the host otherwise.
func (c *Cache) Register(object any, id, device string, priority int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := c.entries[id]; exists {
		return id
	}
	if device == "" {
		if l, ok := object.(Located); ok {
			device = l.Device()
		} else {
			device = c.host
		}
	}
	e := &entry{id: id, object: object, device: device, priority: priority}
	c.touch(e)
	c.entries[id] = e
	c.logger.Debug("Resource registered.", "id", id, "device", device, "priority", priority)
	return id
}

// Load places the object registered under id on device and returns it.
// When the move fails because the device is full, the resident entry with
// the lowest (priority, lastUsed) is unloaded and the move retried. The
// candidate is picked again after every failure.
func (c *Cache) Load(ctx context.Context, id, device string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotCached, "load %q", id)
	}
	c.touch(e)

	if c.placement(e) == device {
		return e.object, nil
	}
	if device == c.host {
		return c.unload(ctx, e)
	}

	p, ok := e.object.(Placeable)
	if !ok {
		e.device = device
		return e.object, nil
	}

	tried := map[string]struct{}{id: {}}
	for {
		err := p.MoveTo(ctx, device)
		if err == nil {
			e.device = device
			return e.object, nil
		}
		if !IsResourceExhausted(err) {
			return nil, err
		}
		victim := c.nextCandidate(device, tried)
		if victim == nil {
			c.logger.Debug("No more resources to unload, cannot free sufficient memory.", "id", id, "device", device)
			return nil, &ResourceExhaustedError{ID: id, Device: device, Err: err}
		}
		c.logger.Debug("Device exhausted, unloading lower priority resource.", "id", id, "device", device, "evicting", victim.id, "priority", victim.priority)
		tried[victim.id] = struct{}{}
		if _, err := c.unload(ctx, victim); err != nil {
			return nil, errors.Wrapf(err, "evict %q", victim.id)
		}
	}
}

// Unload moves the object registered under id to the host. It is idempotent.
func (c *Cache) Unload(ctx context.Context, id string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotCached, "unload %q", id)
	}
	return c.unload(ctx, e)
}

func (c *Cache) unload(ctx context.Context, e *entry) (any, error) {
	p, ok := e.object.(Placeable)
	if !ok {
		return e.object, nil
	}
	if err := p.MoveTo(ctx, c.host); err != nil {
		return nil, errors.Wrapf(err, "unload %q", e.id)
	}
	e.device = c.host
	c.flush(false)
	return e.object, nil
}

// UnloadAll moves every object not named in exclude to the host.
func (c *Cache) UnloadAll(ctx context.Context, exclude ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	skip := toSet(exclude)
	for _, e := range c.sorted() {
		if _, ok := skip[e.id]; ok {
			continue
		}
		if _, err := c.unload(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces the tracked object and/or priority of id. A nil object
// keeps the current one and a zero priority keeps the current priority.
// When unloadFirst is set the previous object is moved to the host before
// it is swapped out.
func (c *Cache) Update(ctx context.Context, id string, object any, priority int, unloadFirst bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	if object != nil {
		if unloadFirst {
			if _, err := c.unload(ctx, e); err != nil {
				return err
			}
		}
		e.object = object
		if l, ok := object.(Located); ok {
			e.device = l.Device()
		}
		c.flush(false)
	}
	if priority != 0 {
		e.priority = priority
	}
	return nil
}

// Delete stops tracking ids, optionally unloading each object first. The
// allocator hint runs afterwards even if nothing was deleted.
func (c *Cache) Delete(ctx context.Context, ids []string, alsoUnload bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.flush(true)

	var errs []error
	for _, id := range ids {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		c.logger.Debug("Deleting resource.", "id", id, "type", typeName(e.object))
		if alsoUnload {
			if _, err := c.unload(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		e.object = nil
		delete(c.entries, id)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// IsCached reports whether id is tracked.
func (c *Cache) IsCached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Get returns the object tracked under id without touching it.
func (c *Cache) Get(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.object, true
}

// Info returns a snapshot of the entry tracked under id.
func (c *Cache) Info(id string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Handle{}, false
	}
	return e.handle(), true
}

// Handles returns snapshots of every entry in eviction order.
func (c *Cache) Handles() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	sorted := c.sorted()
	out := make([]Handle, len(sorted))
	for i, e := range sorted {
		out[i] = e.handle()
	}
	return out
}

// Len returns the number of tracked entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictNext unloads the single lowest (priority, lastUsed) entry resident on
// device and not named in exclude. It reports whether anything was evicted.
func (c *Cache) EvictNext(ctx context.Context, device string, exclude ...string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	victim := c.nextCandidate(device, toSet(exclude))
	if victim == nil {
		return false, nil
	}
	c.logger.Debug("Evicting resource.", "id", victim.id, "device", device, "priority", victim.priority)
	if _, err := c.unload(ctx, victim); err != nil {
		return false, err
	}
	return true, nil
}

// FlashLoad registers object, loads it on device and deletes the entry
// again, so the returned object is placed without leaving anything cached.
func (c *Cache) FlashLoad(ctx context.Context, object any, id, device string, priority int) (any, error) {
	id = c.Register(object, id, device, priority)
	loaded, err := c.Load(ctx, id, device)
	if delErr := c.Delete(ctx, []string{id}, false); err == nil {
		err = delErr
	}
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

// Flush runs the allocator hint.
func (c *Cache) Flush(collect bool) {
	c.flush(collect)
}

func (c *Cache) placement(e *entry) string {
	if l, ok := e.object.(Located); ok {
		return l.Device()
	}
	return e.device
}

func (c *Cache) nextCandidate(device string, exclude map[string]struct{}) *entry {
	var best *entry
	for id, e := range c.entries {
		if e.device != device {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		if best == nil || e.less(best) {
			best = e
		}
	}
	return best
}

func (c *Cache) sorted() []*entry {
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func (e *entry) handle() Handle {
	return Handle{ID: e.id, Device: e.device, Priority: e.priority, LastUsed: e.lastUsed}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
