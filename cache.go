package scex

import (
	"context"
	"sync"
	"weak"

	"github.com/expr-lang/expr/vm"
)

// Cache is the C7 artifact cache: a two-level map from ExpressionDef to a
// compiled callable, with a weak-referenceable path to the underlying
// *vm.Program so it can be collected once no outstanding Callable holds it
// (spec §4.7, §9 "class-loader lifecycle" — here, simply GC of the
// *vm.Program via the standard library's weak package, Go's nearest
// analogue to a droppable class loader).
type Cache struct {
	driver *Driver

	mu      sync.RWMutex
	wrapper map[string]*cacheEntry // outer: ExpressionDef key -> wrapper
	pending map[string]*sync.Once  // coalesces concurrent identical requests
}

// NewCache returns an empty Cache driven by d.
func NewCache(d *Driver) *Cache {
	return &Cache{
		driver:  d,
		wrapper: make(map[string]*cacheEntry),
		pending: make(map[string]*sync.Once),
	}
}

// cacheEntry is the outer map's value: a weak pointer to the artifact plus
// enough of the request to recompile if the weak pointer has died.
type cacheEntry struct {
	def    ExpressionDef
	req    CompileRequest
	weak   weak.Pointer[Artifact]
	strong *Artifact // shared by every Callable of this entry; cleared by any one of them via Callable.Release
	mu     sync.Mutex
}

// Callable is the lightweight, repeatedly invocable artifact the pipeline
// hands back to the host (spec §2 "return a lightweight callable").
// Evaluating a Callable never reports a cache miss: if its backing
// *vm.Program has been collected, the next Eval call transparently
// recompiles (spec §7 "a freshly-evicted callable re-resolves
// transparently").
type Callable struct {
	cache *Cache
	entry *cacheEntry
}

// Get returns the cached Callable for def, compiling on a miss. Concurrent
// identical requests coalesce onto a single compile (spec §5 "concurrent
// identical requests coalesce via the cache's atomic compute-if-absent").
func (c *Cache) Get(ctx context.Context, req CompileRequest) (*Callable, error) {
	key := req.Def.Key()

	c.mu.RLock()
	entry, ok := c.wrapper[key]
	c.mu.RUnlock()

	if ok {
		return &Callable{cache: c, entry: entry}, nil
	}

	once := c.pendingOnce(key)

	var (
		artifact *Artifact
		err      error
	)

	once.Do(func() {
		artifact, err = c.driver.Compile(ctx, req)
		if err != nil {
			return
		}

		entry = &cacheEntry{def: req.Def, req: req, strong: artifact}
		entry.weak = weak.Make(artifact)

		c.mu.Lock()
		c.wrapper[key] = entry
		delete(c.pending, key)
		c.mu.Unlock()
	})

	if err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()

		return nil, err
	}

	c.mu.RLock()
	entry = c.wrapper[key]
	c.mu.RUnlock()

	return &Callable{cache: c, entry: entry}, nil
}

func (c *Cache) pendingOnce(key string) *sync.Once {
	c.mu.Lock()
	defer c.mu.Unlock()

	if once, ok := c.pending[key]; ok {
		return once
	}

	once := &sync.Once{}
	c.pending[key] = once

	return once
}

// Evict removes def's entry from the cache. Callables already handed out
// keep a pointer to the entry and continue to serve evaluations; the
// entry's strong reference keeps the *vm.Program alive until any one of
// those Callables calls Release. After that the artifact can be collected,
// and the next evaluation through any of them recompiles it.
func (c *Cache) Evict(def ExpressionDef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.wrapper, def.Key())
}

// Len reports how many artifacts are currently cached, for tests/metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.wrapper)
}

// resolve returns the live *vm.Program for e, recompiling via the cache's
// driver if the weak pointer has died (spec §4.7 wrapper re-resolution).
func (e *cacheEntry) resolve(ctx context.Context, driver *Driver) (*Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a := e.weak.Value(); a != nil {
		return a, nil
	}

	artifact, err := driver.Compile(ctx, e.req)
	if err != nil {
		return nil, err
	}

	e.strong = artifact
	e.weak = weak.Make(artifact)

	return artifact, nil
}

// Program returns the *vm.Program backing c, recompiling transparently if
// it was collected since the last call.
func (c *Callable) Program(ctx context.Context) (*vm.Program, error) {
	artifact, err := c.entry.resolve(ctx, c.cache.driver)
	if err != nil {
		return nil, err
	}

	return artifact.Program, nil
}

// artifact returns the full Artifact backing c, recompiling transparently
// if it was collected since the last call. Unlike Program, callers that
// need AssignTarget (setter mode) go through this directly.
func (c *Callable) artifact(ctx context.Context) (*Artifact, error) {
	return c.entry.resolve(ctx, c.cache.driver)
}

// Release clears the strong reference of c's cache entry. That reference
// is shared by every Callable for the same ExpressionDef and is not counted
// per Callable: after one Release the backing *vm.Program is held only
// weakly (the cache map holds the entry, not the artifact) and can be
// collected even while other Callables are still in use; they then
// recompile transparently on their next evaluation. Hosts that keep a
// Callable around for its full useful lifetime need not call Release at all.
func (c *Callable) Release() {
	c.entry.mu.Lock()
	defer c.entry.mu.Unlock()

	c.entry.strong = nil
}
