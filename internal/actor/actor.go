// Package actor runs per-key units of serialized execution.
//
// Every key of a Namespace is backed by at most one live instance. Calls to
// the same key are queued and served one at a time in arrival order; calls
// to different keys run in parallel. A durable namespace gives each instance
// a private relational database (see Opener); a volatile namespace keeps
// whatever the instance holds in memory, and that state is gone once the
// instance is evicted or the process exits.
//
// Instances are addressed through Stub.Call, a method + path + JSON body
// contract served by the instance's http.Handler, so callers never see the
// instance's internals.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/signalix/identity/internal/db"
)

// ErrClosed is returned for calls issued after Namespace.Close.
var ErrClosed = errors.New("actor: namespace closed")

// Opener provides the private durable storage of one actor key.
type Opener interface {
	Open(ctx context.Context, namespace, key string) (*sqlx.DB, error)
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Factory builds the handler of one instance. store is nil in a volatile
// namespace.
type Factory func(key string, store *sqlx.DB) http.Handler

// Keeper is implemented by handlers whose in-memory state must outlive the
// idle timeout. An idle instance whose handler reports KeepAlive stays live
// until the next idle tick.
type Keeper interface {
	KeepAlive() bool
}

// Options configure a Namespace.
type Options struct {
	// Name addresses the namespace; it also names its storage directory or schema prefix.
	Name string
	// Opener makes the namespace durable. Nil means volatile.
	Opener Opener
	// Migrations are applied to every durable instance on activation.
	Migrations fs.FS
	// IdleTimeout evicts instances that received no call for that long. Zero disables eviction.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Namespace is a set of actor instances of one kind.
type Namespace struct {
	opts    Options
	factory Factory

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
	wg        sync.WaitGroup
}

// NewNamespace returns a namespace whose instances are built by factory.
func NewNamespace(opts Options, factory Factory) *Namespace {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("actor", opts.Name)
	return &Namespace{
		opts:      opts,
		factory:   factory,
		instances: make(map[string]*instance),
	}
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.opts.Name }

// Durable reports whether instances persist their state.
func (n *Namespace) Durable() bool { return n.opts.Opener != nil }

// Get returns a stub addressing key. Instances are activated lazily on the first call.
func (n *Namespace) Get(key string) *Stub {
	return &Stub{ns: n, key: key}
}

// Keys lists known keys: every persisted key of a durable namespace, or the
// currently live keys of a volatile one.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	if n.Durable() {
		return n.opts.Opener.Keys(ctx, n.opts.Name)
	}
	n.mu.Lock()
	keys := make([]string, 0, len(n.instances))
	for k := range n.instances {
		keys = append(keys, k)
	}
	n.mu.Unlock()
	sort.Strings(keys)
	return keys, nil
}

// Active returns the number of live instances.
func (n *Namespace) Active() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.instances)
}

// Evict retires the instance of key after the calls already queued for it.
// A later call activates a fresh instance.
func (n *Namespace) Evict(ctx context.Context, key string) error {
	n.mu.Lock()
	in, ok := n.instances[key]
	n.mu.Unlock()
	if !ok {
		return nil
	}
	c := &call{ctx: ctx, retire: true, done: make(chan reply, 1)}
	if !in.enqueue(c) {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains every instance and releases its storage.
func (n *Namespace) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	live := make([]*instance, 0, len(n.instances))
	for _, in := range n.instances {
		live = append(live, in)
	}
	n.mu.Unlock()

	for _, in := range live {
		in.enqueue(&call{ctx: context.Background(), retire: true, done: make(chan reply, 1)})
	}
	n.wg.Wait()
	return nil
}

// instance returns the live instance of key, starting one if needed.
func (n *Namespace) instance(key string) (*instance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	in, ok := n.instances[key]
	if !ok {
		in = &instance{ns: n, key: key, wake: make(chan struct{}, 1)}
		n.instances[key] = in
		n.wg.Add(1)
		go in.run()
	}
	return in, nil
}

type reply struct {
	rec   *recorder
	err   error
	retry bool
}

type call struct {
	ctx    context.Context
	req    *http.Request
	retire bool
	done   chan reply
}

type instance struct {
	ns  *Namespace
	key string

	mu     sync.Mutex
	queue  []*call
	closed bool
	wake   chan struct{}

	// owned by the run goroutine
	handler http.Handler
	store   *sqlx.DB
}

func (in *instance) enqueue(c *call) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	in.queue = append(in.queue, c)
	select {
	case in.wake <- struct{}{}:
	default:
	}
	return true
}

func (in *instance) dequeue() *call {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return nil
	}
	c := in.queue[0]
	in.queue[0] = nil
	in.queue = in.queue[1:]
	return c
}

func (in *instance) run() {
	defer in.ns.wg.Done()
	for {
		c := in.dequeue()
		if c == nil {
			var idle <-chan time.Time
			if in.ns.opts.IdleTimeout > 0 {
				idle = time.After(in.ns.opts.IdleTimeout)
			}
			select {
			case <-in.wake:
			case <-idle:
				if in.keepAlive() {
					continue
				}
				if in.retire(false) {
					return
				}
			}
			continue
		}
		if c.retire {
			in.retire(true)
			c.done <- reply{}
			return
		}
		in.serve(c)
	}
}

func (in *instance) keepAlive() bool {
	k, ok := in.handler.(Keeper)
	return ok && k.KeepAlive()
}

// retire removes the instance from its namespace. Unless forced it gives up
// when calls are still queued. Calls caught in the queue of a forced
// retirement are bounced back to their stub, which re-dispatches them to a
// fresh instance.
func (in *instance) retire(force bool) bool {
	n := in.ns
	n.mu.Lock()
	in.mu.Lock()
	if !force && len(in.queue) > 0 {
		in.mu.Unlock()
		n.mu.Unlock()
		return false
	}
	in.closed = true
	pending := in.queue
	in.queue = nil
	if n.instances[in.key] == in {
		delete(n.instances, in.key)
	}
	in.mu.Unlock()
	n.mu.Unlock()

	for _, p := range pending {
		p.done <- reply{retry: true}
	}
	if in.store != nil {
		if err := in.store.Close(); err != nil {
			n.opts.Logger.Warn("close actor storage", "key", in.key, "error", err)
		}
		in.store = nil
	}
	in.handler = nil
	n.opts.Logger.Debug("actor retired", "key", in.key)
	return true
}

func (in *instance) activate(ctx context.Context) error {
	n := in.ns
	if n.opts.Opener == nil {
		in.handler = n.factory(in.key, nil)
		return nil
	}
	store, err := n.opts.Opener.Open(ctx, n.opts.Name, in.key)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if n.opts.Migrations != nil {
		if err := db.Migrate(ctx, store, n.opts.Migrations); err != nil {
			_ = store.Close()
			return fmt.Errorf("migrate storage: %w", err)
		}
	}
	in.store = store
	in.handler = n.factory(in.key, store)
	n.opts.Logger.Debug("actor activated", "key", in.key)
	return nil
}

func (in *instance) serve(c *call) {
	if err := c.ctx.Err(); err != nil {
		c.done <- reply{err: err}
		return
	}
	if in.handler == nil {
		if err := in.activate(c.ctx); err != nil {
			c.done <- reply{err: err}
			return
		}
	}
	rec := newRecorder()
	func() {
		defer func() {
			if p := recover(); p != nil {
				in.ns.opts.Logger.Error("actor handler panic", "key", in.key, "panic", p)
				rec = newRecorder()
				WriteError(rec, fmt.Errorf("panic: %v", p))
			}
		}()
		in.handler.ServeHTTP(rec, c.req)
	}()
	c.done <- reply{rec: rec}
}
