// Package workspace keeps the cart and checkout state of each customer
// session, backed by the session storage.
package workspace

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/cache"
	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/domain/cart"
	"github.com/example/md-checkout/internal/domain/checkout"
	"github.com/example/md-checkout/internal/domain/product"
	"github.com/example/md-checkout/internal/payment"
	"github.com/example/md-checkout/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Workspace is the state of one session.
type Workspace struct {
	SessionID string
	Cart      *cart.Cart
	Checkout  *checkout.Session

	lastUsed time.Time
}

type Deps struct {
	Catalog  product.Catalog
	Cache    cache.ValidationCache
	Storage  storage.Storage
	Clock    clock.Clock
	Orders   checkout.OrderCreator
	Payments payment.Authorizer
}

type Config struct {
	Cart     cart.Config
	Checkout checkout.Config
}

func DefaultConfig() Config {
	return Config{Cart: cart.DefaultConfig(), Checkout: checkout.DefaultConfig()}
}

// Registry hands out one Workspace per session id, loading stored state on
// first use.
type Registry struct {
	mu         sync.Mutex
	deps       Deps
	cfg        Config
	workspaces map[string]*Workspace
	loading    singleflight.Group
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewRegistry(deps Deps, cfg Config) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:       deps,
		cfg:        cfg,
		workspaces: make(map[string]*Workspace),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Get returns the workspace of sessionID, creating and loading it when
// needed. Stored state is read without holding the registry lock, and
// concurrent first calls for one session share a single load.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Workspace, error) {
	if ws, ok := r.lookup(sessionID); ok {
		return ws, nil
	}

	v, err, _ := r.loading.Do(sessionID, func() (any, error) {
		if ws, ok := r.lookup(sessionID); ok {
			return ws, nil
		}
		ws, err := r.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.workspaces[sessionID]; ok {
			r.mu.Unlock()
			ws.Cart.Close()
			return existing, nil
		}
		r.workspaces[sessionID] = ws
		r.mu.Unlock()

		if ws.Cart.StartBackgroundValidation(r.ctx) {
			log.Printf("[Workspace] Background validation started for %s", sessionID)
		}
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (r *Registry) lookup(sessionID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[sessionID]
	if ok {
		ws.lastUsed = r.deps.Clock.Now()
	}
	return ws, ok
}

// load builds a workspace from the stored state of sessionID.
func (r *Registry) load(ctx context.Context, sessionID string) (*Workspace, error) {
	store := storage.Prefixed(r.deps.Storage, "session:"+sessionID+":")
	c := cart.New(sessionID, cart.Deps{
		Catalog: r.deps.Catalog,
		Cache:   r.deps.Cache,
		Storage: store,
		Clock:   r.deps.Clock,
	}, r.cfg.Cart)
	if err := c.Load(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("load cart: %w", err)
	}

	co := checkout.NewSession(checkout.Deps{
		Storage:  store,
		Clock:    r.deps.Clock,
		Orders:   r.deps.Orders,
		Payments: r.deps.Payments,
		Cart:     c,
	}, r.cfg.Checkout)
	if _, err := co.LoadFromStorage(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("load checkout: %w", err)
	}

	return &Workspace{SessionID: sessionID, Cart: c, Checkout: co, lastUsed: r.deps.Clock.Now()}, nil
}

// Release stops the timers of a workspace and forgets it. Its stored state
// is kept and reloaded by the next Get.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	ws, ok := r.workspaces[sessionID]
	delete(r.workspaces, sessionID)
	r.mu.Unlock()

	if ok {
		ws.Cart.Close()
	}
}

// EvictIdle releases workspaces unused for longer than idle and returns how
// many were released.
func (r *Registry) EvictIdle(idle time.Duration) int {
	cutoff := r.deps.Clock.Now().Add(-idle)

	r.mu.Lock()
	var stale []*Workspace
	for id, ws := range r.workspaces {
		if ws.lastUsed.Before(cutoff) {
			stale = append(stale, ws)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range stale {
		ws.Cart.Close()
	}
	if len(stale) > 0 {
		log.Printf("[Workspace] Evicted %d idle session(s)", len(stale))
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Close releases every workspace.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range all {
		ws.Cart.Close()
	}
}
