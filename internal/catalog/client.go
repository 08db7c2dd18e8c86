package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sonicvision/internal/apperr"
)

const (
	DefaultCooldown    = 5 * time.Second
	DefaultRetryDelay  = time.Second
	DefaultMaxAttempts = 3

	defaultLimit   = 20
	maxLimit       = 50
	maxQueryLength = 200
)

// State is where the client stands with its provider.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// ErrCooldown is returned by Init when the previous attempt was too recent.
var ErrCooldown = errors.New("catalog: init attempted during cooldown")

var errUnavailable = fmt.Errorf("%w: catalog provider unavailable", apperr.ErrServiceUnavailable)

// Clock is the time source for cooldown and retry delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Cooldown    time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
	Clock       Clock
	// Cache is optional.
	Cache *Cache
}

// Client wraps a Provider with lazy authentication, a re-init cooldown,
// bounded retries and a single re-auth on ErrUnauthorized.
type Client struct {
	provider Provider
	opts     Options
	log      *zap.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	lastAttempt time.Time
	lastErr     error
}

func NewClient(p Provider, log *zap.Logger, opts Options) *Client {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		provider: p,
		opts:     opts,
		log:      log.With(zap.String("provider", p.Name())),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the cause of the most recent failed init, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Init authenticates against the provider. It is a no-op when the client is
// already Ready and fails with ErrCooldown, without touching the network,
// when the previous attempt is younger than the cooldown.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateReady {
		return nil
	}
	now := c.opts.Clock.Now()
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.opts.Cooldown {
		return ErrCooldown
	}
	c.lastAttempt = now

	if err := c.provider.Authenticate(ctx); err != nil {
		c.lastErr = err
		c.log.Warn("catalog init failed", zap.Stringer("state", c.state), zap.Error(err))
		return err
	}
	c.state = StateReady
	c.gen++
	c.lastErr = nil
	c.log.Info("catalog client ready")
	return nil
}

// ensureReady runs at most MaxAttempts inits, RetryDelay apart.
func (c *Client) ensureReady(ctx context.Context) (uint64, error) {
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.opts.Clock.Sleep(ctx, c.opts.RetryDelay); err != nil {
				return 0, err
			}
		}
		if err := c.Init(ctx); err == nil {
			return c.generation(), nil
		} else if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, errUnavailable
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// degrade marks the credentials of generation gen as stale. A newer
// generation set up by a concurrent call is left alone.
func (c *Client) degrade(gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.state == StateReady {
		c.state = StateDegraded
		c.lastErr = cause
		c.log.Warn("catalog credentials rejected", zap.Error(cause))
	}
}

func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	gen, err := c.ensureReady(ctx)
	if err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	if errors.Is(err, ErrUnauthorized) {
		c.degrade(gen, err)
		if ierr := c.Init(ctx); ierr != nil {
			c.log.Warn("catalog re-init failed", zap.String("op", op), zap.Error(ierr))
			return zero, errUnavailable
		}
		gen = c.generation()
		v, err = fn(ctx)
		if errors.Is(err, ErrUnauthorized) {
			c.degrade(gen, err)
		}
	}
	if err != nil {
		return zero, c.translate(op, err)
	}
	return v, nil
}

// translate keeps NotFound and InvalidArgument; everything else becomes
// ServiceUnavailable.
func (c *Client) translate(op string, err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidArgument):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	c.log.Error("catalog call failed", zap.String("op", op), zap.Error(err))
	return errUnavailable
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (c *Client) Search(ctx context.Context, query, typ string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", apperr.ErrInvalidArgument)
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("%w: query is too long", apperr.ErrInvalidArgument)
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	limit = clampLimit(limit)

	key := c.cacheKey("search", typ, fmt.Sprint(limit), strings.ToLower(query))
	var cached []Item
	if c.opts.Cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	items, err := call(ctx, c, "search", func(ctx context.Context) ([]Item, error) {
		return c.provider.Search(ctx, query, typ, limit)
	})
	if err != nil {
		return nil, err
	}
	c.opts.Cache.Set(ctx, key, items)
	return items, nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", apperr.ErrInvalidArgument)
	}

	key := c.cacheKey("item", id)
	var cached Item
	if c.opts.Cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	it, err := call(ctx, c, "get", func(ctx context.Context) (*Item, error) {
		return c.provider.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c.opts.Cache.Set(ctx, key, it)
	return it, nil
}

func (c *Client) ListCurated(ctx context.Context, limit int) ([]Item, error) {
	limit = clampLimit(limit)

	key := c.cacheKey("curated", fmt.Sprint(limit))
	var cached []Item
	if c.opts.Cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	items, err := call(ctx, c, "curated", func(ctx context.Context) ([]Item, error) {
		return c.provider.ListCurated(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	c.opts.Cache.Set(ctx, key, items)
	return items, nil
}

func (c *Client) cacheKey(parts ...string) string {
	return c.provider.Name() + ":" + strings.Join(parts, ":")
}
