package query

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/progressive-cache/api"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/refresh"
	"github.com/krisalay/progressive-cache/types"
)

/*
Client is shared by every Controller that reads the same CacheStore.

It owns:
  - the store all controllers read from and write to
  - a singleflight group, so controllers asking for the same key at the same
    time share one network call
  - the focus notifier controllers subscribe to when activated
*/
type Client struct {
	store  api.Store
	engine *engine.CacheEngine
	focus  *refresh.Notifier

	// group coalesces concurrent fetches of the same namespaced key
	group singleflight.Group
}

// NewClient wires a Client. A nil engine or notifier gets a default one.
func NewClient(store api.Store, eng *engine.CacheEngine, focus *refresh.Notifier) *Client {
	if eng == nil {
		eng = engine.Default()
	}
	if focus == nil {
		focus = refresh.NewNotifier()
	}
	return &Client{
		store:  store,
		engine: eng.Named("query"),
		focus:  focus,
	}
}

func (c *Client) Store() api.Store { return c.store }

func (c *Client) Engine() *engine.CacheEngine { return c.engine }

// Focus returns the notifier that drives RefetchOnWindowFocus.
func (c *Client) Focus() *refresh.Notifier { return c.focus }

/*
fetch runs fn once for every caller asking for the same key concurrently and
writes a successful result to the store before anyone sees it. Store write
failures are logged by the store and otherwise ignored: the fetched value is
still returned.
*/
func (c *Client) fetch(
	ctx context.Context,
	key string,
	opts types.Options,
	fn func(context.Context) (any, error),
) (any, error) {
	flightKey := string(opts.Kind()) + "|" + opts.NamespacedKey(key)

	v, err, shared := c.group.Do(flightKey, func() (any, error) {
		start := time.Now()
		v, err := fn(ctx)
		c.engine.Metrics.Fetch(err == nil, time.Since(start))
		if err != nil {
			return nil, err
		}

		_ = c.store.Set(key, v, opts)
		return v, nil
	})
	if shared {
		c.engine.Metrics.Deduplicated()
		c.engine.Logger.Debug("fetch shared", zap.String("key", flightKey))
	}
	return v, err
}
