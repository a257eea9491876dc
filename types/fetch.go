package types

import "context"

// FetchFunc is the contract between the cache and the remote data source.
//
// It is called when the cache misses or holds stale data. It must be safe to
// call more than once and must not have side effects the cache needs to know
// about. Timeouts and cancellation are the function's own business; the
// cache never imposes one.
type FetchFunc[T any] func(ctx context.Context) (T, error)
