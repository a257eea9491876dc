package types

import "time"

// This file defines how the cache layer reports what it is doing.

/*
Metrics is an interface that defines what the cache layer wants to measure.
Each method represents an event in the lifecycle of a cache entry, a query or
a detail batch. The components call these methods whenever something happens.
*/
type Metrics interface {

	// Hit is called when the store returns an unexpired entry.
	Hit()

	// Miss is called when the store has nothing usable for a key.
	Miss()

	// Expire is called when an entry is dropped because its hard TTL passed.
	Expire()

	// Eviction is called when the volatile tier drops a key to stay under capacity.
	Eviction()

	// PersistFailure is called when a persistent write degrades to a no-op.
	// reason is "serialization", "quota" or "backend".
	PersistFailure(reason string)

	// Fetch is called when a fetch completes. ok is false on failure.
	Fetch(ok bool, took time.Duration)

	// Deduplicated is called when a fetch is skipped because one for the same key is in flight.
	Deduplicated()

	// DetailBatch is called when a batched detail request is issued.
	DetailBatch(size int)
}

/*
NoopMetrics is a "do nothing" implementation of Metrics, so callers that do
not care about metrics never need nil checks.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit()                      {}
func (NoopMetrics) Miss()                     {}
func (NoopMetrics) Expire()                   {}
func (NoopMetrics) Eviction()                 {}
func (NoopMetrics) PersistFailure(string)     {}
func (NoopMetrics) Fetch(bool, time.Duration) {}
func (NoopMetrics) Deduplicated()             {}
func (NoopMetrics) DetailBatch(int)           {}
