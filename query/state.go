package query

import "time"

// State is the published view of a Controller.
type State[T any] struct {
	Data T

	// HasData distinguishes "no data yet" from a zero value of T.
	HasData bool

	IsLoading bool

	// Err is the last fetch error, cleared by the next success. Data from
	// before the failure is kept.
	Err error

	IsStale       bool
	LastFetchedAt time.Time
}
