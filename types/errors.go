package types

import (
	"errors"
	"fmt"
)

// FetchError wraps a failure returned by a collaborator's fetch function.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SerializationError reports a value that cannot be represented in
// persistent storage.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// QuotaError reports a persistent backend that has no room for a write.
type QuotaError struct {
	Key   string
	Size  int64
	Limit int64
	Err   error
}

func (e *QuotaError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("quota exceeded writing %q: %d bytes over limit %d", e.Key, e.Size, e.Limit)
	}
	if e.Err != nil {
		return fmt.Sprintf("quota exceeded writing %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("quota exceeded writing %q", e.Key)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// IsQuota reports whether err is, or wraps, a QuotaError.
func IsQuota(err error) bool {
	var q *QuotaError
	return errors.As(err, &q)
}

// IsSerialization reports whether err is, or wraps, a SerializationError.
func IsSerialization(err error) bool {
	var s *SerializationError
	return errors.As(err, &s)
}
