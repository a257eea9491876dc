package query

import "errors"

// errTypeMismatch is returned when a shared fetch produced a value of another
// type, which means two controllers use one key for different data.
var errTypeMismatch = errors.New("fetched value has unexpected type")
