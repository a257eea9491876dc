package adaptive_test

import "time"

const (
	testTimeout = time.Second
	testTick    = time.Millisecond
)
