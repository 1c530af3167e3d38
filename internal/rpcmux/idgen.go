package rpcmux

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// defaultIDGenerator mints process-unique request IDs via google/uuid, per
// the specification's "IDs are unique within a process lifetime (UUID or
// counter)" requirement.
func defaultIDGenerator() IDGenerator {
	return func() string {
		return uuid.NewString()
	}
}

// NewCounterIDGenerator returns a deterministic, monotonically increasing
// ID generator suitable for tests that assert on exact wire payloads.
func NewCounterIDGenerator() IDGenerator {
	var seq int64
	return func() string {
		return strconv.FormatInt(atomic.AddInt64(&seq, 1), 10)
	}
}
