package pd

import (
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
)

// atomic64 is the per-kind local GUID counter: every dispatcher that mints
// a new home-local object (DB, event, task, template) draws from one of
// these instead of sharing the registry's single reservation counter,
// since locally-originated (non-labeled) objects never need a contiguous
// reserved range.
type atomic64 struct{ v atomic.Uint64 }

func (c *atomic64) next() uint64 { return c.v.Add(1) }

var templateCodec = jsoniter.ConfigCompatibleWithStandardLibrary
