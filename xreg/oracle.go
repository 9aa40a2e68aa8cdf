// Package xreg provides PlacementOracle, the single authority the router
// consults whenever a message names a not-yet-homed object: where should
// this DB_CREATE's block live, which domain should serve this EDTTEMP_CREATE?
// Modelled on the teacher's xreg registry -- a package-level default
// instance plus free functions delegating to it, so callers never need to
// thread an oracle value through every call site.
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package xreg

import (
	"sync"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"go.uber.org/atomic"
)

// AffinityGroup is the resolved candidate set a hint maps to: the ordered
// locations eligible to host a new object, plus a round-robin cursor shared
// by every placement decision made against this group.
type AffinityGroup struct {
	Locations []guid.Location
	last      atomic.Uint64
}

func (g *AffinityGroup) next() guid.Location {
	if len(g.Locations) == 0 {
		return guid.LocationNone
	}
	i := g.last.Add(1) - 1
	return g.Locations[i%uint64(len(g.Locations))]
}

// Oracle resolves affinity hints to concrete locations and decides where a
// newly named object should be homed when the caller did not pin one.
type Oracle struct {
	mu     sync.RWMutex
	self   guid.Location
	groups map[guid.Guid]*AffinityGroup
	all    []guid.Location // full topology, fallback round-robin target
	allIdx atomic.Uint64
}

var (
	defaultOracle *Oracle
	once          sync.Once
)

// Default lazily constructs (once) and returns the process-wide oracle. A
// real process initialises it explicitly via Init during RL_PD_OK; Default
// exists so package-level helpers and tests never need a nil check.
func Default() *Oracle {
	once.Do(func() { defaultOracle = NewOracle(guid.LocationNone, nil) })
	return defaultOracle
}

// Init (re)installs the process-wide oracle -- called once per process
// during the RL_PD_OK runlevel transition, after the topology is known.
func Init(self guid.Location, all []guid.Location) {
	once.Do(func() {}) // a later Default() must not replace this oracle
	defaultOracle = NewOracle(self, all)
}

func NewOracle(self guid.Location, all []guid.Location) *Oracle {
	return &Oracle{self: self, groups: make(map[guid.Guid]*AffinityGroup, 16), all: all}
}

// DefineAffinityGroup registers (or replaces) the location set a given
// affinity-group GUID resolves to. Called once per AFFINITY_GROUP GUID,
// typically during startup topology parsing.
func DefineAffinityGroup(hint guid.Guid, locations []guid.Location) {
	Default().DefineAffinityGroup(hint, locations)
}

func (o *Oracle) DefineAffinityGroup(hint guid.Guid, locations []guid.Location) {
	o.mu.Lock()
	o.groups[hint] = &AffinityGroup{Locations: append([]guid.Location(nil), locations...)}
	o.mu.Unlock()
}

// PlaceNew resolves where a newly created object (DB_CREATE, EVT_CREATE,
// WORK_CREATE, EDTTEMP_CREATE) should be homed. internalOp is set for
// runtime-internal EDTs (finish-scope bookkeeping, template-clone replies),
// which the §4.4 placement rule always keeps local regardless of hint.
func PlaceNew(hint guid.Guid, internalOp bool) (guid.Location, error) {
	return Default().PlaceNew(hint, internalOp)
}

func (o *Oracle) PlaceNew(hint guid.Guid, internalOp bool) (guid.Location, error) {
	if internalOp {
		return o.self, nil
	}
	if hint.IsNull() {
		return o.roundRobinAll(), nil
	}
	// An AFFINITY_GROUP-kinded hint names a registered candidate set to
	// round-robin across. Any other hint names a single already-placed
	// object directly -- decode its home location straight from its bits,
	// the same way LocationOf/DestinationFor do below, rather than
	// requiring it to have been pre-registered as a group.
	if hint.Kind() != guid.KindAffinityGroup {
		return hint.Location(), nil
	}
	o.mu.RLock()
	group, ok := o.groups[hint]
	o.mu.RUnlock()
	if !ok {
		return guid.LocationNone, cmn.NewErr(cmn.EINVAL, "Oracle.PlaceNew", errUnknownHint(hint))
	}
	loc := group.next()
	if loc == guid.LocationNone {
		return guid.LocationNone, cmn.NewErr(cmn.EINVAL, "Oracle.PlaceNew", errEmptyGroup(hint))
	}
	return loc, nil
}

// Affinities returns a snapshot of every currently-registered affinity
// group, keyed by its hint GUID -- introspection for MGT_MONITOR_PROGRESS
// and diagnostics, mirroring ProxyDbTable.Snapshot's read-only-copy style.
func (o *Oracle) Affinities() map[guid.Guid][]guid.Location {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[guid.Guid][]guid.Location, len(o.groups))
	for hint, g := range o.groups {
		out[hint] = append([]guid.Location(nil), g.Locations...)
	}
	return out
}

// Affinities delegates to the process-wide default oracle.
func Affinities() map[guid.Guid][]guid.Location { return Default().Affinities() }

func (o *Oracle) roundRobinAll() guid.Location {
	if len(o.all) == 0 {
		return o.self
	}
	i := o.allIdx.Add(1) - 1
	return o.all[i%uint64(len(o.all))]
}

// LocationOf answers "where does this GUID live" for destroy and query
// operations: decoded straight from the GUID's bits, never from a lookup
// table, since home location is encoded at allocation time and never
// changes for the life of the object.
func LocationOf(subject guid.Guid) guid.Location { return subject.Location() }

// DestinationFor routes a dependence operation (DEP_ADD, EVT_SATISFY,
// DEP_SATISFY) to the home of the object the dependence targets.
func DestinationFor(target guid.Guid) guid.Location { return target.Location() }

type hintError struct {
	msg string
}

func (e *hintError) Error() string { return e.msg }

func errUnknownHint(hint guid.Guid) error {
	return &hintError{msg: "xreg: no affinity group defined for hint " + hint.String()}
}

func errEmptyGroup(hint guid.Guid) error {
	return &hintError{msg: "xreg: affinity group for hint " + hint.String() + " has no members"}
}
