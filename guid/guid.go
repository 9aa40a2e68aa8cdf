// Package guid provides the opaque 64-bit object identifier shared by every
// entity that can cross a policy-domain boundary (data blocks, events,
// tasks, task templates, affinity groups, guid-maps, policy domains,
// workers, schedulers), plus the process-local registry that resolves one
// to locally materialised state.
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package guid

import "fmt"

// Guid is bitwise-comparable: equality of two Guid values means identity of
// the object they name, never merely equal contents.
type Guid uint64

// Kind tags the object a Guid names. Encoded in the high bits of the value.
type Kind uint8

const (
	KindNone Kind = iota
	KindDataBlock
	KindEvent
	KindTask
	KindTaskTemplate
	KindAffinityGroup
	KindGuidMap
	KindPolicyDomain
	KindWorker
	KindScheduler
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDataBlock:
		return "datablock"
	case KindEvent:
		return "event"
	case KindTask:
		return "task"
	case KindTaskTemplate:
		return "tasktemplate"
	case KindAffinityGroup:
		return "affinitygroup"
	case KindGuidMap:
		return "guidmap"
	case KindPolicyDomain:
		return "policydomain"
	case KindWorker:
		return "worker"
	case KindScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

// Location identifies the policy domain that owns (is "home" for) a Guid.
type Location uint16

const (
	// LocationNone is only ever observed on sentinel GUIDs.
	LocationNone Location = 0
)

// Bit layout: [ kind:8 | location:16 | counter:40 ].
const (
	kindShift     = 56
	locationShift = 40
	counterMask   = (uint64(1) << locationShift) - 1
	locationMask  = (uint64(1) << 16) - 1
)

// Reserved sentinel values, bitwise-distinct from any value Make produces
// for a defined kind other than KindNone (Make(KindNone, 0, 0) is Null;
// Error and Uninitialized carry kind bits 0xFF, which name no Kind).
const (
	Null        Guid = 0
	Error       Guid = ^Guid(0)
	Uninitialized Guid = ^Guid(0) - 1
)

// Make packs a kind, home location and monotonic counter into a Guid.
func Make(kind Kind, loc Location, counter uint64) Guid {
	return Guid(uint64(kind)<<kindShift | uint64(loc)<<locationShift | (counter & counterMask))
}

func (g Guid) Kind() Kind { return Kind(uint64(g) >> kindShift) }

func (g Guid) Location() Location { return Location((uint64(g) >> locationShift) & locationMask) }

func (g Guid) Counter() uint64 { return uint64(g) & counterMask }

func (g Guid) IsNull() bool { return g == Null }

func (g Guid) IsSentinel() bool { return g == Null || g == Error || g == Uninitialized }

func (g Guid) String() string {
	if g.IsSentinel() {
		switch g {
		case Null:
			return "guid(null)"
		case Error:
			return "guid(error)"
		default:
			return "guid(uninitialized)"
		}
	}
	return fmt.Sprintf("guid(%s@%d:%d)", g.Kind(), g.Location(), g.Counter())
}

// FatGuid pairs a Guid with an optional local-metadata handle. The handle is
// filled in on demand by the Registry when the object is locally
// materialised; remote-only GUIDs leave it unset (Handle == 0, Ok == false).
type FatGuid struct {
	ID     Guid
	Handle Handle
	Ok     bool
}

func Fat(id Guid) FatGuid { return FatGuid{ID: id} }

func (f FatGuid) WithHandle(h Handle) FatGuid {
	f.Handle = h
	f.Ok = true
	return f
}
