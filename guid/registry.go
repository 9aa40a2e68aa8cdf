package guid

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Handle is a slab index into whichever table registered the local object
// behind a Guid. It carries no type information of its own; Binding.Kind
// says how to interpret it to the caller that asked for it back.
type Handle uint32

// Binding is the tagged variant the registry stores per Guid instead of a
// raw pointer: either the object is materialised locally (Local), cached as
// a proxy (Proxy), or known only to exist somewhere else (RemoteOnly).
type Binding struct {
	Kind     Kind
	Variant  Variant
	Handle   Handle   // valid when Variant is Local or Proxy
	Location Location // valid when Variant is RemoteOnly
}

type Variant uint8

const (
	VariantLocal Variant = iota
	VariantProxy
	VariantRemoteOnly
)

// numShards is chosen as a small power of two; concurrent register/lookup
// traffic is sharded across this many independent locks so that no single
// hot Guid range serialises unrelated ones, mirroring the teacher's
// MultiSyncMapCount-sharded nameLocker.
const numShards = 64

type shard struct {
	mu    sync.RWMutex
	table map[Guid]Binding
}

// Registry is the process-local mapping from Guid to (kind, location,
// optional local binding). Safe for concurrent use; lookups never block
// writers of unrelated shards and, once a Guid is bound, repeated lookups
// take only a read lock.
type Registry struct {
	self   Location
	shards [numShards]*shard
	next   atomic.Uint64 // per-kind counters are derived from this single monotonic source
}

// ErrAlready is returned by Register when a conflicting binding already
// exists for the Guid.
var ErrAlready = errors.New("guid: already registered")

func NewRegistry(self Location) *Registry {
	r := &Registry{self: self}
	for i := range r.shards {
		r.shards[i] = &shard{table: make(map[Guid]Binding, 256)}
	}
	return r
}

func (r *Registry) shardFor(g Guid) *shard {
	h := xxhash.Sum64(guidBytes(g))
	return r.shards[h%numShards]
}

func guidBytes(g Guid) []byte {
	var b [8]byte
	v := uint64(g)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}

// Reserve reserves a contiguous labeled range of n GUIDs of the given kind,
// returning the first Guid in the range and the stride between consecutive
// members (always 1: the counter space is dense). Mirrors the original
// runtime's (startGuid, skipGuid) naming from its labeled-GUID allocator.
func (r *Registry) Reserve(kind Kind, n uint64) (start Guid, stride uint64) {
	base := r.next.Add(n) - n
	return Make(kind, r.self, base), 1
}

// Register binds a local handle to a previously unknown Guid. Concurrent
// Register calls with identical (guid, variant, handle) are idempotent;
// calls that disagree on handle or variant for the same guid fail with
// ErrAlready.
func (r *Registry) Register(g Guid, variant Variant, handle Handle) error {
	sh := r.shardFor(g)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if existing, ok := sh.table[g]; ok {
		if existing.Variant == variant && existing.Handle == handle {
			return nil
		}
		return errors.Wrapf(ErrAlready, "guid %s", g)
	}
	sh.table[g] = Binding{Kind: g.Kind(), Variant: variant, Handle: handle, Location: g.Location()}
	return nil
}

// RegisterRemote records that a Guid is known to live on a remote location,
// with no local materialisation yet.
func (r *Registry) RegisterRemote(g Guid) error {
	return r.Register(g, VariantRemoteOnly, 0)
}

// Lookup never blocks on anything but its own shard's lock, and that lock
// is never held across a network or channel operation by any caller in
// this package.
func (r *Registry) Lookup(g Guid) (b Binding, ok bool) {
	if g.IsSentinel() {
		return Binding{}, false
	}
	sh := r.shardFor(g)
	sh.mu.RLock()
	b, ok = sh.table[g]
	sh.mu.RUnlock()
	return
}

// LocationOf decodes the home location straight out of the Guid bits; it
// never needs to consult the table.
func (r *Registry) LocationOf(g Guid) Location { return g.Location() }

// Unregister removes a binding, used on destroy and on proxy eviction. It is
// a no-op if the Guid was never bound.
func (r *Registry) Unregister(g Guid) {
	sh := r.shardFor(g)
	sh.mu.Lock()
	delete(sh.table, g)
	sh.mu.Unlock()
}

// Self returns the location this registry's runtime answers to; used by
// callers deciding whether a Guid names a local ("home") object.
func (r *Registry) Self() Location { return r.self }
