package cluster

import (
	"sync"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"github.com/pkg/errors"
)

// ProxyState is one of the four exhaustive states a non-home block's cache
// entry can be in.
type ProxyState uint8

const (
	Created ProxyState = iota
	Fetch
	Run
	Relinquish
)

func (s ProxyState) String() string {
	switch s {
	case Created:
		return "Created"
	case Fetch:
		return "Fetch"
	case Run:
		return "Run"
	case Relinquish:
		return "Relinquish"
	default:
		return "?"
	}
}

// ProxyDb is the per-foreign-datablock cache record. It exists only on
// domains other than the block's home; the home keeps the canonical
// DataBlock in Table instead.
type ProxyDb struct {
	mu sync.Mutex // serialises every transition of this one proxy

	guid     guid.Guid
	state    ProxyState
	nbUsers  int
	refCount int
	queued   []*msg.PolicyMsg
	mode     msg.AccessMode
	fetchFor msg.AccessMode // mode of the acquire that triggered the in-flight Fetch
	size     uint64
	ptr      []byte
	flags    msg.Flags
	shadow   *DataBlock
}

// Dispatcher is the narrow interface ProxyDbTable/ProxyTemplateTable need
// back from their owner (package pd's MessageRouter/LocalDispatcher): send
// a freshly synthesised outbound message, optionally across a retried
// network call, and re-inject a queued request that can now be served as
// if newly arrived. The table lock is never held across any of these
// calls, per the §5 resource policy.
type Dispatcher interface {
	SendOutbound(m *msg.PolicyMsg)
	// SendOutboundRetry is SendOutbound backed by cmn.NetworkCallWithRetry,
	// for sends whose failure is worth retrying rather than dropping --
	// currently only ProxyTemplateTable's clone request, since a dropped
	// clone otherwise strands every message queued behind it forever.
	SendOutboundRetry(m *msg.PolicyMsg) error
	Reprocess(m *msg.PolicyMsg)
}

// ProxyDbTable is the table lock plus the map of per-guid proxies. Lock
// order is always table -> proxy, never the reverse.
type ProxyDbTable struct {
	mu     sync.Mutex
	rows   map[guid.Guid]*ProxyDb
	disp   Dispatcher
	nextID func() uint64 // allocates outbound MsgIDs; owned by package pd
	self   guid.Location
}

func NewProxyDbTable(self guid.Location, disp Dispatcher, nextID func() uint64) *ProxyDbTable {
	return &ProxyDbTable{
		rows:   make(map[guid.Guid]*ProxyDb, 64),
		disp:   disp,
		nextID: nextID,
		self:   self,
	}
}

func (t *ProxyDbTable) lockedRow(g guid.Guid) *ProxyDb {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[g]
	if !ok {
		p = &ProxyDb{guid: g, state: Created}
		t.rows[g] = p
	}
	return p
}

// Acquire implements §4.2's acquire(guid, mode). req must carry a
// *msg.DbAcquireMsg body with In.Guid/In.Mode set. Returns the response
// message (ready to deliver) when served synchronously from the Run-state
// cache, or (nil, EPEND) when the caller must wait -- the proxy has queued
// req and will redeliver it via Dispatcher.Reprocess once resolved.
func (t *ProxyDbTable) Acquire(req *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := req.Body.(*msg.DbAcquireMsg)
	p := t.lockedRow(body.In.Guid)

	p.mu.Lock()
	p.refCount++
	switch p.state {
	case Created:
		p.state = Fetch
		p.fetchFor = body.In.Mode
		p.queued = append(p.queued, req)
		out := t.fetchRequest(p, body.In.Mode)
		p.mu.Unlock()
		t.disp.SendOutbound(out)
		return nil, cmn.EPEND

	case Fetch, Relinquish:
		p.queued = append(p.queued, req)
		p.mu.Unlock()
		return nil, cmn.EPEND

	case Run:
		if msg.ModeCompatible(body.In.Mode, p.mode) {
			p.nbUsers++
			resp := t.servedResponse(p, req)
			p.mu.Unlock()
			return resp, cmn.OK
		}
		p.queued = append(p.queued, req)
		p.mu.Unlock()
		return nil, cmn.EPEND

	default:
		p.mu.Unlock()
		return nil, cmn.NewErr(cmn.EINVAL, "ProxyDbTable.Acquire", errors.Errorf("bad state %s", p.state)).Status
	}
}

func (t *ProxyDbTable) fetchRequest(p *ProxyDb, mode msg.AccessMode) *msg.PolicyMsg {
	out := msg.NewRequest(msg.DbAcquire, t.self, p.guid.Location(), t.nextID(), &msg.DbAcquireMsg{
		In: msg.DbAcquireIn{Guid: p.guid, Mode: mode},
	})
	out.Flags = out.Flags.Set(msg.Fetch)
	return out
}

func (t *ProxyDbTable) servedResponse(p *ProxyDb, req *msg.PolicyMsg) *msg.PolicyMsg {
	reqBody := req.Body.(*msg.DbAcquireMsg)
	out := &msg.DbAcquireMsg{
		In:  reqBody.In,
		Out: msg.DbAcquireOut{Ptr: p.ptr, Size: p.size, Flags: p.flags},
	}
	resp := *req
	resp.ToResponse(out)
	return &resp
}

// OnAcquireResponse implements §4.2's on_acquire_response: only valid while
// the proxy is in Fetch. Copies the payload into the (possibly reused)
// cache, transitions to Run, then serves the acquire whose fetch just
// landed plus every other queued acquire whose mode msg.ModeCompatible
// accepts against the cached mode, counting nb_users once per served
// acquire. A read-only-like cached mode does not admit other modes.
func (t *ProxyDbTable) OnAcquireResponse(resp *msg.PolicyMsg) error {
	body := resp.Body.(*msg.DbAcquireMsg)
	g := body.In.Guid
	t.mu.Lock()
	p, ok := t.rows[g]
	t.mu.Unlock()
	if !ok {
		return cmn.NewErr(cmn.EINVAL, "OnAcquireResponse", errors.Errorf("no proxy for %s", g))
	}

	p.mu.Lock()
	if p.state != Fetch {
		p.mu.Unlock()
		return cmn.NewErr(cmn.EINVAL, "OnAcquireResponse", errors.Errorf("proxy %s not in Fetch (%s)", g, p.state))
	}
	if cap(p.ptr) >= len(body.Out.Ptr) {
		p.ptr = p.ptr[:len(body.Out.Ptr)]
		copy(p.ptr, body.Out.Ptr)
	} else {
		p.ptr = append([]byte(nil), body.Out.Ptr...)
	}
	p.size = body.Out.Size
	p.flags = body.Out.Flags
	p.mode = p.fetchFor
	p.state = Run
	p.nbUsers = 0

	// Every queued acquire -- including the one whose fetch just landed --
	// rides this same pass. The head of the queue is the acquire that
	// triggered this fetch and is always served (an EW fetch is fresh for
	// its own requester); every other entry is matched against the cache's
	// own mode, never against a blanket "any read-like mode" shortcut (§4.2
	// mode compatibility is per-request, not per-cache-state).
	var served []*msg.PolicyMsg
	remaining := p.queued[:0]
	for i, q := range p.queued {
		qb := q.Body.(*msg.DbAcquireMsg)
		if i == 0 || msg.ModeCompatible(qb.In.Mode, p.mode) {
			p.nbUsers++
			served = append(served, t.servedResponse(p, q))
		} else {
			remaining = append(remaining, q)
		}
	}
	p.queued = remaining
	p.mu.Unlock()

	for _, s := range served {
		t.disp.Reprocess(s)
	}
	return nil
}

// Release implements §4.2's release(guid). Returns EACCES on a double
// release (proxy absent or not in Run).
func (t *ProxyDbTable) Release(req *msg.PolicyMsg) cmn.Status {
	body := req.Body.(*msg.DbReleaseMsg)
	t.mu.Lock()
	p, ok := t.rows[body.In.Guid]
	t.mu.Unlock()
	if !ok {
		return cmn.EACCES
	}

	p.mu.Lock()
	if p.state != Run || p.nbUsers == 0 {
		p.mu.Unlock()
		return cmn.EACCES
	}
	if p.nbUsers > 1 {
		p.nbUsers--
		p.mu.Unlock()
		return cmn.OK
	}
	// nbUsers == 1: Run -> Relinquish.
	p.nbUsers = 0
	p.state = Relinquish
	var payload []byte
	if msg.NeedsWriteBack(p.mode) {
		payload = append([]byte(nil), p.ptr...)
	}
	out := msg.NewRequest(msg.DbRelease, t.self, p.guid.Location(), t.nextID(), &msg.DbReleaseMsg{
		In: msg.DbReleaseIn{Guid: p.guid, Payload: payload},
	})
	p.mu.Unlock()
	t.disp.SendOutbound(out)
	return cmn.OK
}

// OnReleaseResponse implements §4.2's on_release_response. Precondition:
// nb_users == 0 (checked). Evicts the proxy when idle and unreferenced,
// otherwise resets to Created (keeping ptr/size for reuse) and -- if any
// acquire is queued -- re-submits exactly one of them, driving a fresh
// Fetch; the rest ride the normal fetch-response path transitively.
func (t *ProxyDbTable) OnReleaseResponse(g guid.Guid) error {
	t.mu.Lock()
	p, ok := t.rows[g]
	if !ok {
		t.mu.Unlock()
		return cmn.NewErr(cmn.EINVAL, "OnReleaseResponse", errors.Errorf("no proxy for %s", g))
	}

	p.mu.Lock()
	if p.nbUsers != 0 || p.state != Relinquish {
		p.mu.Unlock()
		t.mu.Unlock()
		return cmn.NewErr(cmn.EINVAL, "OnReleaseResponse", errors.Errorf("proxy %s not ready (nbUsers=%d state=%s)", g, p.nbUsers, p.state))
	}
	p.refCount--

	switch {
	case len(p.queued) == 0 && p.refCount <= 0:
		delete(t.rows, g)
		p.mu.Unlock()
		t.mu.Unlock()
		return nil

	case len(p.queued) == 0:
		p.state = Created
		p.mu.Unlock()
		t.mu.Unlock()
		return nil

	default:
		// Peek, don't pop: the triggering acquire stays in p.queued so
		// OnAcquireResponse finds and serves it (or re-queues it again)
		// once this fresh fetch resolves, instead of being dropped here.
		popped := p.queued[0]
		p.state = Fetch
		pb := popped.Body.(*msg.DbAcquireMsg)
		p.fetchFor = pb.In.Mode
		out := t.fetchRequest(p, pb.In.Mode)
		p.mu.Unlock()
		t.mu.Unlock()
		t.disp.SendOutbound(out)
		return nil
	}
}

// Snapshot returns a best-effort read of a proxy's visible state, used by
// tests and by MGT_MONITOR_PROGRESS to decide whether to keep yielding.
func (t *ProxyDbTable) Snapshot(g guid.Guid) (state ProxyState, nbUsers, refCount int, ok bool) {
	t.mu.Lock()
	p, exists := t.rows[g]
	t.mu.Unlock()
	if !exists {
		return 0, 0, 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.nbUsers, p.refCount, true
}
