package cluster

import (
	"sync"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// TaskTemplate is the locally materialised metadata for a template, filled
// in once by GUID_METADATA_CLONE on a remote domain, or directly by
// EDTTEMP_CREATE on the home domain.
type TaskTemplate struct {
	FuncID uint64
	Paramc uint32
	Depc   uint32
	Name   string
	Hints  []guid.Guid
}

// templateProxy is the per-template clone-pending queue and reference
// count described in §4.3. Closed is swapped atomically so a concurrent
// queuer can tell -- without taking the table lock -- whether it is still
// safe to enqueue onto this generation of the proxy.
type templateProxy struct {
	mu     sync.Mutex
	queued []*msg.PolicyMsg
	count  atomic.Int64
	closed atomic.Bool
}

// ProxyTemplateTable implements the §4.3 pull-clone protocol: the first
// reference to an unknown template GUID on a remote domain triggers a
// single GUID_METADATA_CLONE; every other referencing message queues and
// is redelivered once the clone response lands.
type ProxyTemplateTable struct {
	mu     sync.Mutex
	rows   map[guid.Guid]*templateProxy
	disp   Dispatcher
	nextID func() uint64
	self   guid.Location
}

func NewProxyTemplateTable(self guid.Location, disp Dispatcher, nextID func() uint64) *ProxyTemplateTable {
	return &ProxyTemplateTable{rows: make(map[guid.Guid]*templateProxy, 32), disp: disp, nextID: nextID, self: self}
}

// Resolve implements §4.3 step 2: enqueue the originating message and, if
// this is the first reference, emit the clone request exactly once.
// Returns PENDING; the caller's router must not reply to orig itself.
func (t *ProxyTemplateTable) Resolve(templateGuid guid.Guid, orig *msg.PolicyMsg) cmn.Status {
	t.mu.Lock()
	p, existed := t.rows[templateGuid]
	if !existed {
		p = &templateProxy{}
		t.rows[templateGuid] = p
	}
	t.mu.Unlock()

	p.mu.Lock()
	if p.closed.Load() {
		// The clone response already drained this proxy and registered the
		// template: redeliver orig now rather than queue it where nothing
		// will ever drain it again.
		p.mu.Unlock()
		t.disp.Reprocess(orig)
		return cmn.EPEND
	}
	p.count.Inc()
	firstRef := !existed
	p.queued = append(p.queued, orig)
	p.mu.Unlock()

	if firstRef {
		clone := msg.NewRequest(msg.GuidMetadataClone, t.self, templateGuid.Location(), t.nextID(), &msg.GuidCloneMsg{
			In: msg.GuidCloneIn{Guid: templateGuid},
		})
		if err := t.disp.SendOutboundRetry(clone); err != nil {
			glog.Warningf("clone request for %s: %v", templateGuid, err)
		}
	}
	return cmn.EPEND
}

// BlockingClone implements §4.3 step 1: when the originating message's
// source is this domain (user code calling in directly, not a message
// arriving from elsewhere), the caller blocks via the MONITOR_PROGRESS
// contract instead of being queued. yield is called between polls; it
// must not busy-spin the hardware thread (the design notes ask that
// MONITOR_PROGRESS be modelled as a self-rescheduling task rather than a
// spin loop -- yield is where that rescheduling happens).
func (t *ProxyTemplateTable) BlockingClone(templateGuid guid.Guid, reg *guid.Registry, yield func()) error {
	t.mu.Lock()
	p, existed := t.rows[templateGuid]
	if !existed {
		p = &templateProxy{}
		t.rows[templateGuid] = p
	}
	t.mu.Unlock()

	p.mu.Lock()
	firstRef := !existed
	p.count.Inc()
	p.mu.Unlock()

	if firstRef {
		clone := msg.NewRequest(msg.GuidMetadataClone, t.self, templateGuid.Location(), t.nextID(), &msg.GuidCloneMsg{
			In: msg.GuidCloneIn{Guid: templateGuid},
		})
		if err := t.disp.SendOutboundRetry(clone); err != nil {
			glog.Warningf("clone request for %s: %v", templateGuid, err)
		}
	}
	for {
		if _, ok := reg.Lookup(templateGuid); ok {
			return nil
		}
		yield()
	}
}

// OnCloneResponse implements §4.3's clone-response handling: materialise
// the metadata, register the GUID, close the proxy's queue, and redeliver
// every queued message so it completes its original operation now that the
// template is known.
func (t *ProxyTemplateTable) OnCloneResponse(resp *msg.PolicyMsg, reg *guid.Registry, handle guid.Handle) error {
	body := resp.Body.(*msg.GuidCloneMsg)
	g := body.Out.Guid
	if g.IsNull() {
		g = body.In.Guid
	}

	if err := reg.Register(g, guid.VariantLocal, handle); err != nil {
		return err
	}

	t.mu.Lock()
	p, ok := t.rows[g]
	t.mu.Unlock()
	if !ok {
		return nil // nothing was ever queued on this domain for it
	}

	p.mu.Lock()
	queued := p.queued
	p.queued = nil
	p.closed.Store(true)
	p.mu.Unlock()

	for _, q := range queued {
		t.disp.Reprocess(q)
		if p.count.Dec() == 0 {
			t.mu.Lock()
			if cur, ok := t.rows[g]; ok && cur.closed.Load() && cur.count.Load() == 0 {
				delete(t.rows, g)
			}
			t.mu.Unlock()
		}
	}
	if len(queued) == 0 && p.count.Load() == 0 {
		t.mu.Lock()
		delete(t.rows, g)
		t.mu.Unlock()
	}
	return nil
}

// RefCount reports the outstanding reference count on a pending/just-closed
// template proxy, for tests and diagnostics.
func (t *ProxyTemplateTable) RefCount(g guid.Guid) (int64, bool) {
	t.mu.Lock()
	p, ok := t.rows[g]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return p.count.Load(), true
}

var errUnsupportedGuidKind = errors.New("cluster: GUID_INFO unsupported for this kind")
