// Package pd is the policy-domain core: the MessageRouter that every
// worker-presented PolicyMsg passes through, the LocalDispatcher that
// implements each message kind's contract, the distributed shutdown
// barrier, and the thin WorkerBridge a compute thread calls against.
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package pd

import (
	"sync"
	"time"

	"github.com/arts-edt/corepd/cluster"
	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"github.com/arts-edt/corepd/transport"
	"github.com/arts-edt/corepd/xreg"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// SchedulerHook is the external scheduler collaborator the router consults
// at pre/post-process time (§4.5 step 1 and step 6). A nil hook is treated
// as always-proceed / no-op, matching a domain with no scheduler plugin.
type SchedulerHook interface {
	PreProcess(m *msg.PolicyMsg) bool
	PostProcess(m *msg.PolicyMsg)
}

// Domain is one policy domain's complete local state: every table a
// message kind might touch, the transport it sends/receives over, the
// placement oracle, and the neighbor set used by the shutdown barrier.
type Domain struct {
	Self guid.Location

	// InstanceID is a process-lifetime identifier, generated once at
	// startup the way the teacher stamps every xaction with cos.GenUUID():
	// useful for correlating this domain's log lines across a restart,
	// never used as an addressing key (Self/guid.Location already is one).
	InstanceID string

	Registry  *guid.Registry
	DataBlks  *cluster.Table
	ProxyDbs  *cluster.ProxyDbTable
	Templates *cluster.ProxyTemplateTable
	TplMeta   map[guid.Guid]*cluster.TaskTemplate
	tplMu     sync.RWMutex
	Events    *cluster.EventTable
	Tasks     *cluster.TaskTable
	Hints     *cluster.HintTable
	Notify    *cluster.NotifRegistry

	Transport transport.Transport
	Oracle    *xreg.Oracle
	Scheduler SchedulerHook

	msgID atomic.Uint64

	mu        sync.RWMutex
	neighbors []guid.Location

	Shutdown *ShutdownBarrier

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDomain wires every table against this domain's own SendOutbound/
// Reprocess methods, satisfying cluster.Dispatcher.
func NewDomain(self guid.Location, tr transport.Transport, oracle *xreg.Oracle) *Domain {
	d := &Domain{
		Self:       self,
		InstanceID: uuid.NewString(),
		Registry:  guid.NewRegistry(self),
		DataBlks:  cluster.NewTable(),
		TplMeta:   make(map[guid.Guid]*cluster.TaskTemplate, 64),
		Events:    cluster.NewEventTable(),
		Tasks:     cluster.NewTaskTable(),
		Hints:     cluster.NewHintTable(),
		Notify:    cluster.NewNotifRegistry(),
		Transport: tr,
		Oracle:    oracle,
		stopCh:    make(chan struct{}),
	}
	d.ProxyDbs = cluster.NewProxyDbTable(self, d, d.NextMsgID)
	d.Templates = cluster.NewProxyTemplateTable(self, d, d.NextMsgID)
	d.Shutdown = NewShutdownBarrier(d)
	tr.(interface{ Register(guid.Location) }).Register(self)
	return d
}

func (d *Domain) NextMsgID() uint64 { return d.msgID.Add(1) }

// SendOutbound implements cluster.Dispatcher: marshal and hand to the
// transport. Cross-PD payload-carrying kinds always use FullCopy per the
// design notes ("every cross-PD message that transports a data-block
// payload must use FULL_COPY").
func (d *Domain) SendOutbound(m *msg.PolicyMsg) {
	mode := msg.Append
	if _, ok := m.Body.(msg.HasPayload); ok {
		mode = msg.FullCopy
	}
	buf, err := msg.Marshal(m, nil, mode)
	if err != nil {
		return // malformed outbound message: nothing sensible to do but drop it
	}
	d.Transport.Send(m.Dst, buf)
}

// SendOutboundRetry is SendOutbound wrapped in cmn.NetworkCallWithRetry,
// for the one outbound kind whose loss is expensive to leave unretried: a
// dropped GUID_METADATA_CLONE strands every message ProxyTemplateTable has
// queued behind it until the process is restarted.
func (d *Domain) SendOutboundRetry(m *msg.PolicyMsg) error {
	mode := msg.Append
	if _, ok := m.Body.(msg.HasPayload); ok {
		mode = msg.FullCopy
	}
	buf, err := msg.Marshal(m, nil, mode)
	if err != nil {
		return err
	}
	dst := m.Dst
	return cmn.NetworkCallWithRetry(&cmn.RetryArgs{
		Call:    func() error { return d.Transport.Send(dst, buf) },
		Action:  "clone-send",
		SoftErr: 3,
		HardErr: 2,
		Sleep:   10 * time.Millisecond,
		BackOff: true,
	})
}

// Reprocess re-enters a queued message through the router as if it had
// just arrived fresh -- used by ProxyDbTable/ProxyTemplateTable once a
// fetch or clone response unblocks it.
func (d *Domain) Reprocess(m *msg.PolicyMsg) {
	NewRouter(d).Deliver(m)
}

func (d *Domain) SetNeighbors(locs []guid.Location) {
	d.mu.Lock()
	d.neighbors = append([]guid.Location(nil), locs...)
	d.mu.Unlock()
}

// AttachNeighbor adds one peer location to this domain's affinity set,
// used as the topology is discovered incrementally (compare the teacher's
// fsprungroup.attachMpath: add, then notify dependents of the change).
func (d *Domain) AttachNeighbor(loc guid.Location) {
	d.mu.Lock()
	for _, n := range d.neighbors {
		if n == loc {
			d.mu.Unlock()
			return
		}
	}
	d.neighbors = append(d.neighbors, loc)
	d.mu.Unlock()
}

// DetachNeighbor removes a peer, e.g. after it has cleanly shut down.
func (d *Domain) DetachNeighbor(loc guid.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, n := range d.neighbors {
		if n == loc {
			d.neighbors = append(d.neighbors[:i], d.neighbors[i+1:]...)
			return
		}
	}
}

func (d *Domain) Neighbors() []guid.Location {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]guid.Location(nil), d.neighbors...)
}

func (d *Domain) putTemplate(g guid.Guid, t *cluster.TaskTemplate) {
	d.tplMu.Lock()
	d.TplMeta[g] = t
	d.tplMu.Unlock()
}

func (d *Domain) getTemplate(g guid.Guid) (*cluster.TaskTemplate, bool) {
	d.tplMu.RLock()
	t, ok := d.TplMeta[g]
	d.tplMu.RUnlock()
	return t, ok
}
