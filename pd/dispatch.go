package pd

import (
	"github.com/arts-edt/corepd/cluster"
	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
)

// Dispatch is the LocalDispatcher of §4.6: one case per recognised kind,
// each implementing exactly the contract named in the spec's table.
func Dispatch(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	switch m.Type {
	case msg.DbCreate:
		return dispatchDbCreate(d, m)
	case msg.DbAcquire:
		return dispatchDbAcquire(d, m)
	case msg.DbRelease:
		return dispatchDbRelease(d, m)
	case msg.DbFree:
		return dispatchDbFree(d, m)
	case msg.EvtCreate:
		return dispatchEvtCreate(d, m)
	case msg.EvtSatisfy, msg.DepSatisfy:
		return dispatchSatisfy(d, m)
	case msg.DepAdd:
		return dispatchDepAdd(d, m)
	case msg.WorkCreate:
		return dispatchWorkCreate(d, m)
	case msg.WorkDestroy:
		return dispatchWorkDestroy(d, m)
	case msg.EdtTempCreate:
		return dispatchEdtTempCreate(d, m)
	case msg.EdtTempDestroy:
		return dispatchEdtTempDestroy(d, m)
	case msg.GuidInfo:
		return dispatchGuidInfo(d, m)
	case msg.GuidMetadataClone:
		return dispatchGuidClone(d, m)
	case msg.GuidReserve:
		return dispatchGuidReserve(d, m)
	case msg.GuidUnreserve:
		return dispatchGuidUnreserve(d, m)
	case msg.HintSet:
		return dispatchHintSet(d, m)
	case msg.HintGet:
		return dispatchHintGet(d, m)
	case msg.SchedGetWork, msg.SchedNotify, msg.SchedTransact, msg.SchedAnalyze:
		return dispatchSched(d, m)
	case msg.MgtRlNotify:
		return dispatchRlNotify(d, m)
	case msg.MgtMonitorProgress:
		return dispatchMonitorProgress(d, m)
	default:
		return nil, cmn.ENOTSUP
	}
}

// ---- DB_CREATE ----

var dbCounter atomic64

func dispatchDbCreate(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.DbCreateMsg)
	if body.In.Size == 0 {
		return nil, cmn.EINVAL
	}
	g := guid.Make(guid.KindDataBlock, d.Self, dbCounter.next())
	db := cluster.AllocDataBlock()
	db.Guid, db.Size, db.CreatorLocation, db.Hint = g, body.In.Size, d.Self, body.In.Hint
	db.Ptr = make([]byte, body.In.Size)
	if err := d.Registry.Register(g, guid.VariantLocal, guid.Handle(g.Counter())); err != nil {
		return nil, cmn.EGUIDEXISTS
	}
	d.DataBlks.Put(db)

	out := &msg.DbCreateMsg{In: body.In, Out: msg.DbCreateOut{Guid: g, Size: db.Size, Mode: msg.ModeRW}}
	if body.In.AcquireRW {
		out.Out.Ptr = db.Ptr
	}
	return m.ToResponse(out), cmn.OK
}

// ---- DB_ACQUIRE / DB_RELEASE / DB_FREE ----

func dispatchDbAcquire(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.DbAcquireMsg)
	if body.In.Guid.Location() != d.Self {
		resp, status := d.ProxyDbs.Acquire(m)
		return resp, status
	}
	db, ok := d.DataBlks.Get(body.In.Guid)
	if !ok {
		return nil, cmn.EINVAL
	}
	out := &msg.DbAcquireMsg{In: body.In, Out: msg.DbAcquireOut{Ptr: db.Ptr, Size: db.Size}}
	if msg.NeedsWriteBack(body.In.Mode) {
		out.Out.Flags = out.Out.Flags.Set(msg.WriteBack)
	}
	return m.ToResponse(out), cmn.OK
}

func dispatchDbRelease(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.DbReleaseMsg)
	if body.In.Guid.Location() != d.Self {
		return nil, d.ProxyDbs.Release(m)
	}
	db, ok := d.DataBlks.Get(body.In.Guid)
	if !ok {
		return nil, cmn.EACCES
	}
	if len(body.In.Payload) > 0 {
		db.Ptr = body.In.Payload
	}
	return m.ToResponse(&msg.DbReleaseMsg{In: body.In}), cmn.OK
}

func dispatchDbFree(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.DbFreeMsg)
	if !d.DataBlks.Delete(body.In.Guid) {
		return nil, cmn.EINVAL
	}
	d.Registry.Unregister(body.In.Guid)
	return m.ToResponse(&msg.DbFreeMsg{In: body.In}), cmn.OK
}

// ---- EVT_CREATE / EVT_SATISFY / DEP_SATISFY ----

var evtCounter atomic64

func dispatchEvtCreate(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.EvtCreateMsg)
	g := guid.Make(guid.KindEvent, d.Self, evtCounter.next())
	if err := d.Registry.Register(g, guid.VariantLocal, guid.Handle(g.Counter())); err != nil {
		return nil, cmn.EGUIDEXISTS
	}
	d.Events.Put(cluster.NewEvent(g, body.In.Type, body.In.Labeled, body.In.Params))
	return m.ToResponse(&msg.EvtCreateMsg{In: body.In, Out: msg.EvtCreateOut{Guid: g}}), cmn.OK
}

func dispatchSatisfy(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	var in msg.EvtSatisfyIn
	switch b := m.Body.(type) {
	case *msg.EvtSatisfyMsg:
		in = b.In
	case *msg.DepSatisfyMsg:
		in = b.In
	}
	e, ok := d.Events.Get(in.Target)
	if !ok {
		if task, ok := d.Tasks.Get(in.Target); ok {
			ready := task.SlotFilled(in.Slot)
			if ready {
				d.Tasks.Delete(task.Guid)
			}
			return m.ToResponse(&msg.EvtSatisfyMsg{In: in}), cmn.OK
		}
		return nil, cmn.EINVAL
	}
	fired, ok := e.Satisfy(in.Payload, in.Slot)
	if !ok {
		return nil, cmn.EINVAL
	}
	for _, w := range fired {
		deliverSatisfy(d, w, e.Payload())
	}
	return m.ToResponse(&msg.EvtSatisfyMsg{In: in}), cmn.OK
}

func deliverSatisfy(d *Domain, w cluster.Waiter, payload []byte) {
	if w.Slot == cluster.FinishSlot {
		if latch, ok := d.Events.Get(w.Task); ok {
			latch.Satisfy(nil, msg.SlotDecr)
		}
		return
	}
	if task, ok := d.Tasks.Get(w.Task); ok {
		if task.SlotFilled(w.Slot) {
			d.Tasks.Delete(task.Guid)
		}
	}
}

// ---- DEP_ADD ----

func dispatchDepAdd(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.DepAddMsg)
	srcKind := kindOfSubject(d, body.In.Src)
	dstKind := kindOfSubject(d, body.In.Dst)

	switch {
	case body.In.Src.IsNull():
		return dispatchSatisfy(d, satisfyFrom(m, body.In.Dst, body.In.Slot))

	case srcKind == guid.KindDataBlock && dstKind == guid.KindEvent:
		return dispatchSatisfy(d, satisfyFrom(m, body.In.Dst, body.In.Slot))

	case srcKind == guid.KindDataBlock && dstKind == guid.KindTask:
		if task, ok := d.Tasks.Get(body.In.Dst); ok {
			task.Depv[body.In.Slot] = body.In.Src
		}
		return m.ToResponse(&msg.DepAddMsg{In: body.In}), cmn.OK

	case srcKind == guid.KindEvent && dstKind == guid.KindEvent:
		if e, ok := d.Events.Get(body.In.Src); ok {
			e.AddWaiter(cluster.Waiter{Task: body.In.Dst, Slot: body.In.Slot})
		}
		return m.ToResponse(&msg.DepAddMsg{In: body.In}), cmn.OK

	case srcKind == guid.KindEvent && dstKind == guid.KindTask:
		e, ok := d.Events.Get(body.In.Src)
		if !ok {
			return nil, cmn.EINVAL
		}
		if firedNow := e.AddWaiter(cluster.Waiter{Task: body.In.Dst, Slot: body.In.Slot}); firedNow {
			deliverSatisfy(d, cluster.Waiter{Task: body.In.Dst, Slot: body.In.Slot}, e.Payload())
		}
		return m.ToResponse(&msg.DepAddMsg{In: body.In}), cmn.OK

	default:
		return nil, cmn.EINVAL
	}
}

func satisfyFrom(m *msg.PolicyMsg, target guid.Guid, slot uint32) *msg.PolicyMsg {
	return &msg.PolicyMsg{
		Type: msg.DepSatisfy, Flags: m.Flags, Src: m.Src, Dst: m.Dst, MsgID: m.MsgID,
		Body: &msg.DepSatisfyMsg{In: msg.EvtSatisfyIn{Target: target, Slot: slot}},
	}
}

func kindOfSubject(d *Domain, g guid.Guid) guid.Kind {
	if g.IsNull() {
		return guid.KindNone
	}
	return g.Kind()
}

// ---- WORK_CREATE / WORK_DESTROY ----

var taskCounter atomic64

func dispatchWorkCreate(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.WorkCreateMsg)
	if (body.In.Paramc == 0) != (len(body.In.Paramv) == 0) {
		return nil, cmn.EINVAL
	}

	if body.In.TemplateGuid.Location() != d.Self {
		if _, ok := d.Registry.Lookup(body.In.TemplateGuid); !ok {
			return nil, d.Templates.Resolve(body.In.TemplateGuid, m)
		}
	}

	g := guid.Make(guid.KindTask, d.Self, taskCounter.next())
	depv := make([]guid.Guid, body.In.Depc)
	copy(depv, body.In.Depv)
	task := cluster.NewTask(g, body.In.TemplateGuid, body.In.Depc, body.In.Paramv)
	task.Depv = depv
	d.Tasks.Put(task)

	var outputEvent guid.Guid
	if body.In.LegacyWait || body.In.Props&needsOutputEventProp != 0 {
		outputEvent = guid.Make(guid.KindEvent, d.Self, evtCounter.next())
		d.Events.Put(cluster.NewEvent(outputEvent, msg.EventOnce, false, 0))
	}

	return m.ToResponse(&msg.WorkCreateMsg{In: body.In, Out: msg.WorkCreateOut{Guid: g, OutputEvent: outputEvent}}), cmn.OK
}

const needsOutputEventProp uint32 = 1 << 0

func dispatchWorkDestroy(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.WorkDestroyMsg)
	d.Tasks.Delete(body.In.Guid)
	return m.ToResponse(&msg.WorkDestroyMsg{In: body.In}), cmn.OK
}

// ---- EDTTEMP_CREATE / EDTTEMP_DESTROY ----

var tplCounter atomic64

func dispatchEdtTempCreate(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.EdtTempCreateMsg)
	g := guid.Make(guid.KindTaskTemplate, d.Self, tplCounter.next())
	if err := d.Registry.Register(g, guid.VariantLocal, guid.Handle(g.Counter())); err != nil {
		return nil, cmn.EGUIDEXISTS
	}
	d.putTemplate(g, &cluster.TaskTemplate{
		FuncID: body.In.FuncID, Paramc: body.In.Paramc, Depc: body.In.Depc, Name: body.In.Name, Hints: body.In.Hints,
	})
	return m.ToResponse(&msg.EdtTempCreateMsg{In: body.In, Out: msg.EdtTempCreateOut{Guid: g}}), cmn.OK
}

func dispatchEdtTempDestroy(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.EdtTempDestroyMsg)
	d.Registry.Unregister(body.In.Guid)
	return m.ToResponse(&msg.EdtTempDestroyMsg{In: body.In}), cmn.OK
}

// ---- GUID_INFO / GUID_METADATA_CLONE / GUID_RESERVE / GUID_UNRESERVE ----

func dispatchGuidInfo(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.GuidInfoMsg)
	b, ok := d.Registry.Lookup(body.In.Guid)
	if !ok {
		return nil, cmn.ENOENT
	}
	return m.ToResponse(&msg.GuidInfoMsg{In: body.In, Out: msg.GuidInfoOut{Kind: b.Kind, Location: body.In.Guid.Location()}}), cmn.OK
}

func dispatchGuidClone(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.GuidCloneMsg)
	if body.In.Guid.Location() != d.Self {
		return nil, cmn.EINVAL
	}
	switch body.In.Guid.Kind() {
	case guid.KindTaskTemplate:
		t, ok := d.getTemplate(body.In.Guid)
		if !ok {
			return nil, cmn.ENOENT
		}
		blob, _ := encodeTemplate(t)
		return m.ToResponse(&msg.GuidCloneMsg{In: body.In, Out: msg.GuidCloneOut{Guid: body.In.Guid, Blob: blob}}), cmn.OK
	default:
		return nil, cmn.ENOTSUP
	}
}

func dispatchGuidReserve(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.GuidReserveMsg)
	start, stride := d.Registry.Reserve(body.In.Kind, body.In.Count)
	return m.ToResponse(&msg.GuidReserveMsg{In: body.In, Out: msg.GuidReserveOut{StartGuid: start, SkipGuid: stride}}), cmn.OK
}

func dispatchGuidUnreserve(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.GuidUnreserveMsg)
	return m.ToResponse(&msg.GuidUnreserveMsg{In: body.In}), cmn.OK
}

// ---- HINT_SET / HINT_GET ----

func dispatchHintSet(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.HintSetMsg)
	d.Hints.Set(body.In.Guid, body.In.Hint)
	return m.ToResponse(&msg.HintSetMsg{In: body.In}), cmn.OK
}

func dispatchHintGet(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.HintGetMsg)
	out := body.Out
	out.Hint, _ = d.Hints.Get(body.In.Guid)
	return m.ToResponse(&msg.HintGetMsg{In: body.In, Out: out}), cmn.OK
}

// ---- SCHED_* (delegated opaque pass-through to the scheduler collaborator) ----

func dispatchSched(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.SchedOpaqueMsg)
	if d.Scheduler == nil {
		return nil, cmn.ENOTSUP
	}
	return m.ToResponse(&msg.SchedOpaqueMsg{K: body.K, In: body.In}), cmn.OK
}

// ---- MGT_RL_NOTIFY / MGT_MONITOR_PROGRESS ----

func dispatchRlNotify(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.MgtRlNotifyMsg)
	d.Shutdown.OnNotify(m.Src, body.In)
	return m.ToResponse(&msg.MgtRlNotifyMsg{In: body.In}), cmn.OK
}

func dispatchMonitorProgress(d *Domain, m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	body := m.Body.(*msg.MonitorProgressMsg)
	return m.ToResponse(&msg.MonitorProgressMsg{In: body.In, Out: body.Out}), cmn.OK
}

func encodeTemplate(t *cluster.TaskTemplate) ([]byte, error) {
	return templateCodec.Marshal(t)
}
