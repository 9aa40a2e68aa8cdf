package pd

import (
	"context"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"github.com/golang/glog"
)

// Router is the MessageRouter of §4.5: every message a worker presents
// passes through ProcessMessage before reaching the LocalDispatcher or the
// wire; frames arriving off the transport and re-injected queued messages
// enter through Deliver instead.
type Router struct {
	d *Domain
}

func NewRouter(d *Domain) *Router { return &Router{d: d} }

// ProcessMessage implements the full router contract. blocking selects
// whether a remotely-destined, response-expecting message waits here for
// its answer (worker-synchronous call) or returns EPEND immediately
// (async two-way: when its response later arrives through Deliver, only
// the proxy response kinds act on it; nothing is handed back to this
// caller).
func (r *Router) ProcessMessage(ctx context.Context, m *msg.PolicyMsg, blocking bool) (*msg.PolicyMsg, cmn.Status) {
	if r.d.Scheduler != nil && !m.Flags.Has(msg.IgnorePreProcess) {
		if !r.d.Scheduler.PreProcess(m) {
			return nil, cmn.EPEND
		}
	}

	if status := r.placeDestination(m); status != cmn.OK {
		return nil, status
	}
	r.specialCase(m)

	if m.Dst != r.d.Self {
		return r.sendRemote(ctx, m, blocking)
	}
	return r.deliverLocal(m)
}

// Deliver re-enters a previously-queued message as if freshly arrived,
// skipping placement (already fixed) and pre-process (already run once).
// Used by cluster.Dispatcher.Reprocess, and by the WorkerBridge for every
// frame that comes off the transport.
func (r *Router) Deliver(m *msg.PolicyMsg) {
	if m.Dst != r.d.Self {
		r.d.SendOutbound(m)
		return
	}
	if m.IsResponse() {
		// A response addressed to self has nothing further to dispatch: the
		// three proxy kinds are consumed here; a response to a purely local
		// Acquire that was queued behind another caller's Fetch (no Fetch
		// flag, same domain both ends) is terminal too -- its caller learns
		// of resolution via ProxyDbs.Snapshot/MonitorProgress rather than a
		// blocking channel, so replaying it through Dispatch would wrongly
		// re-run the original request's side effects a second time.
		r.deliverProxyResponse(m)
		return
	}
	if _, status := r.deliverLocal(m); status == cmn.EPEND {
		return // queued behind a Fetch/Clone in flight; will redeliver later
	}
}

// deliverProxyResponse intercepts the three response kinds the proxy layer
// originates itself (§4.2's fetch/release, §4.3's clone): these never reach
// the LocalDispatcher, since replaying them through Dispatch would be
// mistaken for a fresh incoming request of the same kind. Reports whether it
// consumed m.
func (r *Router) deliverProxyResponse(m *msg.PolicyMsg) bool {
	switch body := m.Body.(type) {
	case *msg.DbAcquireMsg:
		if !m.Flags.Has(msg.Fetch) {
			return false
		}
		if m.Status != cmn.OK {
			// The home domain failed the fetch (e.g. the block was destroyed
			// out from under a pending acquire); there is no payload to land
			// in the cache, so don't hand a zero-valued Out to OnAcquireResponse
			// as if it were one.
			glog.Warningf("fetch for %s failed: %s", body.In.Guid, m.Status)
			return true
		}
		if err := r.d.ProxyDbs.OnAcquireResponse(m); err != nil {
			glog.Warningf("on_acquire_response %s: %v", body.In.Guid, err)
		}
		return true
	case *msg.DbReleaseMsg:
		if err := r.d.ProxyDbs.OnReleaseResponse(body.In.Guid); err != nil {
			glog.Warningf("on_release_response %s: %v", body.In.Guid, err)
		}
		return true
	case *msg.GuidCloneMsg:
		if err := r.d.Templates.OnCloneResponse(m, r.d.Registry, guid.Handle(body.Out.Guid.Counter())); err != nil {
			glog.Warningf("on_clone_response %s: %v", body.In.Guid, err)
		}
		return true
	}
	return false
}

func (r *Router) deliverLocal(m *msg.PolicyMsg) (*msg.PolicyMsg, cmn.Status) {
	if base, err := msg.BaseSize(responseKindOf(m)); err == nil && m.BufferSize < base {
		m.BufferSize = base // promote to a response-sized buffer per §4.5 step 5
	}
	resp, status := Dispatch(r.d, m)
	if status == cmn.EPEND {
		return nil, status
	}
	if resp == nil {
		// Dispatch failed. A foreign-sourced request still gets an answer --
		// the core never swallows an error silently (§7) -- even though
		// nothing here built a success body for it.
		if status != cmn.OK && m.Src != r.d.Self {
			errResp := m.ToErrorResponse(status)
			errResp.Flags = errResp.Flags.Set(msg.Persist | msg.AsyncMsg)
			r.d.SendOutbound(errResp)
		}
		return nil, status
	}
	if m.Src != r.d.Self {
		// The request travelled here from its originator; sending the
		// response back out means swapping src/dst, not reusing the
		// request's own direction.
		resp.Dst, resp.Src = resp.Src, r.d.Self
		resp.Status = status
		resp.Flags = resp.Flags.Set(msg.Persist | msg.AsyncMsg)
		r.d.SendOutbound(resp)
		return nil, status
	}
	if r.d.Scheduler != nil && m.Flags.Has(msg.ReqPostProcess) {
		r.d.Scheduler.PostProcess(m)
	}
	return resp, status
}

func (r *Router) sendRemote(ctx context.Context, m *msg.PolicyMsg, blocking bool) (*msg.PolicyMsg, cmn.Status) {
	wantsResponse := m.Flags.Has(msg.ReqResponse) || m.IsRequest()
	if wantsResponse && blocking {
		m.Flags = m.Flags.Set(msg.Persist | msg.Twoway)
		r.d.SendOutbound(m)
		frame, err := r.d.Transport.Wait(ctx, r.d.Self)
		if err != nil {
			return nil, cmn.EINVAL
		}
		respMsg, err := msg.Unmarshal(frame)
		if err != nil {
			return nil, cmn.EINVAL
		}
		return respMsg, respMsg.Status
	}
	m.Flags = m.Flags.Set(msg.Persist | msg.AsyncMsg)
	r.d.SendOutbound(m)
	return nil, cmn.EPEND
}

// placeDestination implements §4.4: only messages still addressed to self
// (i.e. not yet routed -- a locally originated call) get a placement
// decision; once a message has left its origin, Dst is fixed for good. A
// failed placement must abort the call rather than silently dispatch (or
// send) to whatever stale Dst the message already carried.
func (r *Router) placeDestination(m *msg.PolicyMsg) cmn.Status {
	if m.Src != r.d.Self || m.Dst != r.d.Self {
		return cmn.OK
	}
	switch m.Type {
	case msg.DbCreate:
		body := m.Body.(*msg.DbCreateMsg)
		loc, err := r.d.Oracle.PlaceNew(body.In.Hint, false)
		if err != nil {
			return cmn.StatusOf(err)
		}
		m.Dst = loc
	case msg.WorkCreate:
		body := m.Body.(*msg.WorkCreateMsg)
		internal := body.In.Props&internalEdtProp != 0
		loc, err := r.d.Oracle.PlaceNew(body.In.Hint, internal)
		if err != nil {
			return cmn.StatusOf(err)
		}
		m.Dst = loc
	// DB_ACQUIRE and DB_RELEASE are deliberately NOT routed to the
	// block's home here: they always dispatch locally first so
	// dispatchDbAcquire/dispatchDbRelease can consult ProxyDbs, which
	// manages its own remote fetch/release traffic independently of the
	// router (§4.2).
	case msg.DbFree:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.DbFreeMsg).In.Guid)
	case msg.WorkDestroy:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.WorkDestroyMsg).In.Guid)
	case msg.EdtTempDestroy:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.EdtTempDestroyMsg).In.Guid)
	case msg.GuidInfo:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.GuidInfoMsg).In.Guid)
	case msg.HintSet:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.HintSetMsg).In.Guid)
	case msg.HintGet:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.HintGetMsg).In.Guid)
	case msg.DepAdd:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.DepAddMsg).In.Dst)
	case msg.EvtSatisfy:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.EvtSatisfyMsg).In.Target)
	case msg.DepSatisfy:
		m.Dst = r.d.Oracle2Location(m.Body.(*msg.DepSatisfyMsg).In.Target)
	}
	return cmn.OK
}

// internalEdtProp marks a WORK_CREATE as runtime-internal (finish-scope
// bookkeeping EDTs, clone-completion continuations): always placed local.
const internalEdtProp uint32 = 1 << 31

// specialCase implements two of the router intercepts named in §4.5 step 3
// (channel-satisfy promotion and the finish-EDT latch increment); the
// DB_ACQUIRE proxy intercept happens in dispatchDbAcquire instead.
func (r *Router) specialCase(m *msg.PolicyMsg) {
	switch m.Type {
	case msg.EvtSatisfy, msg.DepSatisfy:
		if isChannelTarget(r.d, m) {
			m.Flags = m.Flags.Set(msg.ReqResponse | msg.Twoway)
		}
	case msg.WorkCreate:
		body := m.Body.(*msg.WorkCreateMsg)
		if body.In.Props&finishScopeProp != 0 && m.Dst != r.d.Self {
			// Parent latch increments synchronously, before the remote
			// WORK_CREATE leaves, per §4.5's finish-EDT ordering rule.
			if latch, ok := r.d.Events.Get(finishLatchOf(body)); ok {
				latch.Satisfy(nil, msg.SlotIncr)
			}
		}
	}
}

const finishScopeProp uint32 = 1 << 30

func finishLatchOf(body *msg.WorkCreateMsg) guid.Guid {
	if len(body.In.Depv) > 0 {
		return body.In.Depv[0]
	}
	return guid.Null
}

func isChannelTarget(d *Domain, m *msg.PolicyMsg) bool {
	var target guid.Guid
	switch b := m.Body.(type) {
	case *msg.EvtSatisfyMsg:
		target = b.In.Target
	case *msg.DepSatisfyMsg:
		target = b.In.Target
	}
	e, ok := d.Events.Get(target)
	return ok && e.Type == msg.EventChannel
}

// responseKindOf returns the kind whose BaseSize should be used to check
// buffer capacity before local dispatch -- identical to the request kind,
// since every body type here carries both its In and Out fields in one
// struct.
func responseKindOf(m *msg.PolicyMsg) msg.Kind { return m.Type }

// Oracle2Location is a tiny adapter kept on Domain so router code reads as
// r.d.Oracle2Location(guid) instead of threading xreg's package-level
// LocationOf through an import alias at every call site above.
func (d *Domain) Oracle2Location(g guid.Guid) guid.Location { return g.Location() }
