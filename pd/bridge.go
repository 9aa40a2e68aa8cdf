package pd

import (
	"context"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
)

// PollResult is the four-valued outcome of PollMessage, matching the
// worker-to-core interface named in §6.
type PollResult uint8

const (
	NoMessage PollResult = iota
	MoreMessage
	NoOutgoing
	NoIncoming
)

// WorkItem is the unit take_work/give_work exchange with the external
// worker-side scheduler: an EDT's guid plus whatever opaque payload the
// scheduler attaches (its own closure/frame representation).
type WorkItem struct {
	Guid guid.Guid
	Data []byte
}

// WorkSource is implemented by the external worker-side deque collaborator
// (out of scope per §1; the core only depends on this narrow interface).
type WorkSource interface {
	TakeWork(count int) []WorkItem
	GiveWork(items []WorkItem)
}

// WorkerBridge is the thin contract a compute thread calls against: submit
// a message for processing, send one explicitly, poll/wait for arrivals,
// and exchange work items with the scheduler-side deque.
type WorkerBridge struct {
	d      *Domain
	router *Router
	work   WorkSource
}

func NewWorkerBridge(d *Domain, work WorkSource) *WorkerBridge {
	return &WorkerBridge{d: d, router: NewRouter(d), work: work}
}

// ProcessMessage is process_message(msg, blocking) -> status.
func (w *WorkerBridge) ProcessMessage(ctx context.Context, m *msg.PolicyMsg, blocking bool) (*msg.PolicyMsg, cmn.Status) {
	return w.router.ProcessMessage(ctx, m, blocking)
}

// SendMessage is send_message(dest, msg, handle?, props): always one-way,
// regardless of whether the message is itself request- or response-shaped.
func (w *WorkerBridge) SendMessage(dst guid.Location, m *msg.PolicyMsg) {
	m.Dst = dst
	m.Flags = m.Flags.Set(msg.Persist | msg.AsyncMsg)
	w.d.SendOutbound(m)
}

// PollMessage is poll_message(handle?) -> {NO_MESSAGE, MORE_MESSAGE,
// NO_OUTGOING, NO_INCOMING}. It takes no handle: it polls this domain's
// inbound queue directly and delivers at most one frame per call.
func (w *WorkerBridge) PollMessage() (*msg.PolicyMsg, PollResult) {
	frame, ok := w.d.Transport.Poll(w.d.Self)
	if !ok {
		return nil, NoIncoming
	}
	m, err := msg.Unmarshal(frame)
	if err != nil {
		return nil, NoMessage
	}
	w.router.Deliver(m)
	return m, MoreMessage
}

// WaitMessage is wait_message(handle) -> status: block until a frame
// arrives for this domain or ctx is cancelled.
func (w *WorkerBridge) WaitMessage(ctx context.Context) (*msg.PolicyMsg, cmn.Status) {
	frame, err := w.d.Transport.Wait(ctx, w.d.Self)
	if err != nil {
		return nil, cmn.EINVAL
	}
	m, err := msg.Unmarshal(frame)
	if err != nil {
		return nil, cmn.EINVAL
	}
	w.router.Deliver(m)
	return m, cmn.OK
}

// TakeWork / GiveWork are the two-slot interface to the external deque.
func (w *WorkerBridge) TakeWork(count int) []WorkItem {
	if w.work == nil {
		return nil
	}
	return w.work.TakeWork(count)
}

func (w *WorkerBridge) GiveWork(items []WorkItem) {
	if w.work == nil {
		return
	}
	w.work.GiveWork(items)
}

// MonitorProgress is monitor_progress(type, monitoree): a cooperative
// yield while waiting on a resolution event (template clone, acquire
// response, labeled-guid bind), modelled per the design notes as a
// self-rescheduling callback rather than a spin loop. The scheduler hook,
// if present, is given the chance to reschedule this call; with no hook
// installed the caller's own yield function is invoked once so progress is
// still made without busy-spinning the hardware thread.
func (w *WorkerBridge) MonitorProgress(monitoree guid.Guid, yield func()) {
	if w.d.Scheduler != nil {
		m := msg.NewRequest(msg.MgtMonitorProgress, w.d.Self, w.d.Self, w.d.NextMsgID(), &msg.MonitorProgressMsg{
			In: msg.MonitorProgressIn{Monitoree: monitoree},
		})
		w.d.Scheduler.PreProcess(m)
		return
	}
	yield()
}
