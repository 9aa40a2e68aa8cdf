package cluster

import (
	"sync"

	"github.com/arts-edt/corepd/guid"
	"go.uber.org/atomic"
)

// Notif is implemented by anything that can report its own completion as a
// NotifMsg -- a satisfy acknowledgement crossing back to a remote waiter's
// domain, or a finish-EDT's latch check-in.
type Notif interface {
	ToNotifMsg() NotifMsg
}

// NotifMsg is the payload carried home once a monitored subject (an event
// satisfy, a finish-scope latch) completes.
type NotifMsg struct {
	Subject guid.Guid
	Kind    string
	ErrMsg  string
}

// NotifListenerBase tracks one cross-PD subject from the watching domain's
// side: has it finished, did it abort, and who else (in-process) is waiting
// to hear about it. Compare the teacher's nl.NotifListenerBase: same
// finished/aborted latch, generalised from a job UUID to an arbitrary GUID.
type NotifListenerBase struct {
	mu sync.Mutex

	subject  guid.Guid
	kind     string
	finished atomic.Bool
	aborted  atomic.Bool
	waiters  []chan struct{}
}

// interface guard
var _ Notif = (*finishNotif)(nil)

func NewNotifListener(subject guid.Guid, kind string) *NotifListenerBase {
	return &NotifListenerBase{subject: subject, kind: kind}
}

func (n *NotifListenerBase) Subject() guid.Guid { return n.subject }
func (n *NotifListenerBase) Finished() bool     { return n.finished.Load() }
func (n *NotifListenerBase) Aborted() bool      { return n.aborted.Load() }

// Wait returns a channel closed exactly once, when MarkFinished or MarkAborted
// is next called (or immediately, via a pre-closed channel, if already done).
func (n *NotifListenerBase) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{})
	if n.finished.Load() || n.aborted.Load() {
		close(ch)
		return ch
	}
	n.waiters = append(n.waiters, ch)
	return ch
}

func (n *NotifListenerBase) MarkFinished() { n.finish(false) }
func (n *NotifListenerBase) MarkAborted()  { n.finish(true) }

func (n *NotifListenerBase) finish(aborted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.finished.Load() || n.aborted.Load() {
		return
	}
	if aborted {
		n.aborted.Store(true)
	} else {
		n.finished.Store(true)
	}
	for _, ch := range n.waiters {
		close(ch)
	}
	n.waiters = nil
}

// finishNotif adapts a finish-EDT's latch event into a Notif so it can be
// delivered through the same MGT/notification path as a satisfy ack.
type finishNotif struct {
	subject guid.Guid
	errMsg  string
}

func (f *finishNotif) ToNotifMsg() NotifMsg {
	return NotifMsg{Subject: f.subject, Kind: "finish-edt", ErrMsg: f.errMsg}
}

// NotifRegistry is the per-domain table of in-flight listeners, keyed by the
// subject GUID they watch (an event, a finish-scope's latch, a remote DB
// destroy). A router delivering a satisfy ack or latch check-in looks the
// subject up here and calls MarkFinished/MarkAborted on whatever it finds.
type NotifRegistry struct {
	mu   sync.Mutex
	rows map[guid.Guid]*NotifListenerBase
}

func NewNotifRegistry() *NotifRegistry {
	return &NotifRegistry{rows: make(map[guid.Guid]*NotifListenerBase, 64)}
}

func (r *NotifRegistry) Register(nl *NotifListenerBase) {
	r.mu.Lock()
	r.rows[nl.subject] = nl
	r.mu.Unlock()
}

func (r *NotifRegistry) Get(subject guid.Guid) (*NotifListenerBase, bool) {
	r.mu.Lock()
	nl, ok := r.rows[subject]
	r.mu.Unlock()
	return nl, ok
}

func (r *NotifRegistry) Remove(subject guid.Guid) {
	r.mu.Lock()
	delete(r.rows, subject)
	r.mu.Unlock()
}

// Deliver looks up subject and marks it finished/aborted, discarding the
// notification silently if nothing local is watching it -- the same
// best-effort behaviour as the teacher's notification dispatch when a job's
// owner has already gone away.
func (r *NotifRegistry) Deliver(msg NotifMsg) {
	nl, ok := r.Get(msg.Subject)
	if !ok {
		return
	}
	if msg.ErrMsg != "" {
		nl.MarkAborted()
	} else {
		nl.MarkFinished()
	}
}
