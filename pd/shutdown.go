package pd

import (
	"sync"

	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"go.uber.org/atomic"
)

// ShutdownBarrier implements §4.7's all-to-all quiescence protocol for the
// RL_USER_OK teardown: every domain notifies every neighbor, counts its own
// increment plus one ack per neighbor, and transitions once the count
// closes.
type ShutdownBarrier struct {
	d *Domain

	mu       sync.Mutex
	started  bool
	exitCode int
	ackCount atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

func NewShutdownBarrier(d *Domain) *ShutdownBarrier {
	return &ShutdownBarrier{d: d, done: make(chan struct{})}
}

// Begin starts this domain's teardown, as if the user called shutdown(code)
// locally. Broadcasts MGT_RL_NOTIFY to every neighbor and registers this
// domain's own increment.
func (b *ShutdownBarrier) Begin(exitCode int) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.exitCode = exitCode
	b.mu.Unlock()

	for _, n := range b.d.Neighbors() {
		out := msg.NewRequest(msg.MgtRlNotify, b.d.Self, n, b.d.NextMsgID(), &msg.MgtRlNotifyMsg{
			In: msg.RlNotifyIn{Runlevel: msg.RlComputeOK, Props: uint32(msg.Request | msg.Persist), ErrorCode: exitCode},
		})
		b.d.SendOutbound(out)
	}
	b.increment()
}

// OnNotify handles an incoming MGT_RL_NOTIFY: starts this domain's own
// teardown if it had not already begun (propagating the first-seen exit
// code) -- Begin's increment is this domain's own term in the count -- then
// separately registers the ack this specific neighbor message represents.
// The two increments are distinct even when the very first notify received
// is what triggers Begin: in a fully connected mesh every domain still gets
// exactly one message per neighbor, so both terms are required to reach
// neighborCount+1.
func (b *ShutdownBarrier) OnNotify(from guid.Location, in msg.RlNotifyIn) {
	b.mu.Lock()
	alreadyStarted := b.started
	b.mu.Unlock()
	if !alreadyStarted {
		b.Begin(in.ErrorCode)
	}
	b.increment()
}

func (b *ShutdownBarrier) increment() {
	n := b.ackCount.Add(1)
	if int(n) == len(b.d.Neighbors())+1 {
		b.doneOnce.Do(func() { close(b.done) })
	}
}

// Done reports when this domain has observed its own increment plus one
// from every neighbor, i.e. it may safely finish tearing down.
func (b *ShutdownBarrier) Done() <-chan struct{} { return b.done }

// ExitCode returns the exit code that triggered this barrier -- the first
// one seen, either from a local Begin or a remote OnNotify.
func (b *ShutdownBarrier) ExitCode() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitCode
}
