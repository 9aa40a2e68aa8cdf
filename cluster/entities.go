package cluster

import (
	"sync"

	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"go.uber.org/atomic"
)

// Event is the local record backing every EVT_CREATE'd object: a once,
// sticky, idempotent, latch, or channel event. Only latch and channel carry
// a live counter; the others are a single satisfied/payload pair guarded by
// mu. One Event is also used as a finish-EDT's output event and as a
// labeled EVT's reservation slot before its clone lands.
type Event struct {
	mu sync.Mutex

	Guid    guid.Guid
	Type    msg.EventType
	Labeled bool

	satisfied bool // once/sticky/idempotent/channel-has-at-least-one-gen
	payload   []byte

	// Latch only.
	latchCount atomic.Int64

	// Channel only: bounded generation count and how many satisfies have
	// been accepted so far; satisfy beyond MaxGen is rejected.
	channelGen    int64
	channelMaxGen int64

	waiters []Waiter
}

// Waiter is one pending dependence on this event: a task's input slot, or
// (when Slot == FinishSlot) a finish-EDT's latch check-in.
type Waiter struct {
	Task guid.Guid
	Slot uint32
}

const FinishSlot = ^uint32(0)

func NewEvent(g guid.Guid, t msg.EventType, labeled bool, params int64) *Event {
	e := &Event{Guid: g, Type: t, Labeled: labeled}
	switch t {
	case msg.EventLatch:
		e.latchCount.Store(params)
	case msg.EventChannel:
		e.channelMaxGen = params
	}
	return e
}

// Satisfy applies one EVT_SATISFY/DEP_SATISFY to the event per its type's
// arity rule. Returns the set of waiters newly unblocked (empty unless the
// event just became satisfied, or -- for channel -- every satisfy) and
// whether the call was accepted.
func (e *Event) Satisfy(payload []byte, slot uint32) (fired []Waiter, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.Type {
	case msg.EventOnce:
		if e.satisfied {
			return nil, false
		}
		e.satisfied, e.payload = true, payload
		fired, e.waiters = e.waiters, nil
		return fired, true

	case msg.EventSticky, msg.EventIdempotent:
		if e.satisfied && e.Type == msg.EventSticky {
			return nil, false // sticky: first satisfy wins, later ones rejected
		}
		e.satisfied, e.payload = true, payload
		fired, e.waiters = e.waiters, nil
		return fired, true

	case msg.EventLatch:
		var next int64
		if slot == msg.SlotDecr {
			next = e.latchCount.Dec()
		} else {
			next = e.latchCount.Inc()
		}
		if next > 0 {
			return nil, true
		}
		e.satisfied = true
		fired, e.waiters = e.waiters, nil
		return fired, true

	case msg.EventChannel:
		if e.channelMaxGen > 0 && e.channelGen >= e.channelMaxGen {
			return nil, false
		}
		e.channelGen++
		e.satisfied = true
		fired, e.waiters = e.waiters, nil
		return fired, true

	default:
		return nil, false
	}
}

// AddWaiter registers a dependence on this event. If already satisfied
// (and not a latch still counting down), the waiter is returned immediately
// as fired so the caller can deliver without ever queuing it.
func (e *Event) AddWaiter(w Waiter) (firedNow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.satisfied {
		return true
	}
	e.waiters = append(e.waiters, w)
	return false
}

func (e *Event) Payload() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payload
}

var eventPool = sync.Pool{New: func() interface{} { return &Event{} }}

// Task is the local record of an in-flight EDT's dependence slots: which
// input slots remain unsatisfied, and (for a finish-EDT) the latch its
// completion must check into.
type Task struct {
	mu sync.Mutex

	Guid        guid.Guid
	TemplateID  guid.Guid
	Depc        uint32
	Paramv      []uint64
	Depv        []guid.Guid
	pending     map[uint32]bool
	OutputEvent guid.Guid
	FinishLatch guid.Guid // Null if this EDT is not inside a finish scope
}

func NewTask(g, templateID guid.Guid, depc uint32, paramv []uint64) *Task {
	t := &Task{Guid: g, TemplateID: templateID, Depc: depc, Paramv: paramv, pending: make(map[uint32]bool, depc)}
	for i := uint32(0); i < depc; i++ {
		t.pending[i] = true
	}
	return t
}

// SlotFilled marks one dependence slot satisfied. Returns true once every
// slot has been filled and the task is ready to run.
func (t *Task) SlotFilled(slot uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, slot)
	return len(t.pending) == 0
}

func (t *Task) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) == 0
}

// EventTable is the home domain's registry of locally-materialised events:
// a single map under one RWMutex, not sharded like guid.Registry.
type EventTable struct {
	mu   sync.RWMutex
	rows map[guid.Guid]*Event
}

func NewEventTable() *EventTable { return &EventTable{rows: make(map[guid.Guid]*Event, 256)} }

func (t *EventTable) Put(e *Event) {
	t.mu.Lock()
	t.rows[e.Guid] = e
	t.mu.Unlock()
}

func (t *EventTable) Get(g guid.Guid) (*Event, bool) {
	t.mu.RLock()
	e, ok := t.rows[g]
	t.mu.RUnlock()
	return e, ok
}

func (t *EventTable) Delete(g guid.Guid) bool {
	t.mu.Lock()
	_, ok := t.rows[g]
	delete(t.rows, g)
	t.mu.Unlock()
	return ok
}

// TaskTable is the home domain's registry of in-flight EDTs, keyed by guid.
type TaskTable struct {
	mu   sync.RWMutex
	rows map[guid.Guid]*Task
}

func NewTaskTable() *TaskTable { return &TaskTable{rows: make(map[guid.Guid]*Task, 256)} }

func (t *TaskTable) Put(task *Task) {
	t.mu.Lock()
	t.rows[task.Guid] = task
	t.mu.Unlock()
}

func (t *TaskTable) Get(g guid.Guid) (*Task, bool) {
	t.mu.RLock()
	task, ok := t.rows[g]
	t.mu.RUnlock()
	return task, ok
}

func (t *TaskTable) Delete(g guid.Guid) {
	t.mu.Lock()
	delete(t.rows, g)
	t.mu.Unlock()
}

// HintTable stores the affinity hint attached to any GUID via HINT_SET,
// consulted by the placement oracle and returned verbatim by HINT_GET.
type HintTable struct {
	mu   sync.RWMutex
	rows map[guid.Guid]guid.Guid
}

func NewHintTable() *HintTable { return &HintTable{rows: make(map[guid.Guid]guid.Guid, 64)} }

func (t *HintTable) Set(subject, hint guid.Guid) {
	t.mu.Lock()
	t.rows[subject] = hint
	t.mu.Unlock()
}

func (t *HintTable) Get(subject guid.Guid) (guid.Guid, bool) {
	t.mu.RLock()
	h, ok := t.rows[subject]
	t.mu.RUnlock()
	return h, ok
}
