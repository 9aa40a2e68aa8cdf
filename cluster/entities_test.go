package cluster

import (
	"testing"

	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
)

func TestOnceEventFiresOnceAndRejectsSecondSatisfy(t *testing.T) {
	e := NewEvent(guid.Make(guid.KindEvent, 1, 1), msg.EventOnce, false, 0)
	e.AddWaiter(Waiter{Task: guid.Make(guid.KindTask, 1, 2), Slot: 0})

	fired, ok := e.Satisfy([]byte("x"), 0)
	if !ok || len(fired) != 1 {
		t.Fatalf("expected satisfy to fire the one waiter, got ok=%v fired=%d", ok, len(fired))
	}
	if _, ok := e.Satisfy([]byte("y"), 0); ok {
		t.Fatal("expected second satisfy on a once-event to be rejected")
	}
}

func TestLatchEventFiresOnlyAtZero(t *testing.T) {
	e := NewEvent(guid.Make(guid.KindEvent, 1, 3), msg.EventLatch, false, 2)
	if _, ok := e.Satisfy(nil, msg.SlotDecr); !ok {
		t.Fatal("decrement should be accepted")
	}
	fired, ok := e.Satisfy(nil, msg.SlotDecr)
	if !ok {
		t.Fatal("second decrement should be accepted")
	}
	_ = fired
	if !e.satisfied {
		t.Fatal("expected latch satisfied once count reaches zero")
	}
}

func TestChannelEventRejectsBeyondMaxGeneration(t *testing.T) {
	e := NewEvent(guid.Make(guid.KindEvent, 1, 4), msg.EventChannel, false, 1)
	if _, ok := e.Satisfy([]byte("g0"), 0); !ok {
		t.Fatal("first generation should be accepted")
	}
	if _, ok := e.Satisfy([]byte("g1"), 0); ok {
		t.Fatal("expected satisfy beyond max generation to be rejected")
	}
}

func TestAddWaiterOnAlreadySatisfiedFiresImmediately(t *testing.T) {
	e := NewEvent(guid.Make(guid.KindEvent, 1, 5), msg.EventSticky, false, 0)
	e.Satisfy([]byte("done"), 0)
	if !e.AddWaiter(Waiter{Task: guid.Make(guid.KindTask, 1, 6), Slot: 0}) {
		t.Fatal("expected AddWaiter to report immediate fire for an already-satisfied event")
	}
}

func TestTaskReadyOnceAllSlotsFilled(t *testing.T) {
	task := NewTask(guid.Make(guid.KindTask, 1, 7), guid.Make(guid.KindTaskTemplate, 1, 1), 2, nil)
	if task.Ready() {
		t.Fatal("task with unfilled slots must not be ready")
	}
	task.SlotFilled(0)
	if task.Ready() {
		t.Fatal("task still has one unfilled slot")
	}
	if !task.SlotFilled(1) {
		t.Fatal("expected task to become ready once the last slot fills")
	}
}

func TestHintTableRoundTrip(t *testing.T) {
	ht := NewHintTable()
	subject := guid.Make(guid.KindDataBlock, 1, 8)
	hint := guid.Make(guid.KindAffinityGroup, 1, 1)
	ht.Set(subject, hint)
	got, ok := ht.Get(subject)
	if !ok || got != hint {
		t.Fatalf("expected hint round-trip, got %v ok=%v", got, ok)
	}
}
