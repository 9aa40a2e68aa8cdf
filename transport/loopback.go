package transport

import (
	"context"
	"sync"

	"github.com/arts-edt/corepd/guid"
	"github.com/golang/glog"
)

const defaultQueueDepth = 256

// Loopback is an in-process Transport: every registered location gets its
// own buffered channel, and Send/Poll/Wait move frames between them
// directly, with no marshalling round-trip through an actual socket. It
// backs the pd and transport tests and stands in for a real multi-process
// comm layer (gRPC, raw TCP, RDMA) in single-binary deployments.
type Loopback struct {
	mu     sync.RWMutex
	queues map[guid.Location]chan Frame
	depth  int
}

func NewLoopback() *Loopback {
	return &Loopback{queues: make(map[guid.Location]chan Frame, 16), depth: defaultQueueDepth}
}

// Register creates the inbound queue for loc. Must be called once per
// location before any Send targeting it or Poll/Wait on it.
func (l *Loopback) Register(loc guid.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.queues[loc]; ok {
		return
	}
	l.queues[loc] = make(chan Frame, l.depth)
}

func (l *Loopback) queue(loc guid.Location) (chan Frame, bool) {
	l.mu.RLock()
	q, ok := l.queues[loc]
	l.mu.RUnlock()
	return q, ok
}

func (l *Loopback) Send(dst guid.Location, f Frame) error {
	q, ok := l.queue(dst)
	if !ok {
		return ErrUnknownDestination
	}
	select {
	case q <- f:
		return nil
	default:
		glog.Warningf("transport: queue for location %d full (depth %d), dropping frame", dst, l.depth)
		return errQueueFull
	}
}

func (l *Loopback) Poll(self guid.Location) (Frame, bool) {
	q, ok := l.queue(self)
	if !ok {
		return nil, false
	}
	select {
	case f := <-q:
		return f, true
	default:
		return nil, false
	}
}

func (l *Loopback) Wait(ctx context.Context, self guid.Location) (Frame, error) {
	q, ok := l.queue(self)
	if !ok {
		return nil, ErrUnknownDestination
	}
	select {
	case f := <-q:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errQueueFull = &queueFullError{}

type queueFullError struct{}

func (*queueFullError) Error() string { return "transport: destination queue full" }

// interface guard
var _ Transport = (*Loopback)(nil)
