// Package transport is the external comm contract: how one policy domain's
// marshalled PolicyMsg bytes reach another's. Compare the teacher's
// streaming collector -- there, per-destination streamBase objects queue
// and pace object frames over HTTP; here, per-destination channels queue
// marshalled frames between goroutines (or, in a real multi-process
// deployment, adapt Sender/Receiver to a real socket).
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package transport

import (
	"context"

	"github.com/arts-edt/corepd/guid"
	"github.com/pkg/errors"
)

// Frame is one marshalled PolicyMsg, ready for the wire.
type Frame = []byte

// Sender hands a frame to the transport for delivery to dst. Send must not
// block the caller on delivery completion; queuing failure (destination
// unknown, queue full) is the only error it reports.
type Sender interface {
	Send(dst guid.Location, f Frame) error
}

// Receiver is the inbound half: Poll is non-blocking (used by a worker's
// poll-for-work loop), Wait blocks until a frame arrives or ctx is done
// (used by the router's blocking remote send and WorkerBridge.WaitMessage).
type Receiver interface {
	Poll(self guid.Location) (f Frame, ok bool)
	Wait(ctx context.Context, self guid.Location) (Frame, error)
}

// Transport is the full contract package pd depends on.
type Transport interface {
	Sender
	Receiver
}

var ErrUnknownDestination = errors.New("transport: unknown destination location")
