package msg

import (
	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
)

// PolicyMsg is the typed request/response record exchanged between the
// router, the local dispatcher, and (marshalled) the external transport.
//
// Invariant: UsefulSize <= BufferSize. On a location flip from request to
// response the message must still satisfy BufferSize >= response base
// size; EnsureCapacity enforces this by returning a freshly allocated
// buffer when it does not.
type PolicyMsg struct {
	Type       Kind
	Flags      Flags
	Src        guid.Location
	Dst        guid.Location
	MsgID      uint64
	BufferSize uint32
	UsefulSize uint32
	// Status carries a response's outcome across process/transport
	// boundaries (§7: the core never swallows an error silently). Zero
	// value is cmn.OK, so a request or a successful response need never
	// set it explicitly.
	Status cmn.Status
	Body   Body
}

// IsRequest / IsResponse read the flag bits, not Body, since a message may
// be RESPONSE-flagged while still carrying a request-shaped Body in the
// LOCAL_PROCESS short-circuit path (§4.2 acquire serving a cached payload
// "as a RESPONSE message with original request fields preserved").
func (m *PolicyMsg) IsRequest() bool  { return m.Flags.Has(Request) }
func (m *PolicyMsg) IsResponse() bool { return m.Flags.Has(Response) }

// ToResponse flips Request->Response in place and fills Body, returning the
// same message so call sites can chain it the way the teacher chains
// builder-style mutators.
func (m *PolicyMsg) ToResponse(body Body) *PolicyMsg {
	m.Flags = m.Flags.FlipToResponse()
	m.Body = body
	return m
}

// NewRequest builds a fresh request-flagged message bound for dst, with a
// freshly minted MsgID from the caller (the per-PD monotonic counter lives
// in package pd, not here, to avoid this package owning process-global
// state).
func NewRequest(kind Kind, src, dst guid.Location, msgID uint64, body Body) *PolicyMsg {
	return &PolicyMsg{
		Type:  kind,
		Flags: Request,
		Src:   src,
		Dst:   dst,
		MsgID: msgID,
		Body:  body,
	}
}

// ToErrorResponse builds a response-flagged frame reporting status back to
// originator, reusing the request's own Body (the failure carries no Out
// payload, only the status code) rather than requiring every dispatch
// failure path to construct one. Mirrors ToResponse's in-place style but
// keeps m untouched and returns a fresh message, since the caller still
// needs m's original fields (Src in particular) after sending this back.
func (m *PolicyMsg) ToErrorResponse(status cmn.Status) *PolicyMsg {
	resp := *m
	resp.Flags = m.Flags.FlipToResponse()
	resp.Src, resp.Dst = m.Dst, m.Src
	resp.Status = status
	return &resp
}
