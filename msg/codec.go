package msg

import (
	"bytes"
	"encoding/binary"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Mode selects how Marshal lays out the wire buffer.
type Mode uint8

const (
	// Append: payload bytes follow the JSON body in the same buffer and
	// embedded pointers become offsets into it. Only permitted when
	// sender and receiver share an address space.
	Append Mode = iota
	// FullCopy: a fresh, fully self-contained buffer every time. Required
	// for every cross-PD message that carries a data-block payload.
	FullCopy
)

// wireHeader is the fixed-width part of the marshalled message. All fields
// are fixed-size integers so encoding/binary can write/read it directly
// without reflection over variable-length data.
type wireHeader struct {
	Type          uint16
	Flags         uint32
	Src           uint16
	Dst           uint16
	MsgID         uint64
	BufferSize    uint32
	UsefulSize    uint32
	BodyLen       uint32
	PayloadOffset uint32
	PayloadLen    uint32
	Status        uint16
}

const headerSize = 2 + 4 + 2 + 2 + 8 + 4 + 4 + 4 + 4 + 4 + 2

// HasPayload is implemented by the body types that carry an embedded
// data-block payload (DB_CREATE/DB_ACQUIRE responses, DB_RELEASE requests,
// GUID_METADATA_CLONE responses). Codec extracts/relocates it separately
// from the JSON-encoded scalar fields so the wire format matches the
// spec's "header + union body + appended payload, offsets not pointers"
// shape instead of inlining it (base64-escaped) inside the JSON.
type HasPayload interface {
	PayloadPtr() *[]byte
}

func (m *DbCreateMsg) PayloadPtr() *[]byte  { return &m.Out.Ptr }
func (m *DbAcquireMsg) PayloadPtr() *[]byte { return &m.Out.Ptr }
func (m *DbReleaseMsg) PayloadPtr() *[]byte { return &m.In.Payload }
func (m *GuidCloneMsg) PayloadPtr() *[]byte { return &m.Out.Blob }

var bodyFactory = map[Kind]func() Body{
	DbCreate:           func() Body { return &DbCreateMsg{} },
	DbAcquire:          func() Body { return &DbAcquireMsg{} },
	DbRelease:          func() Body { return &DbReleaseMsg{} },
	DbFree:             func() Body { return &DbFreeMsg{} },
	EvtCreate:          func() Body { return &EvtCreateMsg{} },
	EvtSatisfy:         func() Body { return &EvtSatisfyMsg{} },
	DepSatisfy:         func() Body { return &DepSatisfyMsg{} },
	DepAdd:             func() Body { return &DepAddMsg{} },
	WorkCreate:         func() Body { return &WorkCreateMsg{} },
	WorkDestroy:        func() Body { return &WorkDestroyMsg{} },
	EdtTempCreate:      func() Body { return &EdtTempCreateMsg{} },
	EdtTempDestroy:     func() Body { return &EdtTempDestroyMsg{} },
	GuidInfo:           func() Body { return &GuidInfoMsg{} },
	GuidMetadataClone:  func() Body { return &GuidCloneMsg{} },
	GuidReserve:        func() Body { return &GuidReserveMsg{} },
	GuidUnreserve:      func() Body { return &GuidUnreserveMsg{} },
	HintSet:            func() Body { return &HintSetMsg{} },
	HintGet:            func() Body { return &HintGetMsg{} },
	MgtRlNotify:        func() Body { return &MgtRlNotifyMsg{} },
	MgtMonitorProgress: func() Body { return &MonitorProgressMsg{} },
}

// NewBody allocates the zero-valued body type registered for kind, used by
// the router to build the sched-delegated opaque bodies too.
func NewBody(kind Kind) (Body, error) {
	if f, ok := bodyFactory[kind]; ok {
		return f(), nil
	}
	switch kind {
	case SchedGetWork, SchedNotify, SchedTransact, SchedAnalyze:
		return &SchedOpaqueMsg{K: kind}, nil
	}
	return nil, errors.Errorf("msg: unsupported kind %s", kind)
}

// BaseSize returns the minimum buffer size a response of this kind can be
// marshalled into, derived once per kind from an empty instance rather than
// hand-maintained per the design notes ("base-size functions derivable").
func BaseSize(kind Kind) (uint32, error) {
	body, err := NewBody(kind)
	if err != nil {
		return 0, err
	}
	data, err := jsoniter.Marshal(body)
	if err != nil {
		return 0, err
	}
	return headerSize + uint32(len(data)), nil
}

// Marshal serialises msg per mode, reusing buf when it already has enough
// capacity and mode is Append; FullCopy always allocates fresh.
func Marshal(m *PolicyMsg, buf []byte, mode Mode) ([]byte, error) {
	var payload []byte
	hp, hasPayload := m.Body.(HasPayload)
	if hasPayload {
		payload = *hp.PayloadPtr()
		*hp.PayloadPtr() = nil // keep the payload out of the JSON body
	}
	bodyData, err := jsoniter.Marshal(m.Body)
	if hasPayload {
		*hp.PayloadPtr() = payload
	}
	if err != nil {
		return nil, errors.Wrap(err, "msg: marshal body")
	}
	total := headerSize + len(bodyData) + len(payload)

	var out []byte
	if mode == Append && cap(buf) >= total {
		out = buf[:total]
	} else {
		out = make([]byte, total)
	}

	hdr := wireHeader{
		Type:          uint16(m.Type),
		Flags:         uint32(m.Flags),
		Src:           uint16(m.Src),
		Dst:           uint16(m.Dst),
		MsgID:         m.MsgID,
		BufferSize:    uint32(cap(out)),
		UsefulSize:    uint32(total),
		BodyLen:       uint32(len(bodyData)),
		PayloadOffset: uint32(headerSize + len(bodyData)),
		PayloadLen:    uint32(len(payload)),
		Status:        uint16(m.Status),
	}
	w := bytes.NewBuffer(out[:0])
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "msg: write header")
	}
	w.Write(bodyData)
	w.Write(payload)
	return w.Bytes()[:total], nil
}

// Unmarshal decodes a wire buffer into a PolicyMsg, relocating the embedded
// payload (if any) to a slice aliasing buf's backing array rather than
// copying it -- the Go analogue of "offsets relocated back to pointers".
func Unmarshal(buf []byte) (*PolicyMsg, error) {
	if len(buf) < headerSize {
		return nil, errors.Errorf("msg: buffer too short (%d < %d)", len(buf), headerSize)
	}
	var hdr wireHeader
	r := bytes.NewReader(buf[:headerSize])
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "msg: read header")
	}
	if int(hdr.UsefulSize) > len(buf) {
		return nil, errors.Errorf("msg: usefulSize %d exceeds buffer %d", hdr.UsefulSize, len(buf))
	}
	bodyStart := headerSize
	bodyEnd := bodyStart + int(hdr.BodyLen)
	if bodyEnd > len(buf) {
		return nil, errors.New("msg: truncated body")
	}
	kind := Kind(hdr.Type)
	body, err := NewBody(kind)
	if err != nil {
		return nil, err
	}
	if hdr.BodyLen > 0 {
		if err := jsoniter.Unmarshal(buf[bodyStart:bodyEnd], body); err != nil {
			return nil, errors.Wrap(err, "msg: unmarshal body")
		}
	}
	if hdr.PayloadLen > 0 {
		end := int(hdr.PayloadOffset) + int(hdr.PayloadLen)
		if end > len(buf) {
			return nil, errors.New("msg: truncated payload")
		}
		if hp, ok := body.(HasPayload); ok {
			*hp.PayloadPtr() = buf[hdr.PayloadOffset:end:end]
		}
	}
	return &PolicyMsg{
		Type:       kind,
		Flags:      Flags(hdr.Flags),
		Src:        guid.Location(hdr.Src),
		Dst:        guid.Location(hdr.Dst),
		MsgID:      hdr.MsgID,
		BufferSize: hdr.BufferSize,
		UsefulSize: hdr.UsefulSize,
		Status:     cmn.Status(hdr.Status),
		Body:       body,
	}, nil
}

// EnsureCapacity implements the router's "bufferSize >= response_base_size"
// invariant: if buf cannot hold a response of kind, a freshly allocated
// buffer is returned in its place (discarding buf), otherwise buf as-is.
func EnsureCapacity(buf []byte, kind Kind) ([]byte, error) {
	base, err := BaseSize(kind)
	if err != nil {
		return nil, err
	}
	if uint32(cap(buf)) >= base {
		return buf, nil
	}
	return make([]byte, 0, base), nil
}
