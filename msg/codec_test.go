package msg

import (
	"bytes"
	"testing"

	"github.com/arts-edt/corepd/guid"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []*PolicyMsg{
		NewRequest(DbCreate, 1, 2, 7, &DbCreateMsg{In: DbCreateIn{Size: 64, Hint: guid.Make(guid.KindAffinityGroup, 2, 1)}}),
		NewRequest(DbAcquire, 2, 1, 8, &DbAcquireMsg{In: DbAcquireIn{Guid: guid.Make(guid.KindDataBlock, 1, 5), Mode: ModeRW}}),
		NewRequest(WorkCreate, 1, 1, 9, &WorkCreateMsg{In: WorkCreateIn{TemplateGuid: guid.Make(guid.KindTaskTemplate, 1, 1), Paramc: 2, Paramv: []uint64{1, 2}}}),
	}
	for _, in := range cases {
		buf, err := Marshal(in, nil, FullCopy)
		if err != nil {
			t.Fatalf("marshal %s: %v", in.Type, err)
		}
		out, err := Unmarshal(buf)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", in.Type, err)
		}
		if out.Type != in.Type || out.Src != in.Src || out.Dst != in.Dst || out.MsgID != in.MsgID {
			t.Fatalf("header mismatch: got %+v want type=%s src=%d dst=%d id=%d", out, in.Type, in.Src, in.Dst, in.MsgID)
		}
		if out.UsefulSize > out.BufferSize {
			t.Fatalf("invariant violated: usefulSize %d > bufferSize %d", out.UsefulSize, out.BufferSize)
		}
	}
}

func TestAcquireResponsePayloadOffsetRelocation(t *testing.T) {
	body := &DbAcquireMsg{Out: DbAcquireOut{Ptr: []byte("hello-payload"), Size: 13, Flags: WriteBack}}
	m := NewRequest(DbAcquire, 1, 2, 1, body).ToResponse(body)
	buf, err := Marshal(m, nil, Append)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := out.Body.(*DbAcquireMsg)
	if !bytes.Equal(got.Out.Ptr, []byte("hello-payload")) {
		t.Fatalf("payload not relocated correctly: %q", got.Out.Ptr)
	}
}

func TestEnsureCapacityReallocatesWhenTooSmall(t *testing.T) {
	small := make([]byte, 0, 1)
	out, err := EnsureCapacity(small, DbCreate)
	if err != nil {
		t.Fatal(err)
	}
	base, _ := BaseSize(DbCreate)
	if uint32(cap(out)) < base {
		t.Fatalf("expected reallocated buffer >= %d, got cap %d", base, cap(out))
	}
}

func TestEnsureCapacityKeepsBufferWhenLargeEnough(t *testing.T) {
	base, _ := BaseSize(DbFree)
	big := make([]byte, 0, base+100)
	out, err := EnsureCapacity(big, DbFree)
	if err != nil {
		t.Fatal(err)
	}
	if cap(out) != cap(big) {
		t.Fatalf("expected original buffer kept, got different capacity")
	}
}

func TestUnsupportedKindNewBodyFails(t *testing.T) {
	_, err := NewBody(Kind(9999))
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}
