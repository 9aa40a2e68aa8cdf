package cluster

import (
	"testing"

	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
)

func TestProxyTemplateFirstReferenceSendsSingleClone(t *testing.T) {
	disp := &fakeDispatcher{}
	tbl := NewProxyTemplateTable(2, disp, counter())
	tg := guid.Make(guid.KindTaskTemplate, 1, 1)

	req1 := msg.NewRequest(msg.WorkCreate, 2, 1, 1, &msg.WorkCreateMsg{In: msg.WorkCreateIn{TemplateGuid: tg}})
	req2 := msg.NewRequest(msg.WorkCreate, 2, 1, 2, &msg.WorkCreateMsg{In: msg.WorkCreateIn{TemplateGuid: tg}})

	tbl.Resolve(tg, req1)
	tbl.Resolve(tg, req2)

	if len(disp.outbound) != 1 {
		t.Fatalf("expected exactly one GUID_METADATA_CLONE, got %d", len(disp.outbound))
	}
	if disp.outbound[0].Type != msg.GuidMetadataClone {
		t.Fatalf("expected GuidMetadataClone, got %s", disp.outbound[0].Type)
	}
	count, ok := tbl.RefCount(tg)
	if !ok || count != 2 {
		t.Fatalf("expected refcount 2, got %d ok=%v", count, ok)
	}
}

func TestOnCloneResponseRedeliversQueuedMessages(t *testing.T) {
	disp := &fakeDispatcher{}
	tbl := NewProxyTemplateTable(2, disp, counter())
	reg := guid.NewRegistry(2)
	tg := guid.Make(guid.KindTaskTemplate, 1, 2)

	req1 := msg.NewRequest(msg.WorkCreate, 2, 1, 1, &msg.WorkCreateMsg{In: msg.WorkCreateIn{TemplateGuid: tg}})
	req2 := msg.NewRequest(msg.WorkCreate, 2, 1, 2, &msg.WorkCreateMsg{In: msg.WorkCreateIn{TemplateGuid: tg}})
	tbl.Resolve(tg, req1)
	tbl.Resolve(tg, req2)

	resp := msg.NewRequest(msg.GuidMetadataClone, 1, 2, 3, &msg.GuidCloneMsg{
		In:  msg.GuidCloneIn{Guid: tg},
		Out: msg.GuidCloneOut{Guid: tg, Blob: []byte("template-meta")},
	})
	if err := tbl.OnCloneResponse(resp, reg, 42); err != nil {
		t.Fatal(err)
	}
	if len(disp.reprocess) != 2 {
		t.Fatalf("expected both queued messages redelivered, got %d", len(disp.reprocess))
	}
	if _, ok := reg.Lookup(tg); !ok {
		t.Fatal("expected template guid registered after clone response")
	}
}

func TestBlockingCloneReturnsOnceRegistered(t *testing.T) {
	disp := &fakeDispatcher{}
	tbl := NewProxyTemplateTable(2, disp, counter())
	reg := guid.NewRegistry(2)
	tg := guid.Make(guid.KindTaskTemplate, 1, 3)

	reg.Register(tg, guid.VariantLocal, 1)
	done := make(chan error, 1)
	go func() {
		done <- tbl.BlockingClone(tg, reg, func() {})
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
