package pd_test

import (
	"context"
	"testing"

	"github.com/arts-edt/corepd/cluster"
	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/msg"
	"github.com/arts-edt/corepd/pd"
	"github.com/arts-edt/corepd/transport"
	"github.com/arts-edt/corepd/xreg"
)

func twoDomains(t *testing.T) (*pd.Domain, *pd.Domain) {
	t.Helper()
	lb := transport.NewLoopback()
	all := []guid.Location{1, 2}
	d1 := pd.NewDomain(1, lb, xreg.NewOracle(1, all))
	d2 := pd.NewDomain(2, lb, xreg.NewOracle(2, all))
	return d1, d2
}

// pump moves exactly one frame, if any is waiting, from src's outbound queue
// into dst's router, simulating the wire without a live goroutine pair.
func pump(t *testing.T, from *pd.Domain, to *pd.Domain) bool {
	t.Helper()
	frame, ok := from.Transport.Poll(to.Self)
	if !ok {
		return false
	}
	m, err := msg.Unmarshal(frame)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pd.NewRouter(to).Deliver(m)
	return true
}

func TestRemoteAcquireRoundTripsThroughProxyCache(t *testing.T) {
	d1, d2 := twoDomains(t)

	create := &msg.PolicyMsg{
		Type: msg.DbCreate, Flags: msg.Request, Src: d1.Self, Dst: d1.Self, MsgID: d1.NextMsgID(),
		Body: &msg.DbCreateMsg{In: msg.DbCreateIn{Size: 64}},
	}
	resp, status := pd.Dispatch(d1, create)
	if status != cmn.OK || resp == nil {
		t.Fatalf("DbCreate on home: status=%v resp=%v", status, resp)
	}
	dbGuid := resp.Body.(*msg.DbCreateMsg).Out.Guid
	if dbGuid.Location() != d1.Self {
		t.Fatalf("expected block homed at d1, got %d", dbGuid.Location())
	}

	acquire := &msg.PolicyMsg{
		Type: msg.DbAcquire, Flags: msg.Request, Src: d2.Self, Dst: d2.Self, MsgID: d2.NextMsgID(),
		Body: &msg.DbAcquireMsg{In: msg.DbAcquireIn{Guid: dbGuid, Mode: msg.ModeRO}},
	}
	router2 := pd.NewRouter(d2)
	_, status = router2.ProcessMessage(context.Background(), acquire, false)
	if status != cmn.EPEND {
		t.Fatalf("expected EPEND on first remote acquire, got %v", status)
	}

	if !pump(t, d2, d1) {
		t.Fatal("expected a fetch request queued for d1")
	}
	if !pump(t, d1, d2) {
		t.Fatal("expected a fetch response queued for d2")
	}

	state, nbUsers, refCount, ok := d2.ProxyDbs.Snapshot(dbGuid)
	if !ok {
		t.Fatal("expected a proxy row for the acquired block")
	}
	if state != cluster.Run {
		t.Fatalf("expected proxy to land in Run, got %v", state)
	}
	if nbUsers != 1 || refCount != 1 {
		t.Fatalf("nbUsers=%d refCount=%d, want 1/1", nbUsers, refCount)
	}

	if _, ok := d1.DataBlks.Get(dbGuid); !ok {
		t.Fatal("home copy must still exist after a remote acquire")
	}
}

func TestRemoteReleaseDrainsProxyAfterLastUser(t *testing.T) {
	d1, d2 := twoDomains(t)

	create := &msg.PolicyMsg{
		Type: msg.DbCreate, Flags: msg.Request, Src: d1.Self, Dst: d1.Self, MsgID: d1.NextMsgID(),
		Body: &msg.DbCreateMsg{In: msg.DbCreateIn{Size: 32}},
	}
	resp, _ := pd.Dispatch(d1, create)
	dbGuid := resp.Body.(*msg.DbCreateMsg).Out.Guid

	acquire := &msg.PolicyMsg{
		Type: msg.DbAcquire, Flags: msg.Request, Src: d2.Self, Dst: d2.Self, MsgID: d2.NextMsgID(),
		Body: &msg.DbAcquireMsg{In: msg.DbAcquireIn{Guid: dbGuid, Mode: msg.ModeRW}},
	}
	router2 := pd.NewRouter(d2)
	router2.ProcessMessage(context.Background(), acquire, false)
	pump(t, d2, d1)
	pump(t, d1, d2)

	release := &msg.PolicyMsg{
		Type: msg.DbRelease, Flags: msg.Request, Src: d2.Self, Dst: d2.Self, MsgID: d2.NextMsgID(),
		Body: &msg.DbReleaseMsg{In: msg.DbReleaseIn{Guid: dbGuid}},
	}
	_, status := router2.ProcessMessage(context.Background(), release, false)
	if status != cmn.OK {
		t.Fatalf("release: %v", status)
	}

	if !pump(t, d2, d1) {
		t.Fatal("expected a write-back release request queued for d1")
	}
	if !pump(t, d1, d2) {
		t.Fatal("expected a release response queued for d2")
	}

	if _, _, _, ok := d2.ProxyDbs.Snapshot(dbGuid); ok {
		t.Fatal("proxy row should have been evicted after the last user released")
	}
}
