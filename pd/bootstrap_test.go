package pd_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/pd"
	"github.com/arts-edt/corepd/transport"
	"github.com/arts-edt/corepd/xreg"
)

func writeTopology(t *testing.T, top string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.json")
	if err := os.WriteFile(path, []byte(top), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewDomainFromTopologyWiresNeighborsFromFile(t *testing.T) {
	path := writeTopology(t, `{"domains":[
		{"location":1,"addr":"loop://1"},
		{"location":2,"addr":"loop://2"},
		{"location":3,"addr":"loop://3"}
	]}`)
	t.Setenv(cmn.ConfigEnvVar, path)

	lb := transport.NewLoopback()
	d, err := pd.NewDomainFromTopology(2, lb, xreg.NewOracle(2, []guid.Location{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}

	neighbors := d.Neighbors()
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors (self excluded), got %v", neighbors)
	}
	want := map[guid.Location]bool{1: true, 3: true}
	for _, n := range neighbors {
		if !want[n] {
			t.Fatalf("unexpected neighbor %d in %v", n, neighbors)
		}
	}
}

func TestNewDomainFromTopologyRejectsSelfNotListed(t *testing.T) {
	path := writeTopology(t, `{"domains":[{"location":1,"addr":"loop://1"}]}`)
	t.Setenv(cmn.ConfigEnvVar, path)

	lb := transport.NewLoopback()
	if _, err := pd.NewDomainFromTopology(9, lb, xreg.NewOracle(9, nil)); err == nil {
		t.Fatal("expected error for self location missing from topology")
	}
}
