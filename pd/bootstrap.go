package pd

import (
	"github.com/arts-edt/corepd/cmn"
	"github.com/arts-edt/corepd/guid"
	"github.com/arts-edt/corepd/transport"
	"github.com/arts-edt/corepd/xreg"
	"github.com/pkg/errors"
)

// NewDomainFromTopology builds a Domain the way a real process starts up:
// load the topology file named by cmn.ConfigEnvVar, confirm self is listed
// in it, and wire the neighbor set -- the shutdown barrier's quorum --
// from every other domain in the file, instead of requiring a caller to
// hand-assemble it via SetNeighbors/AttachNeighbor.
func NewDomainFromTopology(self guid.Location, tr transport.Transport, oracle *xreg.Oracle) (*Domain, error) {
	top, err := cmn.LoadTopology()
	if err != nil {
		return nil, err
	}
	if _, ok := top.Find(uint16(self)); !ok {
		return nil, cmn.NewErr(cmn.EINVAL, "NewDomainFromTopology", errors.Errorf("self location %d not present in %s", self, cmn.ConfigEnvVar))
	}

	d := NewDomain(self, tr, oracle)
	neighbors := make([]guid.Location, 0, len(top.Domains))
	for _, spec := range top.Domains {
		if loc := guid.Location(spec.Location); loc != self {
			neighbors = append(neighbors, loc)
		}
	}
	d.SetNeighbors(neighbors)
	return d, nil
}
