package cmn

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ConfigEnvVar is the single environment variable that selects the
// configuration file describing the PD topology (components, counts,
// affinities), per the spec's single-environment-variable contract.
const ConfigEnvVar = "ARTSPD_CONFIG"

// PDSpec describes one policy domain's static placement in the topology
// file: its location id, the affinity-group neighbors it round-robins
// placement across, and its listen address on the (external) comm layer.
type PDSpec struct {
	Location  uint16   `json:"location"`
	Affinity  []uint16 `json:"affinity"`
	Addr      string   `json:"addr"`
}

// Topology is the parsed contents of the file named by ConfigEnvVar.
type Topology struct {
	Domains []PDSpec `json:"domains"`
}

// LoadTopology reads and parses the topology file named by ConfigEnvVar.
// It does not cache: callers that want a process-wide singleton (the
// teacher's cmn.GCO idiom) should load once at startup and pass the result
// down explicitly, per the design notes' rule against implicit globals.
func LoadTopology() (*Topology, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return nil, NewErr(EINVAL, "LoadTopology", errors.Errorf("%s not set", ConfigEnvVar))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErr(ENOENT, "LoadTopology", err)
	}
	var top Topology
	if err := jsoniter.Unmarshal(data, &top); err != nil {
		return nil, NewErr(EINVAL, "LoadTopology", err)
	}
	return &top, nil
}

// Find returns the PDSpec for a given location, mirroring the small linear
// lookups the teacher does over its (typically tiny) Smap target map.
func (t *Topology) Find(loc uint16) (PDSpec, bool) {
	for _, d := range t.Domains {
		if d.Location == loc {
			return d, true
		}
	}
	return PDSpec{}, false
}
