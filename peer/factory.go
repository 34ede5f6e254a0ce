package peer

import (
	"github.com/opd-ai/p2pharness/harness"
)

// Factory returns a harness factory that starts a Node for every
// registered node. Each node expects one stream per edge it takes part in,
// so Expected is set from network's degree of that node.
func Factory(network *harness.Network[Kind], config Config) harness.Factory[Kind, []byte] {
	return func(id harness.NodeID, kind Kind, host harness.Host) (harness.RunningNode[[]byte], error) {
		nodeConfig := config
		nodeConfig.Expected = network.Degree(id)

		node, err := New(id, kind, host, nodeConfig)
		if err != nil {
			return nil, err
		}
		return node, nil
	}
}
