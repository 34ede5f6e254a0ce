package internal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/opd-ai/p2pharness/harness"
	"github.com/opd-ai/p2pharness/peer"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario indicates a scenario file that cannot be turned into a
// network.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario describes one test network: its nodes, how they connect, and
// what each receiver should end up with.
type Scenario struct {
	Name     string              `yaml:"name"`
	Payload  string              `yaml:"payload,omitempty"`
	Nodes    []NodeEntry         `yaml:"nodes"`
	Topology []TopologyStep      `yaml:"topology"`
	Expect   map[string][]string `yaml:"expect,omitempty"`
}

// NodeEntry registers one node.
type NodeEntry struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
}

// TopologyStep is one connection helper call. Exactly one field is set.
type TopologyStep struct {
	ConnectAll     []string  `yaml:"connect_all,omitempty"`
	ConnectAllOnce []string  `yaml:"connect_all_once,omitempty"`
	ConnectEachTo  *StarIn   `yaml:"connect_each_to,omitempty"`
	ConnectToAll   *StarOut  `yaml:"connect_to_all,omitempty"`
	Connect        *LinkStep `yaml:"connect,omitempty"`
}

// StarIn makes every node in Nodes dial Target.
type StarIn struct {
	Nodes  []string `yaml:"nodes"`
	Target string   `yaml:"target"`
}

// StarOut makes Node dial every target.
type StarOut struct {
	Node    string   `yaml:"node"`
	Targets []string `yaml:"targets"`
}

// LinkStep is a single directed connection.
type LinkStep struct {
	Dialer string `yaml:"dialer"`
	Target string `yaml:"target"`
}

// DefaultScenario is one receiver and two senders in a full mesh. Every
// edge is a stream, so the receiver hears from each sender twice.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name: "mesh",
		Nodes: []NodeEntry{
			{ID: "recv1", Kind: "receiver"},
			{ID: "send1", Kind: "sender"},
			{ID: "send2", Kind: "sender"},
		},
		Topology: []TopologyStep{
			{ConnectAll: []string{"recv1", "send1", "send2"}},
		},
		Expect: map[string][]string{
			"recv1": {
				"Hello World from: send1",
				"Hello World from: send1",
				"Hello World from: send2",
				"Hello World from: send2",
			},
		},
	}
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a YAML scenario and validates it.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks node ids, kinds and every name the topology and
// expectations refer to, so Build never panics on user input.
func (s *Scenario) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidScenario)
	}

	known := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidScenario, i)
		}
		if known[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidScenario, n.ID)
		}
		if _, err := peer.ParseKind(n.Kind); err != nil {
			return fmt.Errorf("%w: node %q: %v", ErrInvalidScenario, n.ID, err)
		}
		known[n.ID] = true
	}

	check := func(step int, names ...string) error {
		for _, name := range names {
			if !known[name] {
				return fmt.Errorf("%w: topology step %d: unknown node %q", ErrInvalidScenario, step, name)
			}
		}
		return nil
	}
	noSelf := func(step int, dialer, target string) error {
		if dialer == target {
			return fmt.Errorf("%w: topology step %d: node %q cannot connect to itself", ErrInvalidScenario, step, dialer)
		}
		return nil
	}

	for i, step := range s.Topology {
		if step.count() != 1 {
			return fmt.Errorf("%w: topology step %d must set exactly one operation", ErrInvalidScenario, i)
		}
		switch {
		case step.ConnectAll != nil:
			if err := check(i, step.ConnectAll...); err != nil {
				return err
			}
		case step.ConnectAllOnce != nil:
			if err := check(i, step.ConnectAllOnce...); err != nil {
				return err
			}
		case step.ConnectEachTo != nil:
			if err := check(i, append(slices.Clone(step.ConnectEachTo.Nodes), step.ConnectEachTo.Target)...); err != nil {
				return err
			}
			for _, n := range step.ConnectEachTo.Nodes {
				if err := noSelf(i, n, step.ConnectEachTo.Target); err != nil {
					return err
				}
			}
		case step.ConnectToAll != nil:
			if err := check(i, append(slices.Clone(step.ConnectToAll.Targets), step.ConnectToAll.Node)...); err != nil {
				return err
			}
			for _, target := range step.ConnectToAll.Targets {
				if err := noSelf(i, step.ConnectToAll.Node, target); err != nil {
					return err
				}
			}
		case step.Connect != nil:
			if err := check(i, step.Connect.Dialer, step.Connect.Target); err != nil {
				return err
			}
			if err := noSelf(i, step.Connect.Dialer, step.Connect.Target); err != nil {
				return err
			}
		}
	}

	for name := range s.Expect {
		if !known[name] {
			return fmt.Errorf("%w: expectation for unknown node %q", ErrInvalidScenario, name)
		}
	}
	return nil
}

func (t TopologyStep) count() int {
	n := 0
	if t.ConnectAll != nil {
		n++
	}
	if t.ConnectAllOnce != nil {
		n++
	}
	if t.ConnectEachTo != nil {
		n++
	}
	if t.ConnectToAll != nil {
		n++
	}
	if t.Connect != nil {
		n++
	}
	return n
}

// Build validates the scenario and declares it on a new network.
func (s *Scenario) Build() (*harness.Network[peer.Kind], error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	network := harness.NewNetwork[peer.Kind]()
	ids := make(map[string]harness.NodeID, len(s.Nodes))
	for _, n := range s.Nodes {
		kind, _ := peer.ParseKind(n.Kind)
		ids[n.ID] = network.Node(n.ID, kind)
	}

	resolve := func(names []string) []harness.NodeID {
		out := make([]harness.NodeID, len(names))
		for i, name := range names {
			out[i] = ids[name]
		}
		return out
	}

	for _, step := range s.Topology {
		switch {
		case step.ConnectAll != nil:
			network.ConnectAll(resolve(step.ConnectAll)...)
		case step.ConnectAllOnce != nil:
			network.ConnectAllOnce(resolve(step.ConnectAllOnce)...)
		case step.ConnectEachTo != nil:
			network.ConnectEachTo(resolve(step.ConnectEachTo.Nodes), ids[step.ConnectEachTo.Target])
		case step.ConnectToAll != nil:
			network.ConnectToAll(ids[step.ConnectToAll.Node], resolve(step.ConnectToAll.Targets)...)
		case step.Connect != nil:
			network.Connect(ids[step.Connect.Dialer], ids[step.Connect.Target])
		}
	}

	return network, nil
}

// Verify checks a run's results against the scenario: every node must
// have a result, and each expected node's result must be its expected
// chunks, sorted and concatenated.
func (s *Scenario) Verify(results harness.Results[[]byte]) error {
	if results.Len() != len(s.Nodes) {
		return fmt.Errorf("got %d results for %d nodes", results.Len(), len(s.Nodes))
	}
	for _, n := range s.Nodes {
		if _, ok := results.Get(n.ID); !ok {
			return fmt.Errorf("no result for node %q", n.ID)
		}
	}

	names := make([]string, 0, len(s.Expect))
	for name := range s.Expect {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		chunks := make([][]byte, len(s.Expect[name]))
		for i, c := range s.Expect[name] {
			chunks[i] = []byte(c)
		}
		slices.SortFunc(chunks, bytes.Compare)
		want := bytes.Join(chunks, nil)

		got, _ := results.Get(name)
		if !bytes.Equal(got, want) {
			return fmt.Errorf("node %q: got %q, want %q", name, got, want)
		}
	}
	return nil
}
