// Command p2ptestnet runs multi-node P2P scenarios on a simulated network.
//
// Every node gets its own address on an in-memory fabric. Senders dial
// their targets, run a Noise XX handshake and write one payload per
// connection; receivers collect what arrives. When all nodes are done the
// receivers' results are checked against the scenario's expectations.
//
// # Usage
//
// Run the built-in mesh of one receiver and two senders:
//
//	p2ptestnet run
//
// Run a scenario file without the readiness barrier, failing on
// unresolvable edges:
//
//	p2ptestnet run --scenario star.yaml --barrier=false --missing-address fail
//
// Check a scenario without running it:
//
//	p2ptestnet validate star.yaml
//
// # Run flags
//
// Scenario and network:
//   - --scenario: scenario file (default: built-in mesh)
//   - --subnet: subnet node addresses come from (default: 10.0.0.0/16)
//   - --port: port every node listens on (default: 1025)
//   - --barrier: wait for every node to be ready before connecting (default: true)
//   - --missing-address: skip or fail edges whose target has no address (default: skip)
//
// Timeouts:
//   - --overall-timeout: whole run (default: 5m)
//   - --wait-timeout: each node's wait, 0 disables (default: 30s)
//   - --handshake-timeout: Noise handshake (default: 5s)
//
// Logging and metrics:
//   - --log-level, --log-format, --log-file, --verbose
//   - --metrics, --metrics-file: write Prometheus text-format metrics
//
// # Exit Codes
//
//   - 0: scenario passed
//   - 1: configuration error, scenario error or failed run
//
// An interrupt cancels the run; nodes are shut down before the command exits.
package main
