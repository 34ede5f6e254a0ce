// Package internal provides the scenario runner behind the p2ptestnet command.
//
// A run has four tracked steps:
//
//  1. Load scenario: read and validate a YAML scenario, or fall back to the
//     built-in mesh of one receiver and two senders
//  2. Build plan: register the scenario's nodes and topology on a
//     harness.Network
//  3. Run network: start every node as a peer.Node on a fresh netsim fabric
//     and join them
//  4. Verify results: compare each node's result against the scenario's
//     expectations
//
// A failed step stops the run and the remaining steps are reported as
// skipped.
//
// # Scenarios
//
// Scenario files name the nodes, the connect operations applied in order,
// and the concatenated payloads each receiver must end up with:
//
//	name: star
//	payload: ""
//	nodes:
//	  - {id: hub, kind: receiver}
//	  - {id: s1, kind: sender}
//	  - {id: s2, kind: sender}
//	topology:
//	  - connect_each_to: {nodes: [s1, s2], target: hub}
//	expect:
//	  hub: ["Hello World from: s1", "Hello World from: s2"]
//
// Unknown keys are rejected.
//
// # Orchestration
//
//	config := internal.DefaultTestConfig()
//	config.ScenarioFile = "star.yaml"
//	config.MetricsFile = "run.prom"
//
//	orchestrator, err := internal.NewTestOrchestrator(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orchestrator.Cleanup()
//
//	results, err := orchestrator.RunTests(ctx)
//
// Logs go through logrus with the configured level and format. When metrics
// collection is on, lifecycle events feed a Prometheus registry that is
// written as a textfile at the end of the run.
package internal
