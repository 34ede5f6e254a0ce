// Package peer is a reference node for harness networks: every node is a
// Sender or a Receiver, and every edge of the network becomes one Noise
// secured stream between its two ends.
//
// A sender writes its payload on each stream it takes part in; a receiver
// collects what it reads. Wait returns once the node has seen one stream
// per incident edge, so a full mesh of one receiver and two senders gives
// the receiver four payloads:
//
//	network := harness.NewNetwork[peer.Kind]()
//	recv := network.Node("recv1", peer.Receiver)
//	send1 := network.Node("send1", peer.Sender)
//	send2 := network.Node("send2", peer.Sender)
//	network.ConnectAll(recv, send1, send2)
//
//	results, err := harness.Start(ctx, network, peer.Factory(network, peer.DefaultConfig()), nil)
package peer
