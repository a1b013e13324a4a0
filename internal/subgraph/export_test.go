package subgraph

// Hold puts the node in the state it has while driving its inner graph and
// returns the function an evaluation runs on exit.
func (n *Node) Hold() func() {
	n.busy.Store(true)
	return n.release
}
