package dag

import "sync"

// Graph links the node ids of one graph request by their source references.
// An edge from a to b means b reads one of a's outputs. Safe for concurrent
// use.
type Graph struct {
	mutex sync.RWMutex
	// nodes is keyed by node id.
	nodes map[string]*node
}

// node is one vertex. Callers address vertices by node id only.
type node struct {
	id string
	// deps are the nodes whose outputs this node reads.
	deps map[string]*node
	// dependents read this node's outputs.
	dependents map[string]*node
}
