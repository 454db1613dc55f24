// Package nodestore defines where the graph scheduler keeps node instances
// between runs.
//
// A node instance is created on its first reference and then reused by
// every later run that names the same node id; the store is therefore the
// memoization boundary of the process. Entries live until they are cleared
// explicitly or the process shuts down.
//
// The scheduler's execution lane is the only writer. Transport handlers
// read from the store concurrently (e.g. to serve a node's output), so
// implementations must be safe for concurrent use.
package nodestore

import "github.com/vk/mellongo/internal/node"

// Store maps node ids to node instances.
type Store interface {
	// Get returns the instance stored under id.
	Get(id string) (*node.Instance, bool)

	// Put stores inst under id, replacing any previous instance.
	Put(id string, inst *node.Instance)

	// Delete removes id and returns the instance it held, if any.
	Delete(id string) (*node.Instance, bool)

	// IDs returns every stored id in sorted order.
	IDs() []string

	// Len returns the number of stored instances.
	Len() int
}
