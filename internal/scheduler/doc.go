// Package scheduler serializes graph and single-node runs through one FIFO
// queue and streams their progress to the sessions that asked for them.
//
// # How It Works
//
// A single control loop (Run) pops one request at a time. Graph requests
// are checked up front (known actions, sources inside the request, no
// cycles, paths in dependency order) and then walked path by path. For
// every node the loop:
//
//  1. resolves its parameters, following source references into the
//     cached output of upstream nodes
//  2. draws per-run random values for parameters whose "__random__"
//     toggle is on, echoing them back with an updateValues event
//  3. hands the node's compute call to the worker pool and waits for it,
//     so the loop itself never runs action code
//  4. emits executed plus one event per UI field, unless a continuous
//     node produced output equal to its previous one
//
// Node instances outlive the request: they are kept in a nodestore.Store
// and memoize their output across runs until ClearNodeCache drops them.
//
// Any error aborts the rest of the request; the session receives one
// generic error event and the loop moves on to the next request.
package scheduler
