// Package node wraps one graph node's compute action with memoization.
//
// An Instance remembers the last accepted parameter set and the output it
// produced. Call validates and coerces incoming arguments against the
// action's schema, compares them with the remembered ones and only runs the
// compute function when something changed or no output exists yet. Before
// recomputing, every resource the node registered with the device cache is
// released. A failed run leaves the node as if it had never executed.
package node
