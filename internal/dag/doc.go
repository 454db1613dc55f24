// Package dag holds the dependency graph of a graph request: one vertex per
// node id, one edge per source reference. The scheduler builds it before
// walking a request's paths to reject cycles and walks that would run a
// node before the node feeding it.
package dag
