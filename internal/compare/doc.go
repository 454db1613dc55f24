// Package compare decides whether two values differ enough to justify
// recomputing a node.
//
// Different runs an ordered cascade of checks, cheapest and most specific
// first: identity, declared fingerprints, tensor shape and element type,
// images, meshes, bulk numeric slices, sequences, mappings, plain-data
// projections and finally reflect.DeepEqual. Values opt into the richer
// checks by implementing the small capability interfaces declared here.
package compare
