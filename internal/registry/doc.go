// Package registry is the lookup table between the (module, action) names
// a graph request carries and the compiled Go code that runs them.
//
// Modules register strongly typed Action descriptors at startup through the
// Module interface. Each descriptor carries the parameter schema, the output
// schema, the execution type and the compute function. After registration
// the registry is validated once and then only read.
package registry
