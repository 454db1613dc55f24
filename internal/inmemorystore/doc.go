// Package inmemorystore provides a thread-safe, in-memory implementation
// of the nodestore.Store interface backed by sync.Map. Node instances are
// written rarely (first reference, cache clear) and read on every run and
// every view request, which is the access pattern sync.Map is built for.
package inmemorystore
