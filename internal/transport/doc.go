// Package transport exposes the scheduler over HTTP and socket.io.
//
// The HTTP API accepts graph and single-node runs, clears node caches,
// lists the registered actions and serves node outputs (/view). Events
// produced while a run executes are pushed to the requesting session over
// socket.io: every client joins a room named after its session id and
// receives events as "message".
package transport
