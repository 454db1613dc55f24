// Package devicecache keeps heavy, device-resident objects (model weights,
// compiled programs) under a single owner and decides where they live.
//
// The cache never measures device memory. It learns that a device is full
// only when moving an object there fails with an error that reports
// ResourceExhausted() == true; it then evicts the resident entry with the
// lowest (priority, lastUsed) pair to the host and retries, until the move
// succeeds or nothing is left to evict.
//
// All map access and placement moves happen under one mutex.
package devicecache
