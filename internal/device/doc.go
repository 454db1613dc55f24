// Package device models accelerator memory as a set of named byte budgets.
//
// A Pool hands out reservations against each device's capacity and reports
// an *OutOfMemoryError once a device is full. Blocks are the placeable
// objects actions register with the device cache: moving a Block reserves
// memory on the target device before the old placement is released, which
// is the failure mode the cache's reactive eviction is built around.
//
// The host device ("cpu") is always present and unbounded.
package device
