// Package lock provides in-process FIFO mutual exclusion.
//
// Mutex hands ownership to waiters strictly in the order they queued, which sync.Mutex does
// not promise. NamedMutexManager pools one Mutex per key so unrelated keys never contend.
//
// Neither type offers cross-process exclusion or survives a restart.
package lock
