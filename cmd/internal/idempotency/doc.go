// Package idempotency deduplicates operations identified by a key and caches their outcome.
//
// Execute runs an operation at most once per live key: concurrent callers with the same key
// share the in-flight execution and its settled result. Entries (pending or settled) expire
// after a fixed TTL.
//
// The entry check and the registration of a new pending entry happen under one mutex, so two
// goroutines can never both observe "no entry" for the same key.
//
// Limitation: TTL bounds how long an entry blocks duplicates, not how long an operation may
// run. An operation that never returns keeps its waiters blocked.
package idempotency
