// Package queue implements a concurrent HTTP request queue: a bounded
// scheduler over retryable Operations.
//
// An Operation owns one retryable HTTP transfer: its request
// descriptor, its callback slots (completion, upload/download
// progress, authentication challenge), its retry policy and its live
// byte counters. A Queue enforces a concurrency cap, an ordering
// discipline (FIFO or LIFO), duplicate suppression and aggregate
// batch completion over a set of Operations it owns.
//
// The package does not parse HTTP wire bytes itself (that is
// delegated to a pluggable Transport), cache response bodies, persist
// state across process restarts, or rate-limit by host.
package queue
