// Package cache provides a Redis-backed read-through cache for fetched
// records. The record source consults it before issuing an outbound call;
// a hit short-circuits the remote fetch entirely, saving rate budget.
//
// Entries are JSON-encoded with an absolute expiry and stored with a
// matching Redis TTL, so stale entries also disappear from Redis on their
// own. The cache is an optimization layer only: run state (checkpoints,
// progress counters) is never stored here and stays in-memory.
package cache
