// Package storage provides workflow and execution snapshot stores.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL on execution snapshots
//   - memory: In-memory, for tests and single-process use
package storage
