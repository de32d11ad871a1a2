// Package storage provides the durable dedup set of seen mint addresses.
//
// Two drivers are available:
//   - "file": one JSON array per store, rewritten whole on every mutation
//     through a temp file + atomic rename
//   - "sqlite": a single-table SQLite database (modernc.org/sqlite, no cgo)
//
// Both keep insertion order so a capacity-bounded store can evict the
// oldest inserted member.
package storage
