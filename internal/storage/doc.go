// Package storage persists birthday registries.
//
// Two drivers implement birthday.Repository:
//   - "file": one JSON document, rewritten atomically on every save
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
