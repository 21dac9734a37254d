// Package store persists projects, schedule items, and dependency edges
// in SQLite, and carries the two resolution-facing operations: loading a
// project's timeline graph as an immutable snapshot, and applying a set of
// resolved start periods back to the items inside one transaction.
package store
