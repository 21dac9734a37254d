// Package schedule contains the project timeline domain model and the
// dependency resolution engine.
//
// A project's timeline is a set of schedule items (budget line items and
// milestones) measured in abstract integer periods, connected by directed
// timing dependencies. Each dependency constrains when its dependent item
// may start, relative to a trigger event on another item (its start, its
// completion, or a percentage of its duration) or relative to an absolute
// period. The engine computes the effective start period of every
// dependent item as the maximum across all of its constraints, memoizing
// shared sub-results and reporting (rather than crashing on) cycles and
// dangling references.
//
// The engine is pure computation over an immutable Graph snapshot; loading
// the snapshot from storage and persisting results back are the store
// package's concern.
package schedule
