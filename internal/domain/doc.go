// Package domain defines the engine-relevant projections of tasks and
// users, the assignment rule vocabulary, and the decision record produced
// by a recomputation. Types here are pure values: they never touch the
// database or the cache.
package domain
