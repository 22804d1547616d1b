// Package history keeps the append-only log of observations an agent has
// received, grouped by session. Entries are never edited or reordered; a
// correction is a new observation appended after the one it supersedes.
//
// Add persistent backends in sub-packages; callers depend on Store only.
package history
