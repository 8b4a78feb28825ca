// package repositories provides the durable stores for cross-run state.
//
// The wishlist and metadata stores run on SQLite with embedded migrations;
// the sync status store is an atomically-rewritten JSON file. These are the
// only mutable state shared between runs.
package repositories
