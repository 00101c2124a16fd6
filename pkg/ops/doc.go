// Package ops is the synchronous operations facade the HTTP boundary
// and the CLI call into the pipeline core: document submission (plain
// and key-gated), pull-through fetch, party-attribute search, time-range
// listing, deletion, and dead-letter management.
package ops
