/*
Package registry resolves configured stage and storage names to
executable modules.

Two stage kinds exist with distinct contracts. A Link transforms or
routes one document: it returns the UUID to continue with, an empty
UUID to filter (clean halt, not a failure), or an error to fail the
chain. A Storage persists documents: Save reads the current document
from the cache and writes it to the backend; Get and Delete are
optional capabilities used for cache pull-through and delete
propagation.

Builtin modules are compiled in and registered at startup. A configured
stage whose module is not compiled in resolves through its declared
package source: an http(s) source becomes an out-of-process link
speaking the JSON stage contract (ExternalLink); any other source is an
installation failure, the stage is marked permanently unresolved, and
every chain referencing it is disabled with a logged error.

Resolution is lazy at first use and cached for the process lifetime.

StageError attaches a recoverable/permanent classification to failures;
Classify defaults unmarked errors to recoverable so that only stages
explicitly signalling do-not-retry produce permanent DLQ markers.
*/
package registry
