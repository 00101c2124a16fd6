// Package probe provides startup reachability checks for the pipeline's
// external collaborators: out-of-process stage endpoints over HTTP and
// storage backends over TCP. Probes inform logs and the health surface
// only; an endpoint that is down at startup may come up later, so probe
// failures never disable a chain.
package probe
