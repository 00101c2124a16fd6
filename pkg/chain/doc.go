/*
Package chain implements the execution engine that runs one vCon
through a configured chain.

Execution is strictly sequential over the chain's stages. Each stage
runs under a per-stage time bound (chain override or process default)
with chain-level options shallow-merged over the stage's declared
defaults. A stage can continue the chain (possibly on a different
UUID), filter it (clean halt: no storage, no egress, no DLQ), or fail
it. The first failure halts the chain and places the *entry* UUID on
the chain's DLQ, named DLQ:<first-ingress-queue>, with the document TTL
raised to the DLQ retention value and a structured failure marker
written next to the entry.

After the last stage, the document is fanned out to every configured
storage backend, in parallel (each save with its own deadline) or
sequentially in declaration order. Siblings are independent; a failure
never cancels the rest. The chain is persisted if at least one storage
succeeds; only total storage failure fails the chain. With zero
storages configured the fan-out trivially succeeds.

On success the final UUID is right-pushed onto each egress queue so
consumers reading left to right see FIFO order. Filtered and failed
chains emit nothing.

Per-stage, per-storage and chain-total durations plus outcome counts
are recorded in pkg/metrics.
*/
package chain
