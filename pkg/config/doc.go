/*
Package config loads and validates the declarative pipeline configuration.

Two inputs are combined at startup:

  - The YAML document (chains, stages, storages, ingress_auth), parsed by
    Load/Parse into a validated in-memory model. Chains that reference
    unknown stages or storages are demoted to disabled with a logged
    error instead of failing startup; a chain with no ingress queue is a
    fatal configuration error.
  - Process-level Settings resolved from the environment (Redis endpoint,
    worker count, TTLs, fan-out mode, shutdown grace).

# Example document

	ingress_auth:
	  q1: ["s3cret"]

	stages:
	  tag:
	    module: tag
	    options:
	      tags: ["processed:true"]

	storages:
	  pgA:
	    module: postgres
	    options:
	      dsn: "postgres://localhost/vcons?sslmode=disable"

	chains:
	  demo:
	    stages:
	      - tag
	    storages: [pgA]
	    ingress_queues: [q1]
	    egress_queues: [eq1]
	    timeout: 30s
	    enabled: true

Chain stage entries accept either a bare name or a mapping with
chain-level option overrides; the overrides shallow-merge over the
stage's declared defaults at invocation time.
*/
package config
