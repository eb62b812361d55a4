// Package pipeline defines the named units of work the orchestrators run.
//
// A [Pipeline] is an ordered list of [Stage] descriptors executed by the
// stage orchestrator. A [WorkerSet] is a list of [Worker] descriptors
// executed concurrently by the fan-out orchestrator. A [Phase] references one
// of the two through an orchestrator reference such as "stage:review" or
// "fanout:research".
//
// Definitions are loaded from YAML and merged over the built-in defaults:
//
//	pipelines:
//	  review:
//	    stages:
//	      - name: analyze
//	        tier: medium
//	      - name: critique
//	        tier: high
//	        retries: 2
//	        required: false
//	worker_sets:
//	  research:
//	    workers:
//	      - domain: architecture
//	      - domain: risks
//	        focus: failure modes and rollback
package pipeline
