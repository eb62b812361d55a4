// Package event provides a pub-sub event bus for progress reporting across
// orchestration layers.
//
// Layers publish events as work starts and finishes; the CLI subscribes to
// render progress on stderr. Publishing on a nil *Bus is a no-op, so layers
// never need to check whether anyone is listening.
//
// # Event Categories
//
// Invocation:
//   - [InvocationStartedEvent], [InvocationFinishedEvent]
//
// Orchestration:
//   - [StageFinishedEvent]: one stage settled, after retries
//   - [WorkerFinishedEvent]: one fan-out worker settled
//   - [PhaseFinishedEvent]: one phase settled or was skipped
//
// Cross-cutting:
//   - [CircuitDeniedEvent]: the breaker refused an invocation
//   - [CheckpointWrittenEvent]
//   - [CampaignTransitionEvent]: the campaign state machine moved
package event
