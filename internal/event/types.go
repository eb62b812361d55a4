package event

import (
	"time"

	"github.com/Iron-Ham/conductor/internal/exitcode"
)

// Event is implemented by every published event.
type Event interface {
	// EventType returns "category.action", e.g. "stage.finished".
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type names.
const (
	TypeInvocationStarted  = "invocation.started"
	TypeInvocationFinished = "invocation.finished"
	TypeStageFinished      = "stage.finished"
	TypeWorkerFinished     = "worker.finished"
	TypePhaseFinished      = "phase.finished"
	TypeCircuitDenied      = "circuit.denied"
	TypeCheckpointWritten  = "checkpoint.written"
	TypeCampaignTransition = "campaign.transition"
)

// InvocationStartedEvent is emitted before a worker process is spawned.
type InvocationStartedEvent struct {
	baseEvent
	AgentType string
	Model     string
	Depth     int
}

func NewInvocationStartedEvent(agentType, model string, depth int) InvocationStartedEvent {
	return InvocationStartedEvent{
		baseEvent: newBaseEvent(TypeInvocationStarted),
		AgentType: agentType,
		Model:     model,
		Depth:     depth,
	}
}

// InvocationFinishedEvent is emitted when a worker process settles.
type InvocationFinishedEvent struct {
	baseEvent
	AgentType string
	Code      exitcode.Code
	Duration  time.Duration
}

func NewInvocationFinishedEvent(agentType string, code exitcode.Code, d time.Duration) InvocationFinishedEvent {
	return InvocationFinishedEvent{
		baseEvent: newBaseEvent(TypeInvocationFinished),
		AgentType: agentType,
		Code:      code,
		Duration:  d,
	}
}

// StageFinishedEvent is emitted once per stage after its last attempt.
type StageFinishedEvent struct {
	baseEvent
	Pipeline string
	Stage    string
	Code     exitcode.Code
	Attempts int
}

func NewStageFinishedEvent(pipeline, stage string, code exitcode.Code, attempts int) StageFinishedEvent {
	return StageFinishedEvent{
		baseEvent: newBaseEvent(TypeStageFinished),
		Pipeline:  pipeline,
		Stage:     stage,
		Code:      code,
		Attempts:  attempts,
	}
}

// WorkerFinishedEvent is emitted as each fan-out worker completes.
type WorkerFinishedEvent struct {
	baseEvent
	Domain   string
	Code     exitcode.Code
	Artifact string
}

func NewWorkerFinishedEvent(domain string, code exitcode.Code, artifact string) WorkerFinishedEvent {
	return WorkerFinishedEvent{
		baseEvent: newBaseEvent(TypeWorkerFinished),
		Domain:    domain,
		Code:      code,
		Artifact:  artifact,
	}
}

// PhaseFinishedEvent is emitted after each phase attempt sequence.
type PhaseFinishedEvent struct {
	baseEvent
	Phase   string
	Code    exitcode.Code
	Skipped bool
}

func NewPhaseFinishedEvent(phase string, code exitcode.Code, skipped bool) PhaseFinishedEvent {
	return PhaseFinishedEvent{
		baseEvent: newBaseEvent(TypePhaseFinished),
		Phase:     phase,
		Code:      code,
		Skipped:   skipped,
	}
}

// CircuitDeniedEvent is emitted when an open circuit refuses a call.
type CircuitDeniedEvent struct {
	baseEvent
	AgentType  string
	RetryAfter time.Time
}

func NewCircuitDeniedEvent(agentType string, retryAfter time.Time) CircuitDeniedEvent {
	return CircuitDeniedEvent{
		baseEvent:  newBaseEvent(TypeCircuitDenied),
		AgentType:  agentType,
		RetryAfter: retryAfter,
	}
}

// CheckpointWrittenEvent is emitted after a checkpoint file is created.
type CheckpointWrittenEvent struct {
	baseEvent
	Path string
}

func NewCheckpointWrittenEvent(path string) CheckpointWrittenEvent {
	return CheckpointWrittenEvent{baseEvent: newBaseEvent(TypeCheckpointWritten), Path: path}
}

// CampaignTransitionEvent is emitted when the campaign changes state.
type CampaignTransitionEvent struct {
	baseEvent
	From string
	To   string
}

func NewCampaignTransitionEvent(from, to string) CampaignTransitionEvent {
	return CampaignTransitionEvent{baseEvent: newBaseEvent(TypeCampaignTransition), From: from, To: to}
}
