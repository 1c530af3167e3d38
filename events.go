package agentcli

import (
	"github.com/driftwire/agentcli/internal/events"
	"github.com/driftwire/agentcli/internal/router"
)

// Event is the normalized envelope delivered on a session's event stream.
type Event = events.Envelope

// EventType is a namespaced event symbol drawn from a closed enumeration;
// unknown values are forwarded as-is rather than elevated into a typed API.
type EventType = events.Type

const (
	EventSessionStart           = events.TypeSessionStart
	EventSessionIdle            = events.TypeSessionIdle
	EventSessionError           = events.TypeSessionError
	EventSessionCompactionStart = events.TypeSessionCompactionStart
	EventSessionCompactionEnd   = events.TypeSessionCompactionEnd
	EventSessionSnapshotRewind  = events.TypeSessionSnapshotRewind
	EventUserMessage            = events.TypeUserMessage
	EventAssistantTurnStart     = events.TypeAssistantTurnStart
	EventAssistantMessage       = events.TypeAssistantMessage
	EventAssistantMessageDelta  = events.TypeAssistantMessageDelta
	EventAssistantTurnEnd       = events.TypeAssistantTurnEnd
	EventToolExecutionStart     = events.TypeToolExecutionStart
	EventToolExecutionProgress  = events.TypeToolExecutionProgress
	EventToolExecutionComplete  = events.TypeToolExecutionComplete
	EventSubagentStart          = events.TypeSubagentStart
	EventSubagentEnd            = events.TypeSubagentEnd
	EventHookStart              = events.TypeHookStart
	EventHookEnd                = events.TypeHookEnd
	EventSkillStart             = events.TypeSkillStart
	EventSkillEnd               = events.TypeSkillEnd
)

// AssistantMessageData is the payload shape of an assistant.message event.
type AssistantMessageData = events.AssistantMessageData

// LifecycleEvent is the normalized payload delivered to lifecycle
// subscribers registered via Client.OnLifecycle.
type LifecycleEvent = router.LifecycleEvent

// LifecycleHandler receives lifecycle broadcasts. An empty filter type
// passed to OnLifecycle means "any type".
type LifecycleHandler = router.LifecycleHandler
