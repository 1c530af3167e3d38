// Package events defines the normalized event envelope and the closed
// type enumeration forwarded from the assistant CLI's notification stream.
package events

import (
	"encoding/json"
	"time"
)

// Type is a namespaced event symbol. The enumeration is authoritative but
// not exhaustive: unknown values are forwarded as-is, the original string
// kept as the Type, rather than elevated into a typed API, per the protocol's forward
// compatibility requirement.
type Type string

const (
	TypeSessionStart            Type = "session.start"
	TypeSessionIdle             Type = "session.idle"
	TypeSessionError            Type = "session.error"
	TypeSessionCompactionStart  Type = "session.compaction_start"
	TypeSessionCompactionEnd    Type = "session.compaction_end"
	TypeSessionSnapshotRewind   Type = "session.snapshot_rewind"
	TypeUserMessage             Type = "user.message"
	TypeAssistantTurnStart      Type = "assistant.turn_start"
	TypeAssistantMessage        Type = "assistant.message"
	TypeAssistantMessageDelta   Type = "assistant.message_delta"
	TypeAssistantTurnEnd        Type = "assistant.turn_end"
	TypeToolExecutionStart      Type = "tool.execution_start"
	TypeToolExecutionProgress   Type = "tool.execution_progress"
	TypeToolExecutionComplete   Type = "tool.execution_complete"
	TypeSubagentStart           Type = "subagent.start"
	TypeSubagentEnd             Type = "subagent.end"
	TypeHookStart               Type = "hook.start"
	TypeHookEnd                 Type = "hook.end"
	TypeSkillStart              Type = "skill.start"
	TypeSkillEnd                Type = "skill.end"
)

// Envelope is the normalized shape of every event published on a session's
// broadcast, whether or not its Type is one of the named constants above.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	ParentID  string          `json:"parentId,omitempty"`
	Ephemeral bool            `json:"ephemeral,omitempty"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// wireEnvelope matches the JSON shape; Timestamp may arrive as either an
// RFC3339 string or epoch milliseconds depending on peer implementation.
type wireEnvelope struct {
	ID        string          `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	ParentID  string          `json:"parentId,omitempty"`
	Ephemeral bool            `json:"ephemeral,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw session.event "event" payload into an Envelope.
func Decode(raw json.RawMessage) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ID:        w.ID,
		ParentID:  w.ParentID,
		Ephemeral: w.Ephemeral,
		Type:      Type(w.Type),
		Data:      w.Data,
	}
	env.Timestamp = decodeTimestamp(w.Timestamp)
	return env, nil
}

func decodeTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// AssistantMessageData is the shape carried on an assistant.message event,
// enumerated because §8's "last assistant message wins" property depends
// on reading its content field.
type AssistantMessageData struct {
	Content string `json:"content"`
}

// Content decodes this envelope's Data as AssistantMessageData; callers
// must only call this when Type == TypeAssistantMessage.
func (e Envelope) Content() (string, error) {
	var d AssistantMessageData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return "", err
	}
	return d.Content, nil
}
