package domain

import "time"

// Scope groups presence. The zero value is the global scope.
type Scope struct {
	Conversation ConversationID
}

var GlobalScope = Scope{}

func ConversationScope(id ConversationID) Scope {
	return Scope{Conversation: id}
}

func (s Scope) IsGlobal() bool { return s.Conversation == "" }

// Channel is the registry channel where deltas of this scope are published.
func (s Scope) Channel() ConversationID {
	if s.IsGlobal() {
		return Lobby
	}
	return s.Conversation
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "conversation:" + string(s.Conversation)
}

// PresenceRecord counts live connections, never sessions as booleans:
// one identity may be connected from several devices.
type PresenceRecord struct {
	Identity      Identity
	Scope         Scope
	Connections   int
	LastHeartbeat time.Time
}

func (p PresenceRecord) Online() bool { return p.Connections > 0 }

type PresenceDelta struct {
	Scope    Scope
	Identity Identity
	Online   bool
}
