// Package conversation runs chat turns: it persists messages, classifies
// intent, executes the matching side effect and records an ordered event
// stream per session.
package conversation

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionClosed   SessionStatus = "closed"
	SessionArchived SessionStatus = "archived"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionClosed, SessionArchived:
		return true
	}
	return false
}

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EventType classifies a session event.
type EventType string

const (
	EventMessage        EventType = "message"
	EventStatus         EventType = "status"
	EventArtifactUpdate EventType = "artifact_update"
	EventTaskProgress   EventType = "task_progress"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventMessage, EventStatus, EventArtifactUpdate, EventTaskProgress:
		return true
	}
	return false
}

// Session groups the messages of one conversation.
type Session struct {
	ID        string        `json:"id"`
	ProjectID *string       `json:"project_id"`
	Title     *string       `json:"title"`
	Status    SessionStatus `json:"status"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

// Message is one chat message. Content only ever grows, through AppendNote.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// Event is one entry of a session's append-only event stream. IDs increase
// monotonically and serve as the listing cursor.
type Event struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// CreateSessionInput opens a session, optionally bound to a project.
type CreateSessionInput struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	ProjectID string
	Status    SessionStatus
	Limit     int
	Offset    int
}

// Turn is the result of one SendMessage call.
type Turn struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	Events           []*Event `json:"events"`
}
