package event

type Type string

const (
	TypeSessionLogin   Type = "session.login"
	TypeSessionRefresh Type = "session.refresh"
	TypeSessionLogout  Type = "session.logout"
	TypeUserRegistered Type = "user.registered"
	TypeUserDeleted    Type = "user.deleted"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // user the event is about
}

// SessionPayload is attached to session.* events. Raw token values are never
// included.
type SessionPayload struct {
	UserID  string `json:"userId"`
	AuditID string `json:"auditId,omitempty"`
	TokenID string `json:"tokenId,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() { close(ch) }
}
