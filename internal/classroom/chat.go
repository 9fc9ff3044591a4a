package classroom

import "time"

// ChatKind selects how a chat message is delivered.
type ChatKind string

const (
	ChatPublic       ChatKind = "public"
	ChatPrivate      ChatKind = "private"
	ChatAnnouncement ChatKind = "announcement"
)

// ChatInput is what a sender submits.
type ChatInput struct {
	Kind        ChatKind `json:"kind" validate:"required,oneof=public private announcement"`
	Body        string   `json:"body" validate:"required,max=4000"`
	RecipientID string   `json:"recipientId,omitempty" validate:"required_if=Kind private"`
}

// ChatMessage is the relayed message. It is not stored by the room.
type ChatMessage struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Body          string    `json:"body"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          ChatKind  `json:"kind"`
	RecipientID   string    `json:"recipientId,omitempty"`
	RecipientName string    `json:"recipientName,omitempty"`
	IsTeacher     bool      `json:"isTeacher"`
}

// chatAction maps a message kind to the action the gate evaluates.
func chatAction(kind ChatKind) (Action, bool) {
	switch kind {
	case ChatPublic:
		return ActionChatPublic, true
	case ChatPrivate:
		return ActionChatPrivate, true
	case ChatAnnouncement:
		return ActionChatAnnouncement, true
	}
	return "", false
}

// HandOutcome is how a hand-raise was closed.
type HandOutcome string

const (
	OutcomeApproved  HandOutcome = "approved"
	OutcomeDismissed HandOutcome = "dismissed"
	OutcomeWithdrawn HandOutcome = "withdrawn"
)

// HandRaise is one entry of the room's hand-raise log.
type HandRaise struct {
	ID            string      `json:"id"`
	ParticipantID string      `json:"participantId"`
	DisplayName   string      `json:"displayName"`
	RaisedAt      time.Time   `json:"raisedAt"`
	Active        bool        `json:"active"`
	Outcome       HandOutcome `json:"outcome,omitempty"`
	ResolvedAt    *time.Time  `json:"resolvedAt,omitempty"`
}
