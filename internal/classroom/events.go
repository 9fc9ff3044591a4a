package classroom

import (
	"encoding/json"
	"time"
)

// EventType names an event delivered to subscribers.
type EventType string

const (
	EventRoomState          EventType = "room_state"
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantLeft    EventType = "participant_left"
	EventParticipantKicked  EventType = "participant_kicked"
	EventParticipantMuted   EventType = "participant_muted"
	EventParticipantWaiting EventType = "participant_waiting"
	EventAdmissionDenied    EventType = "admission_denied"
	EventChatMessage        EventType = "chat_message"
	EventHandRaised         EventType = "hand_raised"
	EventHandRaiseResolved  EventType = "hand_raise_resolved"
	EventScreenShare        EventType = "screen_share"
	EventSettingsUpdated    EventType = "settings_updated"
	EventSignal             EventType = "signal"
	EventAttendanceUpdated  EventType = "attendance_updated"
	EventSessionEnded       EventType = "session_ended"
)

// Event is one addressed notification. Seq is the room-wide total order of
// broadcast events; point-to-point events carry Seq 0.
type Event struct {
	Seq       uint64    `json:"seq,omitempty"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

// RoomState is the snapshot a participant receives first after joining.
type RoomState struct {
	Self         Participant   `json:"self"`
	Participants []Participant `json:"participants"`
	Settings     Settings      `json:"settings"`
	HandRaises   []HandRaise   `json:"handRaises"`
	// Seq is the last broadcast sequence number emitted before this snapshot.
	Seq     uint64 `json:"seq"`
	Waiting bool   `json:"waiting,omitempty"`
}

// ParticipantJoined announces a new member.
type ParticipantJoined struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          Role   `json:"role"`
}

// ParticipantRemoved is the payload of participant_left and participant_kicked.
type ParticipantRemoved struct {
	ParticipantID string      `json:"participantId"`
	Reason        LeaveReason `json:"reason"`
	By            string      `json:"by,omitempty"`
}

// ParticipantMuted carries only the flags that changed.
type ParticipantMuted struct {
	ParticipantID string `json:"participantId"`
	Audio         *bool  `json:"audio,omitempty"`
	Video         *bool  `json:"video,omitempty"`
	By            string `json:"by"`
}

// ParticipantWaiting is sent to teachers when someone enters the lobby.
type ParticipantWaiting struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          Role   `json:"role"`
}

// HandRaiseResolved reports the outcome of a hand-raise.
type HandRaiseResolved struct {
	HandRaiseID   string      `json:"handRaiseId"`
	ParticipantID string      `json:"participantId"`
	Outcome       HandOutcome `json:"outcome"`
	By            string      `json:"by,omitempty"`
}

// ScreenShare reports a participant starting or stopping a screen share.
type ScreenShare struct {
	ParticipantID string `json:"participantId"`
	Active        bool   `json:"active"`
}

// Signal is the routing envelope of a relayed negotiation payload.
type Signal struct {
	FromID  string          `json:"fromId"`
	ToID    string          `json:"toId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SessionEnded is the last broadcast a room emits.
type SessionEnded struct {
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}
