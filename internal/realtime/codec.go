package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aura-classroom/backend/internal/classroom"
)

// Inbound event names.
const (
	InLeave          = "leave"
	InMute           = "mute"
	InKick           = "kick"
	InRaiseHand      = "raise_hand"
	InLowerHand      = "lower_hand"
	InResolveHand    = "resolve_hand"
	InChatMessage    = "chat_message"
	InSignal         = "signal"
	InScreenShare    = "screen_share"
	InUpdateSettings = "update_settings"
	InEndSession     = "end_session"
	InAdmit          = "admit"
	InDeny           = "deny"
	InAttendance     = "attendance"
	InLiveDuration   = "live_duration"
)

// Outbound frame names that are not room events.
const (
	OutAck        = "ack"
	OutError      = "error"
	OutICEServers = "ice_servers"
)

// Message is the WebSocket envelope in both directions. Requests carry an id
// that is echoed on their ack or error; room events carry seq and at.
type Message struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	At    *time.Time      `json:"at,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the body of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type mutePayload struct {
	TargetID string `json:"targetId" validate:"required"`
	Audio    *bool  `json:"audio" validate:"required_without=Video"`
	Video    *bool  `json:"video" validate:"required_without=Audio"`
}

type targetPayload struct {
	TargetID string `json:"targetId" validate:"required"`
}

type participantPayload struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type resolvePayload struct {
	HandRaiseID string                `json:"handRaiseId" validate:"required"`
	Outcome     classroom.HandOutcome `json:"outcome" validate:"required,oneof=approved dismissed"`
}

type signalPayload struct {
	ToID    string          `json:"toId" validate:"required"`
	Kind    string          `json:"kind" validate:"required,max=32"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type screenSharePayload struct {
	Active bool `json:"active"`
}

// EventMessage frames a room event.
func EventMessage(ev classroom.Event) (Message, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	at := ev.At
	return Message{Event: string(ev.Type), Seq: ev.Seq, At: &at, Data: data}, nil
}

// Ack frames a successful reply to request id.
func Ack(id string, result any) Message {
	msg := Message{ID: id, Event: OutAck}
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			msg.Data = data
		}
	}
	return msg
}

// ErrorMessage frames a failed reply with the wire code of err.
func ErrorMessage(id string, err error) Message {
	data, _ := json.Marshal(ErrorData{Code: classroom.Code(err), Message: err.Error()})
	return Message{ID: id, Event: OutError, Data: data}
}

// decoder unmarshals and validates request payloads.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() decoder {
	return decoder{validate: validator.New()}
}

// decode fills v from data and validates it. Malformed or invalid payloads
// are reported as classroom.ErrInvalidRequest.
func (d decoder) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, classroom.ErrInvalidRequest)
	}
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("%v: %w", err, classroom.ErrInvalidRequest)
	}
	return nil
}
