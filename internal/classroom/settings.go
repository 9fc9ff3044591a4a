package classroom

// MicrophoneState is the default microphone state for new participants.
type MicrophoneState string

// CameraState is the default camera state for new participants.
type CameraState string

const (
	MicrophoneMuted   MicrophoneState = "muted"
	MicrophoneUnmuted MicrophoneState = "unmuted"

	CameraOn  CameraState = "on"
	CameraOff CameraState = "off"
)

// Settings are the per-room flags consumed by the authorization gate.
// Layout and recording are carried for clients; they are not enforced here.
type Settings struct {
	AllowHandRaise          bool            `json:"allowHandRaise"`
	AllowStudentChat        bool            `json:"allowStudentChat"`
	AllowPrivateMessages    bool            `json:"allowPrivateMessages"`
	AllowStudentScreenShare bool            `json:"allowStudentScreenShare"`
	AutoMuteNewParticipants bool            `json:"autoMuteNewParticipants"`
	DefaultMicrophoneState  MicrophoneState `json:"defaultMicrophoneState" validate:"omitempty,oneof=muted unmuted"`
	DefaultCameraState      CameraState     `json:"defaultCameraState" validate:"omitempty,oneof=on off"`
	DefaultLayout           string          `json:"defaultLayout"`
	WaitingRoomEnabled      bool            `json:"waitingRoomEnabled"`
	RecordSession           bool            `json:"recordSession"`
}

// DefaultSettings returns the settings a classroom starts with when the
// scheduling side supplies none.
func DefaultSettings() Settings {
	return Settings{
		AllowHandRaise:         true,
		AllowStudentChat:       true,
		AllowPrivateMessages:   true,
		DefaultMicrophoneState: MicrophoneMuted,
		DefaultCameraState:     CameraOn,
		DefaultLayout:          "grid",
	}
}

// RoomConfig is what the scheduling collaborator supplies when a room is created.
type RoomConfig struct {
	Settings Settings
	// Capacity caps concurrent participants (lobby included). Zero means unlimited.
	Capacity int
}
