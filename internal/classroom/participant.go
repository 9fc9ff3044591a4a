package classroom

import "time"

// Role is the immutable role a participant joins with.
type Role string

const (
	RoleTeacher  Role = "teacher"
	RoleStudent  Role = "student"
	RoleObserver Role = "observer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleObserver:
		return true
	}
	return false
}

// Participant is the presence record of one user in one room.
type Participant struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Role            Role      `json:"role"`
	AudioMuted      bool      `json:"audioMuted"`
	VideoMuted      bool      `json:"videoMuted"`
	HandRaised      bool      `json:"handRaised"`
	ScreenSharing   bool      `json:"screenSharing"`
	ConnectionToken string    `json:"-"`
	JoinedAt        time.Time `json:"joinedAt"`
}

// IsTeacher reports whether the participant joined as a teacher.
func (p Participant) IsTeacher() bool { return p.Role == RoleTeacher }

// newParticipant seeds mute flags from the room settings. Teachers are never
// auto-muted; observers have no media and are always muted.
func newParticipant(id, name string, role Role, token string, s Settings, now time.Time) *Participant {
	p := &Participant{
		ID:              id,
		DisplayName:     name,
		Role:            role,
		ConnectionToken: token,
		JoinedAt:        now,
	}
	switch role {
	case RoleTeacher:
	case RoleObserver:
		p.AudioMuted, p.VideoMuted = true, true
	default:
		p.AudioMuted = s.DefaultMicrophoneState == MicrophoneMuted || s.AutoMuteNewParticipants
		p.VideoMuted = s.DefaultCameraState == CameraOff
	}
	return p
}
