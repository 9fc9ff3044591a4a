package classroom

// Action is a room operation subject to authorization.
type Action string

const (
	ActionKick             Action = "kick"
	ActionSetMute          Action = "set_mute"
	ActionRaiseHand        Action = "raise_hand"
	ActionLowerHand        Action = "lower_hand"
	ActionResolveHand      Action = "resolve_hand"
	ActionChatPublic       Action = "chat_public"
	ActionChatPrivate      Action = "chat_private"
	ActionChatAnnouncement Action = "chat_announcement"
	ActionViewAttendance   Action = "view_attendance"
	ActionUpdateSettings   Action = "update_settings"
	ActionEndSession       Action = "end_session"
	ActionScreenShare      Action = "screen_share"
	ActionAdmit            Action = "admit"
)

// Request is everything the gate needs to decide one action.
type Request struct {
	Action      Action
	Role        Role
	RequesterID string
	TargetID    string
	TargetRole  Role
	// Audio and Video are the requested mute flags for ActionSetMute.
	Audio    *bool
	Video    *bool
	Settings Settings
}

// Allow is the single permission evaluator for every room operation.
// It has no side effects and does not check presence.
func Allow(req Request) bool {
	teacher := req.Role == RoleTeacher
	switch req.Action {
	case ActionKick:
		return teacher && req.TargetID != req.RequesterID
	case ActionSetMute:
		return allowMute(req)
	case ActionRaiseHand:
		return req.Role == RoleStudent && req.Settings.AllowHandRaise
	case ActionLowerHand:
		return req.Role == RoleStudent
	case ActionResolveHand, ActionViewAttendance, ActionUpdateSettings, ActionEndSession, ActionAdmit:
		return teacher
	case ActionChatPublic:
		return teacher || req.Settings.AllowStudentChat
	case ActionChatPrivate:
		return req.Settings.AllowPrivateMessages && req.TargetID != "" && req.TargetID != req.RequesterID
	case ActionChatAnnouncement:
		return teacher
	case ActionScreenShare:
		if teacher {
			return true
		}
		return req.Role == RoleStudent && req.Settings.AllowStudentScreenShare
	}
	return false
}

// allowMute: a teacher may set any flag on anyone with media; anyone else may
// only mute themself.
func allowMute(req Request) bool {
	if req.TargetRole == RoleObserver {
		return false
	}
	if req.Role == RoleTeacher {
		return true
	}
	if req.RequesterID == "" || req.RequesterID != req.TargetID {
		return false
	}
	if req.Audio != nil && !*req.Audio {
		return false
	}
	if req.Video != nil && !*req.Video {
		return false
	}
	return true
}
