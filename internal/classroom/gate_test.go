package classroom

import "testing"

func TestAllow(t *testing.T) {
	open := DefaultSettings()
	open.AllowStudentScreenShare = true
	locked := Settings{}

	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"teacher kicks student", Request{Action: ActionKick, Role: RoleTeacher, RequesterID: "t", TargetID: "s"}, true},
		{"teacher cannot kick self", Request{Action: ActionKick, Role: RoleTeacher, RequesterID: "t", TargetID: "t"}, false},
		{"student cannot kick", Request{Action: ActionKick, Role: RoleStudent, RequesterID: "s", TargetID: "s2"}, false},
		{"observer cannot kick", Request{Action: ActionKick, Role: RoleObserver, RequesterID: "o", TargetID: "s"}, false},

		{"teacher unmutes student", Request{Action: ActionSetMute, Role: RoleTeacher, RequesterID: "t", TargetID: "s", TargetRole: RoleStudent, Audio: boolPtr(false)}, true},
		{"teacher cannot touch observer media", Request{Action: ActionSetMute, Role: RoleTeacher, RequesterID: "t", TargetID: "o", TargetRole: RoleObserver, Audio: boolPtr(true)}, false},
		{"student mutes self", Request{Action: ActionSetMute, Role: RoleStudent, RequesterID: "s", TargetID: "s", TargetRole: RoleStudent, Audio: boolPtr(true), Video: boolPtr(true)}, true},
		{"student cannot unmute self", Request{Action: ActionSetMute, Role: RoleStudent, RequesterID: "s", TargetID: "s", TargetRole: RoleStudent, Audio: boolPtr(false)}, false},
		{"student cannot unmute own video", Request{Action: ActionSetMute, Role: RoleStudent, RequesterID: "s", TargetID: "s", TargetRole: RoleStudent, Audio: boolPtr(true), Video: boolPtr(false)}, false},
		{"student cannot mute other", Request{Action: ActionSetMute, Role: RoleStudent, RequesterID: "s", TargetID: "s2", TargetRole: RoleStudent, Audio: boolPtr(true)}, false},
		{"student cannot mute teacher", Request{Action: ActionSetMute, Role: RoleStudent, RequesterID: "s", TargetID: "t", TargetRole: RoleTeacher, Audio: boolPtr(true)}, false},
		{"teacher mutes self", Request{Action: ActionSetMute, Role: RoleTeacher, RequesterID: "t", TargetID: "t", TargetRole: RoleTeacher, Audio: boolPtr(false)}, true},

		{"student raises hand", Request{Action: ActionRaiseHand, Role: RoleStudent, Settings: open}, true},
		{"hand raise disabled", Request{Action: ActionRaiseHand, Role: RoleStudent, Settings: locked}, false},
		{"teacher cannot raise hand", Request{Action: ActionRaiseHand, Role: RoleTeacher, Settings: open}, false},
		{"observer cannot raise hand", Request{Action: ActionRaiseHand, Role: RoleObserver, Settings: open}, false},
		{"teacher resolves hand", Request{Action: ActionResolveHand, Role: RoleTeacher}, true},
		{"student cannot resolve hand", Request{Action: ActionResolveHand, Role: RoleStudent}, false},

		{"student public chat allowed", Request{Action: ActionChatPublic, Role: RoleStudent, Settings: open}, true},
		{"student public chat disabled", Request{Action: ActionChatPublic, Role: RoleStudent, Settings: locked}, false},
		{"teacher public chat always", Request{Action: ActionChatPublic, Role: RoleTeacher, Settings: locked}, true},
		{"private chat allowed", Request{Action: ActionChatPrivate, Role: RoleStudent, RequesterID: "s", TargetID: "t", Settings: open}, true},
		{"private chat disabled", Request{Action: ActionChatPrivate, Role: RoleStudent, RequesterID: "s", TargetID: "t", Settings: locked}, false},
		{"private chat disabled for teacher too", Request{Action: ActionChatPrivate, Role: RoleTeacher, RequesterID: "t", TargetID: "s", Settings: locked}, false},
		{"private chat needs recipient", Request{Action: ActionChatPrivate, Role: RoleStudent, RequesterID: "s", Settings: open}, false},
		{"private chat to self", Request{Action: ActionChatPrivate, Role: RoleStudent, RequesterID: "s", TargetID: "s", Settings: open}, false},
		{"teacher announcement", Request{Action: ActionChatAnnouncement, Role: RoleTeacher}, true},
		{"student announcement", Request{Action: ActionChatAnnouncement, Role: RoleStudent, Settings: open}, false},

		{"teacher views attendance", Request{Action: ActionViewAttendance, Role: RoleTeacher}, true},
		{"student cannot view attendance", Request{Action: ActionViewAttendance, Role: RoleStudent}, false},
		{"observer cannot update settings", Request{Action: ActionUpdateSettings, Role: RoleObserver}, false},
		{"teacher ends session", Request{Action: ActionEndSession, Role: RoleTeacher}, true},
		{"student cannot admit", Request{Action: ActionAdmit, Role: RoleStudent}, false},

		{"student screen share allowed", Request{Action: ActionScreenShare, Role: RoleStudent, Settings: open}, true},
		{"student screen share disabled", Request{Action: ActionScreenShare, Role: RoleStudent, Settings: locked}, false},
		{"teacher screen share", Request{Action: ActionScreenShare, Role: RoleTeacher, Settings: locked}, true},
		{"observer screen share", Request{Action: ActionScreenShare, Role: RoleObserver, Settings: open}, false},

		{"unknown action", Request{Action: "teleport", Role: RoleTeacher}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allow(tc.req); got != tc.want {
				t.Fatalf("Allow(%+v) = %v, want %v", tc.req, got, tc.want)
			}
		})
	}
}
