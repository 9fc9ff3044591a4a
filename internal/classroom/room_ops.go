package classroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JoinRequest identifies who is joining and over which connection.
type JoinRequest struct {
	ParticipantID   string
	DisplayName     string
	Role            Role
	ConnectionToken string
}

type joinResult struct {
	p   Participant
	sub *Subscription
}

// Join registers a participant and returns its state and event stream. The
// first event on the stream is a room_state snapshot. A join by an ID that is
// already present replaces the connection and keeps the open attendance span.
func (r *Room) Join(ctx context.Context, req JoinRequest) (Participant, *Subscription, error) {
	if req.ParticipantID == "" || !req.Role.Valid() {
		return Participant{}, nil, fmt.Errorf("join: %w", ErrInvalidRequest)
	}
	res, err := call(ctx, r, "join", func() (joinResult, error) {
		if err := ctx.Err(); err != nil {
			return joinResult{}, err
		}
		return r.join(req)
	})
	if err != nil && joinMayHaveApplied(err) {
		r.rollbackJoin(req.ConnectionToken)
		return Participant{}, nil, err
	}
	return res.p, res.sub, err
}

// joinMayHaveApplied reports errors after which the join command may have run
// in full or in part: the caller stopped waiting, or the command panicked.
func joinMayHaveApplied(err error) bool {
	return errors.Is(err, ErrInternal) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// rollbackJoin removes whatever a failed join registered under token. The
// disconnect is queued behind the join, so it runs after it.
func (r *Room) rollbackJoin(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	n, err := r.Disconnect(ctx, token)
	switch {
	case err != nil && !errors.Is(err, ErrRoomClosed):
		r.logger.Error("roll back failed join", zap.Error(err))
	case n > 0:
		r.logger.Warn("rolled back failed join", zap.Int("removed", n))
	}
}

func (r *Room) join(req JoinRequest) (joinResult, error) {
	if r.closed {
		return joinResult{}, fmt.Errorf("join %s: %w", r.sessionID, ErrRoomClosed)
	}
	now := r.now()
	if p, ok := r.participants[req.ParticipantID]; ok {
		return r.reconnect(p, req), nil
	}
	if e, ok := r.lobby[req.ParticipantID]; ok {
		e.sub.close()
		e.p.ConnectionToken = req.ConnectionToken
		e.sub = newSubscription(e.p.ID, req.ConnectionToken, r.outboxSize)
		e.sub.push(r.bc.direct(EventRoomState, r.snapshot(*e.p, true)))
		return joinResult{p: *e.p, sub: e.sub}, nil
	}
	if r.cfg.Capacity > 0 && len(r.participants)+len(r.lobby) >= r.cfg.Capacity {
		return joinResult{}, fmt.Errorf("join %s: %w", r.sessionID, ErrCapacityExceeded)
	}

	p := newParticipant(req.ParticipantID, req.DisplayName, req.Role, req.ConnectionToken, r.cfg.Settings, now)
	sub := newSubscription(p.ID, req.ConnectionToken, r.outboxSize)
	if r.cfg.Settings.WaitingRoomEnabled && p.Role != RoleTeacher {
		r.lobby[p.ID] = &lobbyEntry{p: p, sub: sub}
		sub.push(r.bc.direct(EventRoomState, r.snapshot(*p, true)))
		r.bc.sendTo(EventParticipantWaiting, ParticipantWaiting{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Role:          p.Role,
		}, r.teacherIDs()...)
		r.logger.Info("participant waiting", zap.String("participant_id", p.ID))
		return joinResult{p: *p, sub: sub}, nil
	}
	r.admit(p, sub, now)
	return joinResult{p: *p, sub: sub}, nil
}

// admit makes p a member. The attendance span exists before anyone hears of the join.
func (r *Room) admit(p *Participant, sub *Subscription, now time.Time) {
	p.JoinedAt = now
	rec := r.tracker.Open(*p, now)
	r.participants[p.ID] = p
	r.bc.broadcast(EventParticipantJoined, ParticipantJoined{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          p.Role,
	})
	r.bc.attach(sub)
	sub.push(r.bc.direct(EventRoomState, r.snapshot(*p, false)))
	r.spanOpened(rec)
	r.logger.Info("participant joined",
		zap.String("participant_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.Int("participants", len(r.participants)))
}

// reconnect swaps the connection of a present participant. Role is kept as
// joined; only the display name and token change.
func (r *Room) reconnect(p *Participant, req JoinRequest) joinResult {
	p.ConnectionToken = req.ConnectionToken
	if req.DisplayName != "" {
		p.DisplayName = req.DisplayName
	}
	sub := newSubscription(p.ID, req.ConnectionToken, r.outboxSize)
	if prev := r.bc.attach(sub); prev != nil {
		prev.close()
	}
	sub.push(r.bc.direct(EventRoomState, r.snapshot(*p, false)))
	r.logger.Info("participant reconnected", zap.String("participant_id", p.ID))
	return joinResult{p: *p, sub: sub}
}

// Leave removes a participant. Leaving when absent is not an error.
func (r *Room) Leave(ctx context.Context, participantID string) error {
	_, err := call(ctx, r, "leave", func() (bool, error) {
		return r.remove(participantID, ReasonLeft, ""), nil
	})
	return err
}

// Disconnect applies leave to every participant holding the connection token
// and returns how many were removed. It is safe to call repeatedly.
func (r *Room) Disconnect(ctx context.Context, connectionToken string) (int, error) {
	if connectionToken == "" {
		return 0, nil
	}
	return call(ctx, r, "disconnect", func() (int, error) {
		var ids []string
		for id, p := range r.participants {
			if p.ConnectionToken == connectionToken {
				ids = append(ids, id)
			}
		}
		for id, e := range r.lobby {
			if e.p.ConnectionToken == connectionToken {
				ids = append(ids, id)
			}
		}
		n := 0
		for _, id := range ids {
			if r.remove(id, ReasonDisconnected, "") {
				n++
			}
		}
		return n, nil
	})
}

// Kick removes targetID on behalf of a teacher.
func (r *Room) Kick(ctx context.Context, requesterID, targetID string) error {
	_, err := call(ctx, r, "kick", func() (bool, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return false, err
		}
		if err := r.allow(Request{Action: ActionKick, Role: rq.Role, RequesterID: requesterID, TargetID: targetID}); err != nil {
			return false, err
		}
		if _, ok := r.participants[targetID]; !ok {
			if _, waiting := r.lobby[targetID]; !waiting {
				return false, fmt.Errorf("kick %s: %w", targetID, ErrNotFound)
			}
		}
		return r.remove(targetID, ReasonKicked, requesterID), nil
	})
	return err
}

// remove is the single exit path for a participant.
func (r *Room) remove(id string, reason LeaveReason, by string) bool {
	if e, ok := r.lobby[id]; ok {
		delete(r.lobby, id)
		if reason == ReasonKicked {
			e.sub.push(r.bc.direct(EventAdmissionDenied, ParticipantRemoved{ParticipantID: id, Reason: reason, By: by}))
		}
		e.sub.close()
		return true
	}
	if _, ok := r.participants[id]; !ok {
		return false
	}
	now := r.now()
	rec, closed := r.tracker.Close(id, now, reason)
	delete(r.participants, id)
	sub := r.bc.detach(id)
	r.withdrawHand(id, now)

	typ := EventParticipantLeft
	if reason == ReasonKicked {
		typ = EventParticipantKicked
	}
	ev := r.bc.broadcast(typ, ParticipantRemoved{ParticipantID: id, Reason: reason, By: by})
	if sub != nil {
		if reason == ReasonKicked {
			sub.push(ev)
		}
		sub.close()
	}
	if closed {
		r.spanClosed(rec)
	}
	r.logger.Info("participant removed",
		zap.String("participant_id", id),
		zap.String("reason", string(reason)),
		zap.Int("participants", len(r.participants)))
	return true
}

// SetMute changes the audio and/or video flags of targetID. Nil leaves a flag unchanged.
func (r *Room) SetMute(ctx context.Context, requesterID, targetID string, audio, video *bool) (Participant, error) {
	audio, video = copyBool(audio), copyBool(video)
	return call(ctx, r, "set_mute", func() (Participant, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return Participant{}, err
		}
		tg, present := r.participants[targetID]
		req := Request{Action: ActionSetMute, Role: rq.Role, RequesterID: requesterID, TargetID: targetID, Audio: audio, Video: video}
		if present {
			req.TargetRole = tg.Role
		}
		if err := r.allow(req); err != nil {
			return Participant{}, err
		}
		if !present {
			return Participant{}, fmt.Errorf("mute %s: %w", targetID, ErrNotFound)
		}
		if audio == nil && video == nil {
			return Participant{}, fmt.Errorf("mute %s: no flags: %w", targetID, ErrInvalidRequest)
		}
		if audio != nil {
			tg.AudioMuted = *audio
		}
		if video != nil {
			tg.VideoMuted = *video
		}
		r.bc.broadcast(EventParticipantMuted, ParticipantMuted{ParticipantID: targetID, Audio: audio, Video: video, By: requesterID})
		return *tg, nil
	})
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// RaiseHand appends an active hand-raise for a student.
func (r *Room) RaiseHand(ctx context.Context, participantID string) (HandRaise, error) {
	return call(ctx, r, "raise_hand", func() (HandRaise, error) {
		p, err := r.member(participantID)
		if err != nil {
			return HandRaise{}, err
		}
		if err := r.allow(Request{Action: ActionRaiseHand, Role: p.Role, RequesterID: participantID}); err != nil {
			return HandRaise{}, err
		}
		if r.activeHand(participantID) != nil {
			return HandRaise{}, fmt.Errorf("raise hand %s: %w", participantID, ErrAlreadyRaised)
		}
		h := &HandRaise{
			ID:            uuid.NewString(),
			ParticipantID: participantID,
			DisplayName:   p.DisplayName,
			RaisedAt:      r.now(),
			Active:        true,
		}
		r.hands = append(r.hands, h)
		p.HandRaised = true
		r.bc.broadcast(EventHandRaised, *h)
		return *h, nil
	})
}

// ResolveHand closes a hand-raise as approved or dismissed on behalf of a teacher.
func (r *Room) ResolveHand(ctx context.Context, requesterID, handRaiseID string, outcome HandOutcome) (HandRaise, error) {
	return call(ctx, r, "resolve_hand", func() (HandRaise, error) {
		if outcome != OutcomeApproved && outcome != OutcomeDismissed {
			return HandRaise{}, fmt.Errorf("resolve hand: outcome %q: %w", outcome, ErrInvalidRequest)
		}
		rq, err := r.member(requesterID)
		if err != nil {
			return HandRaise{}, err
		}
		if err := r.allow(Request{Action: ActionResolveHand, Role: rq.Role, RequesterID: requesterID}); err != nil {
			return HandRaise{}, err
		}
		h := r.findHand(handRaiseID)
		if h == nil {
			return HandRaise{}, fmt.Errorf("resolve hand %s: %w", handRaiseID, ErrNotFound)
		}
		if !h.Active {
			return HandRaise{}, fmt.Errorf("resolve hand %s: %w", handRaiseID, ErrAlreadyResolved)
		}
		r.resolveHand(h, outcome, requesterID, r.now())
		return *h, nil
	})
}

// LowerHand lets a student withdraw their own active hand-raise.
func (r *Room) LowerHand(ctx context.Context, participantID string) (HandRaise, error) {
	return call(ctx, r, "lower_hand", func() (HandRaise, error) {
		p, err := r.member(participantID)
		if err != nil {
			return HandRaise{}, err
		}
		if err := r.allow(Request{Action: ActionLowerHand, Role: p.Role, RequesterID: participantID}); err != nil {
			return HandRaise{}, err
		}
		h := r.activeHand(participantID)
		if h == nil {
			return HandRaise{}, fmt.Errorf("lower hand %s: %w", participantID, ErrNotFound)
		}
		r.resolveHand(h, OutcomeWithdrawn, participantID, r.now())
		return *h, nil
	})
}

func (r *Room) findHand(id string) *HandRaise {
	for _, h := range r.hands {
		if h.ID == id {
			return h
		}
	}
	return nil
}

func (r *Room) activeHand(participantID string) *HandRaise {
	for _, h := range r.hands {
		if h.Active && h.ParticipantID == participantID {
			return h
		}
	}
	return nil
}

func (r *Room) resolveHand(h *HandRaise, outcome HandOutcome, by string, now time.Time) {
	h.Active = false
	h.Outcome = outcome
	h.ResolvedAt = &now
	if p, ok := r.participants[h.ParticipantID]; ok {
		p.HandRaised = false
	}
	r.bc.broadcast(EventHandRaiseResolved, HandRaiseResolved{
		HandRaiseID:   h.ID,
		ParticipantID: h.ParticipantID,
		Outcome:       outcome,
		By:            by,
	})
}

func (r *Room) withdrawHand(participantID string, now time.Time) {
	if h := r.activeHand(participantID); h != nil {
		r.resolveHand(h, OutcomeWithdrawn, "", now)
	}
}

// SendChat validates and delivers a chat message. Private messages reach only
// the sender and the recipient; everything else is a room broadcast.
func (r *Room) SendChat(ctx context.Context, senderID string, in ChatInput) (ChatMessage, error) {
	in.Body = strings.TrimSpace(in.Body)
	if in.Body == "" {
		return ChatMessage{}, fmt.Errorf("chat: empty body: %w", ErrInvalidRequest)
	}
	action, ok := chatAction(in.Kind)
	if !ok {
		return ChatMessage{}, fmt.Errorf("chat: kind %q: %w", in.Kind, ErrInvalidRequest)
	}
	if in.Kind != ChatPrivate {
		in.RecipientID = ""
	}
	return call(ctx, r, "chat", func() (ChatMessage, error) {
		sender, err := r.member(senderID)
		if err != nil {
			return ChatMessage{}, err
		}
		if err := r.allow(Request{Action: action, Role: sender.Role, RequesterID: senderID, TargetID: in.RecipientID}); err != nil {
			return ChatMessage{}, err
		}
		msg := ChatMessage{
			ID:         uuid.NewString(),
			SenderID:   senderID,
			SenderName: sender.DisplayName,
			Body:       in.Body,
			Timestamp:  r.now(),
			Kind:       in.Kind,
			IsTeacher:  sender.IsTeacher(),
		}
		if in.Kind == ChatPrivate {
			rcpt, ok := r.participants[in.RecipientID]
			if !ok {
				return ChatMessage{}, fmt.Errorf("chat to %s: recipient absent: %w", in.RecipientID, ErrForbidden)
			}
			msg.RecipientID = rcpt.ID
			msg.RecipientName = rcpt.DisplayName
			r.bc.sendTo(EventChatMessage, msg, senderID, rcpt.ID)
			return msg, nil
		}
		r.bc.broadcast(EventChatMessage, msg)
		return msg, nil
	})
}

// Relay forwards an opaque signaling payload to one present participant.
func (r *Room) Relay(ctx context.Context, fromID, toID, kind string, payload json.RawMessage) error {
	_, err := call(ctx, r, "relay", func() (bool, error) {
		return true, r.rl.forward(fromID, toID, kind, payload)
	})
	return err
}

// ShareScreen records that a participant started or stopped sharing their screen.
func (r *Room) ShareScreen(ctx context.Context, participantID string, active bool) (Participant, error) {
	return call(ctx, r, "screen_share", func() (Participant, error) {
		p, err := r.member(participantID)
		if err != nil {
			return Participant{}, err
		}
		if active {
			if err := r.allow(Request{Action: ActionScreenShare, Role: p.Role, RequesterID: participantID}); err != nil {
				return Participant{}, err
			}
		}
		if p.ScreenSharing == active {
			return *p, nil
		}
		p.ScreenSharing = active
		r.bc.broadcast(EventScreenShare, ScreenShare{ParticipantID: participantID, Active: active})
		return *p, nil
	})
}

// UpdateSettings replaces the room settings on behalf of a teacher.
func (r *Room) UpdateSettings(ctx context.Context, requesterID string, s Settings) (Settings, error) {
	if !validMicrophone(s.DefaultMicrophoneState) || !validCamera(s.DefaultCameraState) {
		return Settings{}, fmt.Errorf("update settings: %w", ErrInvalidRequest)
	}
	return call(ctx, r, "update_settings", func() (Settings, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return Settings{}, err
		}
		if err := r.allow(Request{Action: ActionUpdateSettings, Role: rq.Role, RequesterID: requesterID}); err != nil {
			return Settings{}, err
		}
		r.cfg.Settings = s
		r.bc.broadcast(EventSettingsUpdated, s)
		return s, nil
	})
}

func validMicrophone(m MicrophoneState) bool {
	return m == "" || m == MicrophoneMuted || m == MicrophoneUnmuted
}

func validCamera(c CameraState) bool {
	return c == "" || c == CameraOn || c == CameraOff
}

// Admit moves a waiting participant into the room.
func (r *Room) Admit(ctx context.Context, requesterID, participantID string) (Participant, error) {
	return call(ctx, r, "admit", func() (Participant, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return Participant{}, err
		}
		if err := r.allow(Request{Action: ActionAdmit, Role: rq.Role, RequesterID: requesterID, TargetID: participantID}); err != nil {
			return Participant{}, err
		}
		e, ok := r.lobby[participantID]
		if !ok {
			return Participant{}, fmt.Errorf("admit %s: %w", participantID, ErrNotFound)
		}
		delete(r.lobby, participantID)
		r.admit(e.p, e.sub, r.now())
		return *e.p, nil
	})
}

// Deny rejects a waiting participant and closes their stream.
func (r *Room) Deny(ctx context.Context, requesterID, participantID string) error {
	_, err := call(ctx, r, "deny", func() (bool, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return false, err
		}
		if err := r.allow(Request{Action: ActionAdmit, Role: rq.Role, RequesterID: requesterID, TargetID: participantID}); err != nil {
			return false, err
		}
		e, ok := r.lobby[participantID]
		if !ok {
			return false, fmt.Errorf("deny %s: %w", participantID, ErrNotFound)
		}
		delete(r.lobby, participantID)
		e.sub.push(r.bc.direct(EventAdmissionDenied, ParticipantRemoved{ParticipantID: participantID, By: requesterID}))
		e.sub.close()
		return true, nil
	})
	return err
}

// Attendance lists every span of the room in join order; teacher only.
func (r *Room) Attendance(ctx context.Context, requesterID string) ([]AttendanceRecord, error) {
	return call(ctx, r, "attendance", func() ([]AttendanceRecord, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return nil, err
		}
		if err := r.allow(Request{Action: ActionViewAttendance, Role: rq.Role, RequesterID: requesterID}); err != nil {
			return nil, err
		}
		return r.tracker.List(r.now()), nil
	})
}

// LiveDuration returns the whole minutes of participantID's open span; teacher only.
func (r *Room) LiveDuration(ctx context.Context, requesterID, participantID string) (int, error) {
	return call(ctx, r, "live_duration", func() (int, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return 0, err
		}
		if err := r.allow(Request{Action: ActionViewAttendance, Role: rq.Role, RequesterID: requesterID}); err != nil {
			return 0, err
		}
		m, ok := r.tracker.LiveDuration(participantID, r.now())
		if !ok {
			return 0, fmt.Errorf("live duration %s: %w", participantID, ErrNotFound)
		}
		return m, nil
	})
}

// Participants returns the current members ordered by join time.
func (r *Room) Participants(ctx context.Context) ([]Participant, error) {
	return call(ctx, r, "participants", func() ([]Participant, error) {
		return r.participantList(), nil
	})
}

// End closes the session on behalf of the scheduling side. Ending twice is a no-op.
func (r *Room) End(ctx context.Context, reason string) error {
	_, err := call(ctx, r, "end", func() (bool, error) {
		if r.closed {
			return false, nil
		}
		r.terminate(reason, "")
		return true, nil
	})
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

// EndBy closes the session on behalf of a teacher in the room.
func (r *Room) EndBy(ctx context.Context, requesterID string) error {
	_, err := call(ctx, r, "end", func() (bool, error) {
		rq, err := r.member(requesterID)
		if err != nil {
			return false, err
		}
		if err := r.allow(Request{Action: ActionEndSession, Role: rq.Role, RequesterID: requesterID}); err != nil {
			return false, err
		}
		r.terminate(EndedByTeacher, requesterID)
		return true, nil
	})
	return err
}
