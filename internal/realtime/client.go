package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	requestTimeout = 10 * time.Second
	maxMessageSize = 65536
)

// RoomOpener resolves the live room of a session.
type RoomOpener interface {
	Open(ctx context.Context, sessionID string) (*classroom.Room, error)
}

// TokenValidator validates the token passed on the socket URL.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Options configures the socket server.
type Options struct {
	ICEServers []webrtc.ICEServer
	// AllowedOrigins limits browser origins; empty or "*" allows all.
	AllowedOrigins []string
}

// Server upgrades classroom sockets and runs their pumps.
type Server struct {
	hub      *Hub
	rooms    RoomOpener
	tokens   TokenValidator
	ice      []webrtc.ICEServer
	dec      decoder
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates the socket server.
func NewServer(hub *Hub, rooms RoomOpener, tokens TokenValidator, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:    hub,
		rooms:  rooms,
		tokens: tokens,
		ice:    opts.ICEServers,
		dec:    newDecoder(),
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Client is one socket bound to one participant in one room.
type Client struct {
	token     string
	userID    string
	sessionID string
	room      *classroom.Room
	sub       *classroom.Subscription
	conn      *websocket.Conn
	replies   chan Message
	done      chan struct{}
	closeOnce sync.Once
	srv       *Server
	logger    *zap.Logger
}

// ServeWs handles GET /ws?session_id=&token=. The session is resolved and the
// token checked before the upgrade so failures get a plain HTTP status.
func (s *Server) ServeWs(c *gin.Context) {
	sessionID := c.Query("session_id")
	token := c.Query("token")
	if sessionID == "" || token == "" {
		response.BadRequest(c, "session_id and token required")
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		response.Unauthorized(c, "invalid token")
		return
	}
	role := classroom.Role(claims.Role)
	if !role.Valid() {
		response.Forbidden(c, "role cannot join a classroom")
		return
	}
	room, err := s.rooms.Open(c.Request.Context(), sessionID)
	if err != nil {
		code := classroom.Code(err)
		if code == classroom.CodeInternal {
			s.logger.Error("open room", zap.String("session_id", sessionID), zap.Error(err))
		}
		response.Fail(c, httpStatus(code), code, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connToken := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	self, sub, err := room.Join(ctx, classroom.JoinRequest{
		ParticipantID:   claims.UserID,
		DisplayName:     claims.Name,
		Role:            role,
		ConnectionToken: connToken,
	})
	cancel()
	if err != nil {
		s.reject(conn, err)
		return
	}

	client := &Client{
		token:     connToken,
		userID:    self.ID,
		sessionID: sessionID,
		room:      room,
		sub:       sub,
		conn:      conn,
		replies:   make(chan Message, 16),
		done:      make(chan struct{}),
		srv:       s,
		logger:    s.logger.With(zap.String("session_id", sessionID), zap.String("participant_id", self.ID)),
	}
	s.hub.Register(client)

	ice, _ := json.Marshal(s.ice)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Event: OutICEServers, Data: ice}); err != nil {
		client.logger.Debug("write ice servers", zap.Error(err))
	}

	go client.writePump()
	client.readPump()
}

// reject reports a failed join on the socket and closes it.
func (s *Server) reject(conn *websocket.Conn, err error) {
	code := classroom.Code(err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(ErrorMessage("", err))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	_ = conn.Close()
}

func httpStatus(code string) int {
	switch code {
	case classroom.CodeNotFound:
		return http.StatusNotFound
	case classroom.CodeForbidden:
		return http.StatusForbidden
	case classroom.CodeRoomClosed:
		return http.StatusGone
	case classroom.CodeCapacityExceeded:
		return http.StatusConflict
	case classroom.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		if _, err := c.room.Disconnect(ctx, c.token); err != nil && !errors.Is(err, classroom.ErrRoomClosed) {
			c.logger.Warn("disconnect", zap.Error(err))
		}
		cancel()
		c.srv.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(ErrorMessage("", fmt.Errorf("malformed frame: %w", classroom.ErrInvalidRequest)))
				continue
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		result, err := c.handle(ctx, msg)
		cancel()
		if err != nil {
			if classroom.Code(err) == classroom.CodeInternal {
				c.logger.Error("request failed", zap.String("event", msg.Event), zap.Error(err))
			}
			c.reply(ErrorMessage(msg.ID, err))
			continue
		}
		c.reply(Ack(msg.ID, result))
	}
}

// handle runs one inbound request against the room as this participant.
func (c *Client) handle(ctx context.Context, msg Message) (any, error) {
	r, me := c.room, c.userID
	switch msg.Event {
	case InLeave:
		return nil, r.Leave(ctx, me)
	case InMute:
		var p mutePayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return r.SetMute(ctx, me, p.TargetID, p.Audio, p.Video)
	case InKick:
		var p targetPayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return nil, r.Kick(ctx, me, p.TargetID)
	case InRaiseHand:
		return r.RaiseHand(ctx, me)
	case InLowerHand:
		return r.LowerHand(ctx, me)
	case InResolveHand:
		var p resolvePayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return r.ResolveHand(ctx, me, p.HandRaiseID, p.Outcome)
	case InChatMessage:
		in := classroom.ChatInput{Kind: classroom.ChatPublic}
		if err := c.srv.dec.decode(msg.Data, &in); err != nil {
			return nil, err
		}
		return r.SendChat(ctx, me, in)
	case InSignal:
		var p signalPayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return nil, r.Relay(ctx, me, p.ToID, p.Kind, p.Payload)
	case InScreenShare:
		var p screenSharePayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return r.ShareScreen(ctx, me, p.Active)
	case InUpdateSettings:
		var s classroom.Settings
		if err := c.srv.dec.decode(msg.Data, &s); err != nil {
			return nil, err
		}
		return r.UpdateSettings(ctx, me, s)
	case InEndSession:
		return nil, r.EndBy(ctx, me)
	case InAdmit:
		var p participantPayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return r.Admit(ctx, me, p.ParticipantID)
	case InDeny:
		var p participantPayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		return nil, r.Deny(ctx, me, p.ParticipantID)
	case InAttendance:
		return r.Attendance(ctx, me)
	case InLiveDuration:
		var p participantPayload
		if err := c.srv.dec.decode(msg.Data, &p); err != nil {
			return nil, err
		}
		m, err := r.LiveDuration(ctx, me, p.ParticipantID)
		if err != nil {
			return nil, err
		}
		return gin.H{"participantId": p.ParticipantID, "minutes": m}, nil
	default:
		return nil, fmt.Errorf("unknown event %q: %w", msg.Event, classroom.ErrInvalidRequest)
	}
}

// reply queues a frame for the write pump; it is dropped once the pump has exited.
func (c *Client) reply(msg Message) {
	select {
	case c.replies <- msg:
	case <-c.done:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				// the room released this participant: left, kicked, denied or ended
				c.flushReplies()
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg, err := EventMessage(ev)
			if err != nil {
				c.logger.Error("encode event", zap.String("type", string(ev.Type)), zap.Error(err))
				continue
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.replies:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) flushReplies() {
	for {
		select {
		case msg := <-c.replies:
			if !c.write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg Message) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}
