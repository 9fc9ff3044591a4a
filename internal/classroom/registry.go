package classroom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	defaultTombstones   = 4096
	defaultTombstoneTTL = 12 * time.Hour
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRoomOptions applies opts to every room the registry creates.
func WithRoomOptions(opts ...Option) RegistryOption {
	return func(g *Registry) { g.roomOpts = append(g.roomOpts, opts...) }
}

// WithTombstones bounds how many ended sessions are remembered and for how long.
func WithTombstones(size int, ttl time.Duration) RegistryOption {
	return func(g *Registry) {
		if size > 0 {
			g.tombSize = size
		}
		if ttl > 0 {
			g.tombTTL = ttl
		}
	}
}

// OnRoomCreated is called, outside the registry lock, after a new room starts.
func OnRoomCreated(fn func(sessionID string)) RegistryOption {
	return func(g *Registry) { g.onCreated = fn }
}

// Retired describes a room that ended and was removed from the registry.
type Retired struct {
	SessionID string
	Reason    string
	// Spans is the number of attendance spans the room opened.
	Spans int
}

// OnRoomRetired is called after an ended, empty room has been removed.
func OnRoomRetired(fn func(Retired)) RegistryOption {
	return func(g *Registry) { g.onRetired = fn }
}

// Registry maps session ids to live rooms. It is the only state shared across
// rooms; everything inside a room is owned by the room's loop.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	ended  *expirable.LRU[string, time.Time]
	logger *zap.Logger

	roomOpts  []Option
	tombSize  int
	tombTTL   time.Duration
	onCreated func(sessionID string)
	onRetired func(Retired)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Registry{
		rooms:    make(map[string]*Room),
		logger:   logger,
		tombSize: defaultTombstones,
		tombTTL:  defaultTombstoneTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.ended = expirable.NewLRU[string, time.Time](g.tombSize, nil, g.tombTTL)
	return g
}

// GetOrCreate returns the room for sessionID, creating it with cfg on first
// use. Concurrent callers for the same session always get the same room. A
// session whose room already ended and retired yields ErrRoomClosed.
func (g *Registry) GetOrCreate(sessionID string, cfg RoomConfig) (*Room, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("get room: empty session id: %w", ErrInvalidRequest)
	}
	g.mu.Lock()
	if r, ok := g.rooms[sessionID]; ok {
		g.mu.Unlock()
		return r, nil
	}
	if _, ended := g.ended.Peek(sessionID); ended {
		g.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrRoomClosed)
	}
	opts := append([]Option{WithLogger(g.logger)}, g.roomOpts...)
	r := newRoom(sessionID, cfg, g.retire, opts...)
	g.rooms[sessionID] = r
	created := g.onCreated
	g.mu.Unlock()

	g.logger.Info("room created", zap.String("session_id", sessionID), zap.Int("capacity", cfg.Capacity))
	if created != nil {
		created(sessionID)
	}
	return r, nil
}

// Get returns the live room for sessionID, if any.
func (g *Registry) Get(sessionID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[sessionID]
	return r, ok
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// SessionIDs returns the ids of all live rooms.
func (g *Registry) SessionIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Remove stops and forgets the room for sessionID. Removing an unknown
// session is a no-op.
func (g *Registry) Remove(sessionID string) {
	g.mu.Lock()
	r, ok := g.rooms[sessionID]
	delete(g.rooms, sessionID)
	g.mu.Unlock()
	if ok {
		r.stop()
		g.logger.Info("room removed", zap.String("session_id", sessionID))
	}
}

// retire runs on the room's loop once the room is closed and empty.
func (g *Registry) retire(r *Room) {
	g.mu.Lock()
	if cur, ok := g.rooms[r.sessionID]; ok && cur == r {
		delete(g.rooms, r.sessionID)
	}
	g.ended.Add(r.sessionID, time.Now())
	retired := g.onRetired
	g.mu.Unlock()
	if retired != nil {
		retired(Retired{SessionID: r.sessionID, Reason: r.endReason, Spans: r.tracker.Len()})
	}
}

// Shutdown ends every live room and waits for their loops to exit or ctx to expire.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		if err := r.End(ctx, EndedOnShutdown); err != nil {
			g.logger.Warn("end room on shutdown", zap.String("session_id", r.sessionID), zap.Error(err))
		}
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
