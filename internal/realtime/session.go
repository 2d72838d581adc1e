package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/observability"
)

// State is a connection's position in the walk lifecycle.
type State int

const (
	StateAuthenticated State = iota
	StateRoomJoined
	StateWalkActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRoomJoined:
		return "room_joined"
	case StateWalkActive:
		return "walk_active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	cleanupTimeout         = 10 * time.Second
	defaultCleanupAttempts = 4
	defaultCleanupInitial  = 100 * time.Millisecond
)

// Finalizer ends a walk. Satisfied by *domain.Finalizer.
type Finalizer interface {
	Finalize(ctx context.Context, in domain.FinalizeInput) (*domain.WalkResult, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the wall clock used for sample and broadcast timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCleanupRetry bounds how often a disconnect retries removing the
// membership, starting at initial and backing off exponentially.
func WithCleanupRetry(attempts int, initial time.Duration) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.cleanupAttempts = attempts
		}
		if initial > 0 {
			e.cleanupInitial = initial
		}
	}
}

// Engine holds the collaborators shared by every session.
type Engine struct {
	ledger    domain.Ledger
	buffer    domain.LocationBuffer
	finalizer Finalizer
	hub       *Hub
	logger    zerolog.Logger
	now       func() time.Time

	cleanupAttempts int
	cleanupInitial  time.Duration
}

// NewEngine constructs an Engine.
func NewEngine(ledger domain.Ledger, buffer domain.LocationBuffer, finalizer Finalizer, hub *Hub, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:    ledger,
		buffer:    buffer,
		finalizer: finalizer,
		hub:       hub,
		logger:    zerolog.Nop(),
		now:       time.Now,

		cleanupAttempts: defaultCleanupAttempts,
		cleanupInitial:  defaultCleanupInitial,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hub returns the engine's broadcast hub.
func (e *Engine) Hub() *Hub { return e.hub }

// NewSession starts a session for an authenticated user speaking through peer.
func (e *Engine) NewSession(connID, userID, displayName string, peer Peer) *Session {
	base := e.logger.With().Str("conn_id", connID).Str("user_id", userID).Logger()
	return &Session{
		engine:      e,
		peer:        peer,
		UserID:      userID,
		DisplayName: displayName,
		state:       StateAuthenticated,
		base:        base,
		logger:      base,
	}
}

// Session is the per-connection state machine. Handlers for one session run
// one at a time.
type Session struct {
	engine      *Engine
	peer        Peer
	UserID      string
	DisplayName string

	mu      sync.Mutex
	roomID  string
	state   State
	base    zerolog.Logger
	logger  zerolog.Logger
	cleanup sync.Once
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the joined room, or "".
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Handle decodes one inbound envelope and runs its handler. Failures are
// reported to the peer; the returned error is for logging only.
func (s *Session) Handle(ctx context.Context, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("socket handler panicked")
			s.emit(EventError, ErrorEvent{Message: msgInternalFailure})
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		observability.RecordSocketEventDropped("malformed")
		s.emit(EventError, ErrorEvent{Message: msgMalformedFrame})
		if err == nil {
			err = errors.New("missing event name")
		}
		return err
	}

	switch env.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := decodePayload(env.Event, env.Data, &p); err != nil {
			return s.reject(err)
		}
		return s.JoinRoom(ctx, p.RoomID)
	case EventWalkStart:
		var p WalkStartPayload
		if err := decodePayload(env.Event, env.Data, &p); err != nil {
			return s.reject(err)
		}
		return s.RecordLocation(ctx, *p.Latitude, *p.Longitude)
	case EventWalkEnd:
		var p WalkEndPayload
		if err := decodePayload(env.Event, env.Data, &p); err != nil {
			return s.reject(err)
		}
		return s.EndWalk(ctx, domain.ActivityType(p.ActivityType))
	case EventLeaveRoom:
		return s.LeaveRoom(ctx)
	default:
		observability.RecordSocketEventDropped("unknown_event")
		s.emit(EventError, ErrorEvent{Message: "Unknown event: " + env.Event})
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

// JoinRoom moves the session into roomID, leaving any other room first.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return ErrSessionClosed
	}
	if s.roomID == roomID {
		s.emit(EventJoinedRoom, JoinedRoom{RoomID: roomID})
		return nil
	}
	if s.roomID != "" {
		if err := s.leaveLocked(ctx, EventUserLeft); err != nil {
			s.emit(EventError, ErrorEvent{Message: msgLeaveFailed})
			return err
		}
	}

	hub := s.engine.hub
	unlock := hub.lockRoom(roomID)
	defer unlock()

	hub.Subscribe(roomID, s.peer)
	count, err := s.engine.ledger.AddUser(ctx, s.UserID, roomID)
	if err != nil {
		hub.Unsubscribe(roomID, s.peer)
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("join room failed")
		s.emit(EventError, ErrorEvent{Message: joinFailureMessage(err)})
		return fmt.Errorf("join room %s: %w", roomID, err)
	}

	s.roomID = roomID
	s.state = StateRoomJoined
	s.logger = s.base.With().Str("room_id", roomID).Logger()
	observability.RecordRoomTransition("join")

	hub.Broadcast(roomID, EventUserJoined, MemberEvent{
		UserID:            s.UserID,
		DisplayName:       s.DisplayName,
		ParticipantsCount: count,
		Message:           fmt.Sprintf("User %s joined the room", s.UserID),
		Timestamp:         s.engine.now().UTC(),
	})
	s.logger.Info().Int("participants", count).Msg("joined room")
	return nil
}

// RecordLocation buffers one sample for the current walk and shares it with the room.
func (s *Session) RecordLocation(ctx context.Context, lat, lon float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roomID == "" {
		s.emit(EventError, ErrorEvent{Message: msgNotInRoom})
		return ErrNotInRoom
	}

	now := s.engine.now()
	sample := domain.LocationSample{Lng: lon, Lat: lat, TimestampMs: now.UnixMilli()}
	if err := s.engine.buffer.Append(ctx, domain.BufferKey{RoomID: s.roomID, UserID: s.UserID}, sample); err != nil {
		s.logger.Warn().Err(err).Msg("buffer location failed")
		s.emit(EventError, ErrorEvent{Message: msgLocationFailed})
		return fmt.Errorf("buffer location: %w", err)
	}

	s.state = StateWalkActive
	s.engine.hub.Broadcast(s.roomID, EventLocationUpdate, LocationUpdate{
		UserID:    s.UserID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: now.UTC(),
	})
	return nil
}

// EndWalk finalizes the buffered walk and reports the outcome to the caller only.
func (s *Session) EndWalk(ctx context.Context, activityType domain.ActivityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roomID == "" {
		s.emit(EventWalkResult, WalkResult{OK: false, Message: msgNotInRoom})
		return ErrNotInRoom
	}

	start := time.Now()
	result, err := s.engine.finalizer.Finalize(ctx, domain.FinalizeInput{
		RoomID:       s.roomID,
		UserID:       s.UserID,
		ActivityType: activityType,
	})
	s.state = StateRoomJoined

	switch {
	case errors.Is(err, domain.ErrEmptyBuffer):
		observability.RecordWalkFinalized("empty", time.Since(start), 0)
		s.emit(EventWalkResult, WalkResult{OK: false, Message: msgNoPoints})
		return nil
	case err != nil:
		observability.RecordWalkFinalized("error", time.Since(start), 0)
		s.logger.Error().Err(err).Msg("finalize walk failed")
		s.emit(EventWalkResult, WalkResult{OK: false, Message: msgSaveFailed})
		return err
	}

	walk := result.Session
	observability.RecordWalkFinalized(string(walk.Status), time.Since(start), walk.PointsCount)
	s.logger.Info().
		Str("walk_id", walk.ID).
		Str("status", string(walk.Status)).
		Int("points", walk.PointsCount).
		Float64("distance_m", walk.DistanceM).
		Bool("strike_credited", result.StrikeCredited).
		Int("reward_points", result.RewardPoints).
		Msg("walk finalized")
	s.emit(EventWalkResult, WalkResult{
		OK:           true,
		LocationID:   walk.ID,
		PointsCount:  walk.PointsCount,
		Status:       string(walk.Status),
		DistanceM:    walk.DistanceM,
		AreaM2:       walk.AreaM2,
		RewardPoints: result.RewardPoints,
	})
	return nil
}

// LeaveRoom removes the session from its room.
func (s *Session) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roomID == "" {
		s.emit(EventError, ErrorEvent{Message: msgNotInRoom})
		return ErrNotInRoom
	}
	if err := s.leaveLocked(ctx, EventUserLeft); err != nil {
		s.emit(EventError, ErrorEvent{Message: msgLeaveFailed})
		return err
	}
	return nil
}

// Disconnect runs the leave path for a closed transport. Only the first call has an effect.
func (s *Session) Disconnect() {
	s.cleanup.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		if roomID := s.roomID; roomID != "" {
			if err := s.leaveLocked(ctx, EventUserDisconnected); err != nil {
				s.logger.Error().Err(err).Msg("disconnect cleanup failed")
				s.engine.hub.Unsubscribe(roomID, s.peer)
			}
		}
		s.roomID = ""
		s.state = StateDisconnected
	})
}

// leaveLocked removes the membership and broadcasts event with the new count.
// s.mu must be held.
func (s *Session) leaveLocked(ctx context.Context, event string) error {
	roomID := s.roomID
	hub := s.engine.hub
	unlock := hub.lockRoom(roomID)
	defer unlock()

	attempts := 1
	if event == EventUserDisconnected {
		attempts = s.engine.cleanupAttempts
	}
	count, err := s.removeUser(ctx, roomID, attempts)
	if err != nil {
		s.logger.Warn().Err(err).Msg("leave room failed")
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}

	verb := "left the room"
	kind := "leave"
	if event == EventUserDisconnected {
		verb = "disconnected"
		kind = "disconnect"
	}
	hub.Broadcast(roomID, event, MemberEvent{
		UserID:            s.UserID,
		DisplayName:       s.DisplayName,
		ParticipantsCount: count,
		Message:           fmt.Sprintf("User %s %s", s.UserID, verb),
		Timestamp:         s.engine.now().UTC(),
	})
	hub.Unsubscribe(roomID, s.peer)
	observability.RecordRoomTransition(kind)

	s.roomID = ""
	s.state = StateAuthenticated
	s.logger = s.base
	s.logger.Info().Str("room_id", roomID).Int("participants", count).Str("event", event).Msg("left room")
	return nil
}

// removeUser calls the ledger up to attempts times. Unknown rooms and users
// are not retried.
func (s *Session) removeUser(ctx context.Context, roomID string, attempts int) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.engine.cleanupInitial
	var count int
	err := backoff.Retry(func() error {
		n, err := s.engine.ledger.RemoveUser(ctx, s.UserID, roomID)
		if err == nil {
			count = n
			return nil
		}
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrUserNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		s.logger.Debug().Err(err).Str("room_id", roomID).Msg("remove membership failed, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	return count, err
}

func (s *Session) reject(err error) error {
	observability.RecordSocketEventDropped("invalid_payload")
	s.emit(EventError, ErrorEvent{Message: err.Error()})
	return err
}

func (s *Session) emit(event string, data interface{}) {
	msg, err := encodeEnvelope(event, data)
	if err != nil {
		s.base.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	s.peer.Send(msg)
}

func joinFailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return msgRoomNotFound
	case errors.Is(err, domain.ErrUserNotFound):
		return msgUserNotFound
	default:
		return msgJoinFailed
	}
}
