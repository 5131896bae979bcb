// Package coordinator drives each connection through login, chat and logout.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"counselchat/internal/directory"
	"counselchat/internal/identity"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// IdentityResolver turns login requests into identities
type IdentityResolver interface {
	Resolve(userID, userType string) (types.Identity, error)
}

// RoomDirectory creates and finds rooms
type RoomDirectory interface {
	EnsureRoom(ctx context.Context, clientID string) (*types.Room, error)
	Lookup(ctx context.Context, roomName string) (*types.Room, error)
}

// MessageLog appends and reads room history
type MessageLog interface {
	Append(ctx context.Context, roomName, sender, body string) (*types.Message, error)
	History(ctx context.Context, roomName string) ([]*types.Message, error)
	MarkReadExcept(ctx context.Context, roomName, excludeSender string) (int64, error)
}

// SessionRegistry binds connections to identities
type SessionRegistry interface {
	Bind(ctx context.Context, connID string, identity types.Identity, room string) (*types.Session, error)
	SetActiveRoom(connID, roomName string) (string, error)
	Unbind(ctx context.Context, connID string) (*types.Session, error)
	Lookup(connID string) (*types.Session, bool)
}

// RosterPublisher schedules a roster recompute and broadcast
type RosterPublisher interface {
	RequestBroadcast()
}

// Recorder observes handled events
type Recorder interface {
	RecordEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string) {}

// Options tunes the coordinator
type Options struct {
	CounselorGroup   string
	MaxMessageLength int
	RateLimiter      *RateLimiter
	Recorder         Recorder
}

// Coordinator implements interfaces.EventRouter.
// Each connection's events arrive from a single goroutine and run to completion in order.
type Coordinator struct {
	identities IdentityResolver
	rooms      RoomDirectory
	messages   MessageLog
	sessions   SessionRegistry
	roster     RosterPublisher
	transport  interfaces.Transport

	group       string
	maxLength   int
	rateLimiter *RateLimiter
	recorder    Recorder
	sendLocks   roomLocks
}

// roomLocks hands out one mutex per room name
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires roomName's mutex and returns its release
func (l *roomLocks) lock(roomName string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[roomName]
	if !ok {
		m = &sync.Mutex{}
		l.locks[roomName] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// New wires a coordinator from its collaborators
func New(
	identities IdentityResolver,
	rooms RoomDirectory,
	messages MessageLog,
	sessions SessionRegistry,
	roster RosterPublisher,
	transport interfaces.Transport,
	opts Options,
) *Coordinator {
	c := &Coordinator{
		identities:  identities,
		rooms:       rooms,
		messages:    messages,
		sessions:    sessions,
		roster:      roster,
		transport:   transport,
		group:       opts.CounselorGroup,
		maxLength:   opts.MaxMessageLength,
		rateLimiter: opts.RateLimiter,
		recorder:    opts.Recorder,
	}
	if c.group == "" {
		c.group = "counselor_room"
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// HandleEvent dispatches one inbound envelope
func (c *Coordinator) HandleEvent(ctx context.Context, connID string, envelope *types.Envelope) error {
	var err error
	switch envelope.Event {
	case types.EventLogin:
		err = c.HandleLogin(ctx, connID, envelope.Data)
	case types.EventSendMessage:
		err = c.HandleSendMessage(ctx, connID, envelope.Data)
	case types.EventSelectChatRoom:
		err = c.HandleSelectRoom(ctx, connID, envelope.Data)
	case types.EventMarkAsRead:
		err = c.HandleMarkRead(ctx, connID, envelope.Data)
	case types.EventEndCounseling:
		err = c.HandleEndCounseling(ctx, connID)
	default:
		err = violation(fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event))
	}

	outcome := Outcome(err)
	c.recorder.RecordEvent(envelope.Event, outcome)
	switch outcome {
	case "ok":
	case "ignored":
		slog.Debug("event ignored", "conn", connID, "event", envelope.Event, "error", err)
	case "rejected":
		slog.Warn("event rejected", "conn", connID, "event", envelope.Event, "error", err)
	default:
		slog.Error("event failed", "conn", connID, "event", envelope.Event, "error", err)
	}
	return err
}

// HandleLogin authenticates an unauthenticated connection.
// Clients get their room (created on first login) and its history.
func (c *Coordinator) HandleLogin(ctx context.Context, connID string, data json.RawMessage) error {
	if _, ok := c.sessions.Lookup(connID); ok {
		return violation(ErrAlreadyLoggedIn)
	}

	var req types.LoginRequest
	if err := decode(data, &req); err != nil {
		c.loginFail(connID, "invalid login request")
		return rejected(err)
	}

	ident, err := c.identities.Resolve(req.UserID, req.UserType)
	if err != nil {
		c.loginFail(connID, loginFailMessage(err))
		return rejected(err)
	}

	if ident.Role == types.RoleCounselor {
		return c.loginCounselor(ctx, connID, ident)
	}
	return c.loginClient(ctx, connID, ident)
}

func (c *Coordinator) loginCounselor(ctx context.Context, connID string, ident types.Identity) error {
	if _, err := c.sessions.Bind(ctx, connID, ident, ""); err != nil {
		c.loginFail(connID, "login failed")
		return unavailable(err)
	}
	if err := c.transport.Join(connID, c.group); err != nil {
		c.rollbackLogin(ctx, connID)
		return unavailable(err)
	}

	c.emit(connID, types.EventLoginSuccess, types.LoginSuccess{ID: ident.ID, Type: ident.Role})
	slog.Info("counselor logged in", "conn", connID, "user", ident.ID)
	c.roster.RequestBroadcast()
	return nil
}

func (c *Coordinator) loginClient(ctx context.Context, connID string, ident types.Identity) error {
	room, err := c.rooms.EnsureRoom(ctx, ident.ID)
	if err != nil {
		c.loginFail(connID, loginFailMessage(err))
		if errors.Is(err, directory.ErrRoomCreationFailed) {
			return fmt.Errorf("%w: %w", ErrStorageConflict, err)
		}
		return unavailable(err)
	}

	if _, err := c.sessions.Bind(ctx, connID, ident, room.RoomName); err != nil {
		c.loginFail(connID, "login failed")
		return unavailable(err)
	}

	// STEP 1: history is loaded before anything is sent so a storage
	// failure leaves no session behind
	history, err := c.messages.History(ctx, room.RoomName)
	if err != nil {
		c.rollbackLogin(ctx, connID)
		return unavailable(err)
	}

	// STEP 2: join the room, then confirm and replay
	if err := c.transport.Join(connID, room.RoomName); err != nil {
		c.rollbackLogin(ctx, connID)
		return unavailable(err)
	}
	roomName := room.RoomName
	c.emit(connID, types.EventLoginSuccess, types.LoginSuccess{ID: ident.ID, Type: ident.Role, Room: &roomName})
	c.emit(connID, types.EventLoadMessages, types.NewMessagePayloads(history))

	slog.Info("client logged in", "conn", connID, "user", ident.ID, "room", roomName)
	c.roster.RequestBroadcast()
	return nil
}

// rollbackLogin undoes a half-finished login and tells the caller it failed
func (c *Coordinator) rollbackLogin(ctx context.Context, connID string) {
	if _, err := c.sessions.Unbind(ctx, connID); err != nil {
		slog.Error("rollback unbind failed", "conn", connID, "error", err)
	}
	c.loginFail(connID, "service unavailable")
	c.roster.RequestBroadcast()
}

// HandleSendMessage stores a chat message and relays it to the room.
// Clients always write to their own room; the counselor must name targetRoom.
func (c *Coordinator) HandleSendMessage(ctx context.Context, connID string, data json.RawMessage) error {
	session, ok := c.sessions.Lookup(connID)
	if !ok {
		return violation(ErrNotAuthenticated)
	}

	var req types.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return rejected(err)
	}
	if err := types.ValidateBody(req.Message, c.maxLength); err != nil {
		return rejected(err)
	}

	roomName := session.ActiveRoom
	if session.Role() == types.RoleCounselor {
		roomName = req.TargetRoom
		if roomName != "" {
			if _, err := c.rooms.Lookup(ctx, roomName); err != nil {
				if errors.Is(err, directory.ErrUnknownRoom) {
					return rejected(err)
				}
				return unavailable(err)
			}
		}
	}
	if roomName == "" {
		return rejected(ErrNoTargetRoom)
	}

	if c.rateLimiter != nil && !c.rateLimiter.Allow(connID) {
		return rejected(ErrRateLimitExceeded)
	}

	// append and fan-out share one lock so every member sees the room's
	// messages in stored order
	unlock := c.sendLocks.lock(roomName)
	message, err := c.messages.Append(ctx, roomName, session.UserID(), req.Message)
	if err != nil {
		unlock()
		if errors.Is(err, directory.ErrUnknownRoom) {
			return rejected(err)
		}
		return unavailable(err)
	}
	payload := types.NewMessagePayload(message)
	c.transport.EmitToRoom(roomName, types.EventReceiveMessage, payload)
	if !c.transport.InRoom(connID, roomName) {
		c.emit(connID, types.EventReceiveMessage, payload)
	}
	unlock()

	c.roster.RequestBroadcast()
	return nil
}

// HandleSelectRoom switches the counselor's view to a room, marks the
// client's messages read and replays the history
func (c *Coordinator) HandleSelectRoom(ctx context.Context, connID string, data json.RawMessage) error {
	session, err := c.counselorSession(connID)
	if err != nil {
		return err
	}

	roomName, err := decodeRoomName(data)
	if err != nil {
		return violation(err)
	}
	if err := c.requireRoom(ctx, roomName); err != nil {
		return err
	}

	previous, err := c.sessions.SetActiveRoom(connID, roomName)
	if err != nil {
		return violation(err)
	}
	if previous != "" && previous != roomName {
		c.transport.Leave(connID, previous)
	}
	if err := c.transport.Join(connID, roomName); err != nil {
		return unavailable(err)
	}

	if _, err := c.messages.MarkReadExcept(ctx, roomName, session.UserID()); err != nil {
		return unavailable(err)
	}
	history, err := c.messages.History(ctx, roomName)
	if err != nil {
		return unavailable(err)
	}

	c.transport.EmitToRoom(roomName, types.EventMessagesRead, struct{}{})
	c.emit(connID, types.EventLoadMessages, types.NewMessagePayloads(history))
	c.roster.RequestBroadcast()
	return nil
}

// HandleMarkRead marks a room's client messages read without switching rooms
func (c *Coordinator) HandleMarkRead(ctx context.Context, connID string, data json.RawMessage) error {
	session, err := c.counselorSession(connID)
	if err != nil {
		return err
	}

	roomName, err := decodeRoomName(data)
	if err != nil {
		return violation(err)
	}
	if err := c.requireRoom(ctx, roomName); err != nil {
		return err
	}

	if _, err := c.messages.MarkReadExcept(ctx, roomName, session.UserID()); err != nil {
		return unavailable(err)
	}

	c.transport.EmitToRoom(roomName, types.EventMessagesRead, struct{}{})
	c.roster.RequestBroadcast()
	return nil
}

// HandleEndCounseling logs the caller out and closes its connection
func (c *Coordinator) HandleEndCounseling(ctx context.Context, connID string) error {
	if _, ok := c.sessions.Lookup(connID); !ok {
		return violation(ErrNotAuthenticated)
	}

	err := c.teardown(ctx, connID)
	if closeErr := c.transport.Disconnect(connID); closeErr != nil {
		slog.Debug("disconnect after end_counseling failed", "conn", connID, "error", closeErr)
	}
	return err
}

// HandleDisconnect releases whatever the connection held. Safe to call more than once.
func (c *Coordinator) HandleDisconnect(ctx context.Context, connID string) {
	if err := c.teardown(ctx, connID); err != nil {
		c.recorder.RecordEvent("disconnect", Outcome(err))
		slog.Error("disconnect teardown failed", "conn", connID, "error", err)
		return
	}
	c.recorder.RecordEvent("disconnect", "ok")
}

// teardown unbinds the session and refreshes the roster if one existed
func (c *Coordinator) teardown(ctx context.Context, connID string) error {
	if c.rateLimiter != nil {
		c.rateLimiter.Forget(connID)
	}

	session, err := c.sessions.Unbind(ctx, connID)
	if session == nil && err == nil {
		return nil
	}

	if session != nil {
		if session.ActiveRoom != "" {
			c.transport.Leave(connID, session.ActiveRoom)
		}
		if session.Role() == types.RoleCounselor {
			c.transport.Leave(connID, c.group)
		}
		slog.Info("session ended", "conn", connID, "user", session.UserID(), "role", session.Role())
	}

	c.roster.RequestBroadcast()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *Coordinator) counselorSession(connID string) (*types.Session, error) {
	session, ok := c.sessions.Lookup(connID)
	if !ok {
		return nil, violation(ErrNotAuthenticated)
	}
	if session.Role() != types.RoleCounselor {
		return nil, violation(ErrCounselorOnly)
	}
	return session, nil
}

// requireRoom checks that roomName exists; unknown rooms are a protocol violation
func (c *Coordinator) requireRoom(ctx context.Context, roomName string) error {
	if _, err := c.rooms.Lookup(ctx, roomName); err != nil {
		if errors.Is(err, directory.ErrUnknownRoom) {
			return violation(err)
		}
		return unavailable(err)
	}
	return nil
}

func (c *Coordinator) emit(connID, event string, payload interface{}) {
	if err := c.transport.Emit(connID, event, payload); err != nil {
		slog.Debug("emit failed", "conn", connID, "event", event, "error", err)
	}
}

func (c *Coordinator) loginFail(connID, message string) {
	c.emit(connID, types.EventLoginFail, types.LoginFail{Message: message})
}

func loginFailMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCounselorID):
		return "invalid counselor id"
	case errors.Is(err, types.ErrInvalidClientID):
		return "invalid client id"
	case errors.Is(err, types.ErrInvalidRole):
		return "invalid user type"
	case errors.Is(err, directory.ErrRoomCreationFailed):
		return "room could not be created, please retry"
	default:
		return "service unavailable"
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// decodeRoomName accepts {"roomName": "..."} or a bare JSON string
func decodeRoomName(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if name == "" {
			return "", ErrMalformedPayload
		}
		return name, nil
	}

	var req types.RoomRequest
	if err := decode(data, &req); err != nil {
		return "", err
	}
	if req.RoomName == "" {
		return "", ErrMalformedPayload
	}
	return req.RoomName, nil
}
