package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"counselchat/internal/database"
	"counselchat/internal/directory"
	"counselchat/internal/identity"
	"counselchat/internal/messages"
	"counselchat/internal/roster"
	"counselchat/internal/session"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

type sentEvent struct {
	event   string
	payload interface{}
}

// fakeTransport is an in-memory room/group transport
type fakeTransport struct {
	mu           sync.Mutex
	rooms        map[string]map[string]bool
	sent         map[string][]sentEvent
	disconnected map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rooms:        make(map[string]map[string]bool),
		sent:         make(map[string][]sentEvent),
		disconnected: make(map[string]bool),
	}
}

func (f *fakeTransport) Emit(connID, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], sentEvent{event, payload})
	return nil
}

func (f *fakeTransport) EmitToRoom(room, event string, payload interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for connID := range f.rooms[room] {
		f.sent[connID] = append(f.sent[connID], sentEvent{event, payload})
	}
	return len(f.rooms[room])
}

func (f *fakeTransport) Join(connID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]bool)
	}
	f.rooms[room][connID] = true
	return nil
}

func (f *fakeTransport) Leave(connID, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
}

func (f *fakeTransport) InRoom(connID, room string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[room][connID]
}

func (f *fakeTransport) Disconnect(connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[connID] = true
	for _, members := range f.rooms {
		delete(members, connID)
	}
	return nil
}

// events returns and clears everything sent to connID
func (f *fakeTransport) events(connID string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[connID]
	delete(f.sent, connID)
	return out
}

type countingPublisher struct {
	requests atomic.Int32
}

func (p *countingPublisher) RequestBroadcast() {
	p.requests.Add(1)
}

type harness struct {
	coordinator *Coordinator
	transport   *fakeTransport
	publisher   *countingPublisher
	db          *database.MemoryStore
	directory   *directory.Directory
	messages    *messages.Store
	sessions    *session.Registry
	projector   *roster.Projector
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHookedHarness(t, opts, harnessHooks{})
}

// harnessHooks lets a test wrap the transport or the presence writer
type harnessHooks struct {
	transport func(*fakeTransport) interfaces.Transport
	presence  func(session.Presence) session.Presence
}

func newHookedHarness(t *testing.T, opts Options, hooks harnessHooks) *harness {
	t.Helper()
	db := database.NewMemoryStore()
	resolver := identity.NewResolver(identity.DefaultCounselorID, identity.DefaultAnonymousPrefix)
	dir := directory.NewDirectory(db, directory.NewPrefixCodec(""), resolver.CounselorID())
	store := messages.NewStore(db)
	transport := newFakeTransport()
	publisher := &countingPublisher{}

	var presence session.Presence = dir
	if hooks.presence != nil {
		presence = hooks.presence(dir)
	}
	sessions := session.NewRegistry(presence)

	var wire interfaces.Transport = transport
	if hooks.transport != nil {
		wire = hooks.transport(transport)
	}

	if opts.RateLimiter != nil {
		t.Cleanup(opts.RateLimiter.Stop)
	}

	return &harness{
		coordinator: New(resolver, dir, store, sessions, publisher, wire, opts),
		transport:   transport,
		publisher:   publisher,
		db:          db,
		directory:   dir,
		messages:    store,
		sessions:    sessions,
		projector:   roster.NewProjector(dir, store, resolver),
	}
}

func (h *harness) send(t *testing.T, connID, event string, payload interface{}) error {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = raw
	}
	return h.coordinator.HandleEvent(context.Background(), connID, &types.Envelope{Event: event, Data: data})
}

func (h *harness) loginClient(t *testing.T, connID, userID string) types.LoginSuccess {
	t.Helper()
	if err := h.send(t, connID, types.EventLogin, types.LoginRequest{UserID: userID, UserType: "client"}); err != nil {
		t.Fatalf("client login: %v", err)
	}
	events := h.transport.events(connID)
	if len(events) == 0 || events[0].event != types.EventLoginSuccess {
		t.Fatalf("expected login_success, got %+v", events)
	}
	return events[0].payload.(types.LoginSuccess)
}

func (h *harness) loginCounselor(t *testing.T, connID string) {
	t.Helper()
	if err := h.send(t, connID, types.EventLogin, types.LoginRequest{UserID: "counselor123", UserType: "counselor"}); err != nil {
		t.Fatalf("counselor login: %v", err)
	}
	events := h.transport.events(connID)
	if len(events) != 1 || events[0].event != types.EventLoginSuccess {
		t.Fatalf("expected login_success, got %+v", events)
	}
}

func (h *harness) rosterEntry(t *testing.T, clientID string) types.RosterEntry {
	t.Helper()
	entries, err := h.projector.Project(context.Background())
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	for _, e := range entries {
		if e.ClientID == clientID {
			return e
		}
	}
	t.Fatalf("no roster entry for %s", clientID)
	return types.RosterEntry{}
}

func findEvent(events []sentEvent, name string) (sentEvent, bool) {
	for _, e := range events {
		if e.event == name {
			return e, true
		}
	}
	return sentEvent{}, false
}
