package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"counselchat/pkg/types"
)

// mockProjector returns a roster whose single entry carries the call number
type mockProjector struct {
	calls   atomic.Int32
	fail    atomic.Bool
	release chan struct{}
}

func (m *mockProjector) Project(ctx context.Context) ([]types.RosterEntry, error) {
	failing := m.fail.Load()
	n := m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	if failing {
		return nil, errors.New("storage down")
	}
	return []types.RosterEntry{{ClientID: "alice", UnreadCount: int(n)}}, nil
}

type emitted struct {
	room    string
	event   string
	payload interface{}
}

type mockEmitter struct {
	out chan emitted
}

func newMockEmitter() *mockEmitter {
	return &mockEmitter{out: make(chan emitted, 100)}
}

func (m *mockEmitter) EmitToRoom(room, event string, payload interface{}) int {
	m.out <- emitted{room: room, event: event, payload: payload}
	return 1
}

type mockRecorder struct {
	mu     sync.Mutex
	errors int
	ok     int
}

func (m *mockRecorder) RecordRosterBroadcast(elapsed time.Duration, recipients int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
	} else {
		m.ok++
	}
}

func waitEmit(t *testing.T, e *mockEmitter) emitted {
	t.Helper()
	select {
	case ev := <-e.out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster broadcast")
		return emitted{}
	}
}

func waitCalls(t *testing.T, p *mockProjector, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("projector reached %d calls, want %d", p.calls.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(&mockProjector{}, newMockEmitter(), "", 0)

	if h.IsRunning() {
		t.Error("hub should not be running before Start")
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrHubAlreadyRunning", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("second Stop = %v, want ErrHubNotRunning", err)
	}
}

func TestHub_InitialBroadcast(t *testing.T) {
	emitter := newMockEmitter()
	h := NewHub(&mockProjector{}, emitter, "", 0)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = h.Stop() }()

	ev := waitEmit(t, emitter)
	if ev.room != DefaultCounselorGroup || ev.event != types.EventClientListUpdate {
		t.Errorf("unexpected emit %+v", ev)
	}
	if _, ok := ev.payload.([]types.RosterEntry); !ok {
		t.Errorf("payload type %T", ev.payload)
	}
}

func TestHub_RequestsCoalesce(t *testing.T) {
	projector := &mockProjector{release: make(chan struct{})}
	emitter := newMockEmitter()
	h := NewHub(projector, emitter, "group", 0)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(projector.release)
		_ = h.Stop()
	}()

	waitCalls(t, projector, 1)

	// initial broadcast is blocked inside Project; a burst must queue at most one more
	for i := 0; i < 10; i++ {
		h.RequestBroadcast()
	}
	projector.release <- struct{}{}
	first := waitEmit(t, emitter)
	projector.release <- struct{}{}
	second := waitEmit(t, emitter)

	select {
	case ev := <-emitter.out:
		t.Errorf("burst should coalesce into one follow-up broadcast, got extra %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	a := first.payload.([]types.RosterEntry)[0].UnreadCount
	b := second.payload.([]types.RosterEntry)[0].UnreadCount
	if a >= b {
		t.Errorf("broadcasts out of computation order: %d then %d", a, b)
	}
}

func TestHub_ProjectionFailureIsSkipped(t *testing.T) {
	projector := &mockProjector{}
	projector.fail.Store(true)
	emitter := newMockEmitter()
	recorder := &mockRecorder{}
	h := NewHub(projector, emitter, "", time.Second)
	h.SetRecorder(recorder)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = h.Stop() }()

	waitCalls(t, projector, 1)

	projector.fail.Store(false)
	h.RequestBroadcast()
	waitEmit(t, emitter)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.errors != 1 || recorder.ok != 1 {
		t.Errorf("recorder saw %d errors, %d ok; want 1, 1", recorder.errors, recorder.ok)
	}
}

func TestHub_RequestBeforeStartIsKept(t *testing.T) {
	emitter := newMockEmitter()
	h := NewHub(&mockProjector{}, emitter, "", 0)

	h.RequestBroadcast()
	h.RequestBroadcast()

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = h.Stop() }()

	waitEmit(t, emitter)
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(&mockProjector{}, newMockEmitter(), "", 0)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Stop after cancel: %v", err)
	}
}
