// Package hub serializes roster recomputation and publication.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"counselchat/pkg/types"
)

// DefaultCounselorGroup is the transport group every counselor connection joins
const DefaultCounselorGroup = "counselor_room"

// Projector computes a roster snapshot
type Projector interface {
	Project(ctx context.Context) ([]types.RosterEntry, error)
}

// Emitter delivers an event to every connection in a group
type Emitter interface {
	EmitToRoom(room, event string, payload interface{}) int
}

// Recorder observes broadcast outcomes
type Recorder interface {
	RecordRosterBroadcast(elapsed time.Duration, recipients int, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordRosterBroadcast(time.Duration, int, error) {}

// Hub runs the roster broadcast loop
// ARCHITECTURAL DISCOVERY: one goroutine computes and emits every roster, so
// counselors only ever see snapshots in the order they were computed
type Hub struct {
	projector Projector
	emitter   Emitter
	recorder  Recorder
	group     string
	timeout   time.Duration

	// FUNCTIONAL DISCOVERY: a one-slot request channel coalesces bursts; a
	// pending request already guarantees a projection after the caller's mutation
	requestChannel  chan struct{}
	shutdownChannel chan struct{}
	done            chan struct{}

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub publishing to group
func NewHub(projector Projector, emitter Emitter, group string, timeout time.Duration) *Hub {
	if group == "" {
		group = DefaultCounselorGroup
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{
		projector:       projector,
		emitter:         emitter,
		recorder:        nopRecorder{},
		group:           group,
		timeout:         timeout,
		requestChannel:  make(chan struct{}, 1),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// SetRecorder installs r; call before Start
func (h *Hub) SetRecorder(r Recorder) {
	if r != nil {
		h.recorder = r
	}
}

// Group returns the counselor group name
func (h *Hub) Group() string {
	return h.group
}

// Start begins the broadcast loop and queues one initial broadcast
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	slog.Info("starting roster hub", "group", h.group)
	go h.run(ctx)
	h.RequestBroadcast()
	return nil
}

// Stop ends the loop and waits for an in-flight broadcast to finish
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	slog.Info("roster hub stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// RequestBroadcast asks for a fresh roster to be published. It never blocks.
func (h *Hub) RequestBroadcast() {
	select {
	case h.requestChannel <- struct{}{}:
	default:
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-h.requestChannel:
			h.broadcast(ctx)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			slog.Debug("roster hub context cancelled")
			return
		}
	}
}

// broadcast projects the roster and emits it to the counselor group.
// A failed projection is logged and skipped; the next request retries.
func (h *Hub) broadcast(ctx context.Context) {
	start := time.Now()
	projectCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	entries, err := h.projector.Project(projectCtx)
	if err != nil {
		slog.Error("roster projection failed", "error", err)
		h.recorder.RecordRosterBroadcast(time.Since(start), 0, err)
		return
	}

	recipients := h.emitter.EmitToRoom(h.group, types.EventClientListUpdate, entries)
	h.recorder.RecordRosterBroadcast(time.Since(start), recipients, nil)
	slog.Debug("roster broadcast", "entries", len(entries), "recipients", recipients)
}
