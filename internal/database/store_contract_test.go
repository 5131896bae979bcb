package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// runStoreContract exercises the behavior every storage driver must share.
// Names carry a random prefix so a shared postgres database stays isolated.
func runStoreContract(t *testing.T, store interfaces.DatabaseManager) {
	t.Helper()
	prefix := uuid.NewString()[:8]
	client := func(name string) string { return prefix + "_" + name }
	room := func(name string) string { return "room_" + client(name) }

	t.Run("UpsertRoomCreatesOnce", func(t *testing.T) {
		ctx := context.Background()
		first, err := store.UpsertRoom(ctx, client("alice"), room("alice"), "counselor123")
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if !first.IsOnline || first.RoomName != room("alice") || first.CounselorID != "counselor123" {
			t.Errorf("unexpected room: %+v", first)
		}

		if err := store.SetRoomOnline(ctx, room("alice"), false); err != nil {
			t.Fatalf("set offline: %v", err)
		}

		second, err := store.UpsertRoom(ctx, client("alice"), room("alice"), "counselor123")
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if !second.IsOnline {
			t.Error("upsert of an existing room should flip it online")
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Error("upsert of an existing room must not recreate it")
		}
	})

	t.Run("ConcurrentUpsertYieldsOneRoom", func(t *testing.T) {
		ctx := context.Background()
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.UpsertRoom(ctx, client("race"), room("race"), "counselor123"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent upsert failed: %v", err)
		}

		rooms, err := store.ListRooms(ctx)
		if err != nil {
			t.Fatalf("list rooms: %v", err)
		}
		count := 0
		for _, r := range rooms {
			if r.ClientID == client("race") {
				count++
			}
		}
		if count != 1 {
			t.Errorf("expected exactly one room for the client, got %d", count)
		}
	})

	t.Run("FindMissingRoom", func(t *testing.T) {
		ctx := context.Background()
		if _, err := store.FindRoomByClient(ctx, client("nobody")); !errors.Is(err, interfaces.ErrNotFound) {
			t.Errorf("FindRoomByClient error = %v, want ErrNotFound", err)
		}
		if _, err := store.FindRoomByName(ctx, room("nobody")); !errors.Is(err, interfaces.ErrNotFound) {
			t.Errorf("FindRoomByName error = %v, want ErrNotFound", err)
		}
		if err := store.SetRoomOnline(ctx, room("nobody"), true); !errors.Is(err, interfaces.ErrNotFound) {
			t.Errorf("SetRoomOnline error = %v, want ErrNotFound", err)
		}
	})

	t.Run("HistoryOrderAndReadMarking", func(t *testing.T) {
		ctx := context.Background()
		name := room("bob")
		if _, err := store.UpsertRoom(ctx, client("bob"), name, "counselor123"); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
		entries := []struct {
			sender string
			at     time.Time
		}{
			{client("bob"), base},
			{"counselor123", base.Add(time.Second)},
			{client("bob"), base.Add(time.Second)}, // same timestamp, inserted later
			{client("bob"), base.Add(2 * time.Second)},
		}
		for i, e := range entries {
			msg := &types.Message{
				ID:        fmt.Sprintf("%s-%d", prefix, i),
				RoomName:  name,
				Sender:    e.sender,
				Body:      fmt.Sprintf("m%d", i),
				Timestamp: e.at,
			}
			if err := store.InsertMessage(ctx, msg); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}

		history, err := store.FindMessages(ctx, name)
		if err != nil {
			t.Fatalf("find messages: %v", err)
		}
		if len(history) != len(entries) {
			t.Fatalf("expected %d messages, got %d", len(entries), len(history))
		}
		for i, m := range history {
			if m.Body != fmt.Sprintf("m%d", i) {
				t.Errorf("history[%d] = %s, want m%d", i, m.Body, i)
			}
		}

		unread, err := store.CountUnread(ctx, name, "counselor123")
		if err != nil {
			t.Fatalf("count unread: %v", err)
		}
		if unread != 3 {
			t.Errorf("unread excluding counselor = %d, want 3", unread)
		}

		marked, err := store.MarkRead(ctx, name, "counselor123")
		if err != nil {
			t.Fatalf("mark read: %v", err)
		}
		if marked != 3 {
			t.Errorf("marked = %d, want 3", marked)
		}

		again, err := store.MarkRead(ctx, name, "counselor123")
		if err != nil {
			t.Fatalf("second mark read: %v", err)
		}
		if again != 0 {
			t.Errorf("second mark should be a no-op, marked %d", again)
		}

		counselorUnread, err := store.CountUnread(ctx, name, client("bob"))
		if err != nil {
			t.Fatalf("count unread: %v", err)
		}
		if counselorUnread != 1 {
			t.Errorf("counselor's own message should still be unread, got %d", counselorUnread)
		}

		latest, err := store.LatestTimestamp(ctx, name)
		if err != nil {
			t.Fatalf("latest timestamp: %v", err)
		}
		if !latest.Equal(base.Add(2 * time.Second)) {
			t.Errorf("latest = %v, want %v", latest, base.Add(2*time.Second))
		}
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		ctx := context.Background()
		history, err := store.FindMessages(ctx, room("silent"))
		if err != nil {
			t.Fatalf("find messages: %v", err)
		}
		if history == nil || len(history) != 0 {
			t.Errorf("expected empty non-nil history, got %v", history)
		}
		latest, err := store.LatestTimestamp(ctx, room("silent"))
		if err != nil {
			t.Fatalf("latest timestamp: %v", err)
		}
		if !latest.IsZero() {
			t.Errorf("expected zero time, got %v", latest)
		}
	})

	t.Run("DuplicateMessageID", func(t *testing.T) {
		ctx := context.Background()
		name := room("dup")
		if _, err := store.UpsertRoom(ctx, client("dup"), name, "counselor123"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		msg := &types.Message{ID: prefix + "-dup", RoomName: name, Sender: "x", Body: "y", Timestamp: time.Now()}
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := store.InsertMessage(ctx, msg); !errors.Is(err, interfaces.ErrDuplicateKey) {
			t.Errorf("duplicate insert error = %v, want ErrDuplicateKey", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := store.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck failed: %v", err)
		}
	})
}
