package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "counselchat/pkg/database"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Manager is the sqlite implementation of interfaces.DatabaseManager
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // single-writer pattern for sqlite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the sqlite file, applies migrations and starts the write loop
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: pragmas in the DSN apply to every pooled
	// connection, not only the one that ran them
	dsn := config.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			// FUNCTIONAL DISCOVERY: only lock contention is worth one retry;
			// constraint violations are answers, not faults
			if isBusy(err) {
				slog.Warn("database write busy, retrying", "delay", m.config.WriteRetryDelay, "error", err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					slog.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			slog.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// UpsertRoom marks the client's room online, creating it if absent.
// The insert and the conflict update are one statement.
func (m *Manager) UpsertRoom(ctx context.Context, clientID, roomName, counselorID string) (*types.Room, error) {
	var room *types.Room
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			INSERT INTO rooms (room_name, client_id, counselor_id, is_online, created_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(client_id) DO UPDATE SET is_online = 1
			RETURNING room_name, client_id, counselor_id, is_online, created_at
		`, roomName, clientID, counselorID, time.Now().UnixNano())

		r, err := scanRoom(row)
		if err != nil {
			return translateError(err)
		}
		room = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// FindRoomByClient returns the room owned by clientID
func (m *Manager) FindRoomByClient(ctx context.Context, clientID string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms WHERE client_id = ?
	`, clientID)
	room, err := scanRoom(row)
	if err != nil {
		return nil, translateError(err)
	}
	return room, nil
}

// FindRoomByName returns the room called roomName
func (m *Manager) FindRoomByName(ctx context.Context, roomName string) (*types.Room, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms WHERE room_name = ?
	`, roomName)
	room, err := scanRoom(row)
	if err != nil {
		return nil, translateError(err)
	}
	return room, nil
}

// SetRoomOnline flips the presence flag; unknown rooms report ErrNotFound
func (m *Manager) SetRoomOnline(ctx context.Context, roomName string, online bool) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE rooms SET is_online = ? WHERE room_name = ?", online, roomName)
		if err != nil {
			return translateError(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// ListRooms returns every room in creation order
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rooms := make([]*types.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// InsertMessage appends message to its room's log
func (m *Manager) InsertMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, room_name, sender, body, timestamp, read)
			VALUES (?, ?, ?, ?, ?, ?)
		`, message.ID, message.RoomName, message.Sender, message.Body,
			message.Timestamp.UnixNano(), message.Read)
		if err != nil {
			return translateError(err)
		}
		return nil
	})
}

// FindMessages returns a room's log ordered by timestamp, then insertion
func (m *Manager) FindMessages(ctx context.Context, roomName string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_name, sender, body, timestamp, read
		FROM messages
		WHERE room_name = ?
		ORDER BY timestamp ASC, rowid ASC
	`, roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var (
			message types.Message
			nanos   int64
		)
		err := rows.Scan(&message.ID, &message.RoomName, &message.Sender,
			&message.Body, &nanos, &message.Read)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.Timestamp = time.Unix(0, nanos).UTC()
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead sets read on every unread message in roomName not sent by excludeSender
func (m *Manager) MarkRead(ctx context.Context, roomName, excludeSender string) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE messages SET read = 1
			WHERE room_name = ? AND read = 0 AND sender <> ?
		`, roomName, excludeSender)
		if err != nil {
			return translateError(err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// CountUnread counts unread messages in roomName not sent by excludeSender
func (m *Manager) CountUnread(ctx context.Context, roomName, excludeSender string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_name = ? AND read = 0 AND sender <> ?
	`, roomName, excludeSender).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// LatestTimestamp returns the newest message timestamp in roomName, or the zero time
func (m *Manager) LatestTimestamp(ctx context.Context, roomName string) (time.Time, error) {
	var nanos sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		"SELECT MAX(timestamp) FROM messages WHERE room_name = ?", roomName).Scan(&nanos)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	if !nanos.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos.Int64).UTC(), nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection for schema validation
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the write loop and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*types.Room, error) {
	var (
		room    types.Room
		created int64
	)
	if err := row.Scan(&room.RoomName, &room.ClientID, &room.CounselorID, &room.IsOnline, &created); err != nil {
		return nil, err
	}
	room.CreatedAt = time.Unix(0, created).UTC()
	return &room, nil
}

// translateError maps driver errors onto the storage sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", interfaces.ErrDuplicateKey, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", interfaces.ErrNotFound, err)
		}
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
