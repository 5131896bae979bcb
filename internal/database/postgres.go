package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	dbconfig "counselchat/pkg/database"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation
const pgForeignKeyViolation = "23503"

// PostgresStore is the PostgreSQL implementation of interfaces.DatabaseManager
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and creates the schema if missing
func NewPostgresStore(ctx context.Context, config *dbconfig.Config) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id           BIGSERIAL PRIMARY KEY,
			room_name    TEXT NOT NULL UNIQUE,
			client_id    TEXT NOT NULL UNIQUE,
			counselor_id TEXT NOT NULL,
			is_online    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq       BIGSERIAL PRIMARY KEY,
			id        TEXT NOT NULL UNIQUE,
			room_name TEXT NOT NULL REFERENCES rooms(room_name),
			sender    TEXT NOT NULL,
			body      TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			read      BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_name, timestamp);
		CREATE INDEX IF NOT EXISTS idx_messages_room_unread ON messages(room_name) WHERE NOT read;
	`)
	return err
}

// UpsertRoom marks the client's room online, creating it if absent
func (s *PostgresStore) UpsertRoom(ctx context.Context, clientID, roomName, counselorID string) (*types.Room, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (room_name, client_id, counselor_id, is_online)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (client_id) DO UPDATE SET is_online = TRUE
		RETURNING room_name, client_id, counselor_id, is_online, created_at
	`, roomName, clientID, counselorID)
	return s.scanRoom(row)
}

// FindRoomByClient returns the room owned by clientID
func (s *PostgresStore) FindRoomByClient(ctx context.Context, clientID string) (*types.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms WHERE client_id = $1
	`, clientID)
	return s.scanRoom(row)
}

// FindRoomByName returns the room called roomName
func (s *PostgresStore) FindRoomByName(ctx context.Context, roomName string) (*types.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms WHERE room_name = $1
	`, roomName)
	return s.scanRoom(row)
}

// SetRoomOnline flips the presence flag; unknown rooms report ErrNotFound
func (s *PostgresStore) SetRoomOnline(ctx context.Context, roomName string, online bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE rooms SET is_online = $1 WHERE room_name = $2", online, roomName)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// ListRooms returns every room in creation order
func (s *PostgresStore) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_name, client_id, counselor_id, is_online, created_at
		FROM rooms ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*types.Room, 0)
	for rows.Next() {
		room, err := s.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// InsertMessage appends message to its room's log
func (s *PostgresStore) InsertMessage(ctx context.Context, message *types.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_name, sender, body, timestamp, read)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, message.ID, message.RoomName, message.Sender, message.Body, message.Timestamp, message.Read)
	return translatePgError(err)
}

// FindMessages returns a room's log ordered by timestamp, then insertion
func (s *PostgresStore) FindMessages(ctx context.Context, roomName string) ([]*types.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_name, sender, body, timestamp, read
		FROM messages
		WHERE room_name = $1
		ORDER BY timestamp ASC, seq ASC
	`, roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer rows.Close()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var message types.Message
		if err := rows.Scan(&message.ID, &message.RoomName, &message.Sender,
			&message.Body, &message.Timestamp, &message.Read); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.Timestamp = message.Timestamp.UTC()
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

// MarkRead sets read on every unread message in roomName not sent by excludeSender
func (s *PostgresStore) MarkRead(ctx context.Context, roomName, excludeSender string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE room_name = $1 AND NOT read AND sender <> $2
	`, roomName, excludeSender)
	if err != nil {
		return 0, translatePgError(err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread counts unread messages in roomName not sent by excludeSender
func (s *PostgresStore) CountUnread(ctx context.Context, roomName, excludeSender string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_name = $1 AND NOT read AND sender <> $2
	`, roomName, excludeSender).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// LatestTimestamp returns the newest message timestamp in roomName, or the zero time
func (s *PostgresStore) LatestTimestamp(ctx context.Context, roomName string) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(timestamp) FROM messages WHERE room_name = $1", roomName).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

// HealthCheck pings the pool
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) scanRoom(row pgx.Row) (*types.Room, error) {
	var room types.Room
	err := row.Scan(&room.RoomName, &room.ClientID, &room.CounselorID, &room.IsOnline, &room.CreatedAt)
	if err != nil {
		return nil, translatePgError(err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return &room, nil
}

// translatePgError maps pgx errors onto the storage sentinels
func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicateKey, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", interfaces.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
