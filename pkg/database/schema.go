package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a sqlite database carries the expected layout
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"rooms", "messages", "schema_migrations"} {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"room_name":    "TEXT",
		"client_id":    "TEXT",
		"counselor_id": "TEXT",
		"is_online":    "INTEGER",
		"created_at":   "INTEGER",
	}
	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":        "TEXT",
		"room_name": "TEXT",
		"sender":    "TEXT",
		"body":      "TEXT",
		"timestamp": "INTEGER",
		"read":      "INTEGER",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies the history and unread indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_messages_room_time", "idx_messages_room_unread"} {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies the uniqueness rules the room upsert relies on.
// Probe rows are written inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	insert := "INSERT INTO rooms (room_name, client_id, counselor_id, is_online, created_at) VALUES (?, ?, ?, 0, 0)"
	if _, err := tx.Exec(insert, "__probe_room", "__probe_client", "__probe"); err != nil {
		return fmt.Errorf("failed to insert probe room: %w", err)
	}
	if _, err := tx.Exec(insert, "__probe_room_2", "__probe_client", "__probe"); err == nil {
		return fmt.Errorf("unique constraint not enforced: rooms.client_id")
	}
	if _, err := tx.Exec(insert, "__probe_room", "__probe_client_2", "__probe"); err == nil {
		return fmt.Errorf("unique constraint not enforced: rooms.room_name")
	}
	if _, err := tx.Exec(
		"INSERT INTO messages (id, room_name, sender, body, timestamp, read) VALUES ('__probe', '__probe_room', 's', 'b', 0, 2)",
	); err == nil {
		return fmt.Errorf("check constraint not enforced: messages.read")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, typ := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, typ)
		}
	}
	return nil
}
