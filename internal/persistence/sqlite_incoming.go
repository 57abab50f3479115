package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// receivedAtFormat has a fixed width so received_at sorts and compares
// correctly as text.
const receivedAtFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteIncomingStore keeps held messages in the incoming_messages table.
type SQLiteIncomingStore struct {
	db *sql.DB
}

// NewSQLiteIncomingStore creates a durable incoming store on an open,
// migrated database.
func NewSQLiteIncomingStore(db *sql.DB) *SQLiteIncomingStore {
	return &SQLiteIncomingStore{db: db}
}

// Save implements IncomingStore.
func (s *SQLiteIncomingStore) Save(ctx context.Context, m IncomingMessage) error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	const query = `INSERT INTO incoming_messages (id, client_id, topic, payload, qos, retained, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ClientID, m.Topic, m.Payload, m.QoS, m.Retained,
		m.ReceivedAt.UTC().Format(receivedAtFormat))
	if err != nil {
		return fmt.Errorf("storing incoming message %s on %s: %w", m.ID, m.Topic, err)
	}
	return nil
}

// Messages implements IncomingStore.
func (s *SQLiteIncomingStore) Messages(ctx context.Context, clientID string, topics ...string) ([]IncomingMessage, error) {
	query := `SELECT id, client_id, topic, payload, qos, retained, received_at
		FROM incoming_messages WHERE client_id = ?`
	args := []any{clientID}
	if len(topics) > 0 {
		query += " AND topic IN (" + placeholders(len(topics)) + ")"
		for _, t := range topics {
			args = append(args, t)
		}
	}
	query += " ORDER BY received_at, seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incoming messages for %s: %w", clientID, err)
	}
	defer rows.Close()

	var out []IncomingMessage
	for rows.Next() {
		var (
			m          IncomingMessage
			receivedAt string
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.Topic, &m.Payload, &m.QoS, &m.Retained, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning incoming message: %w", err)
		}
		if m.ReceivedAt, err = time.Parse(receivedAtFormat, receivedAt); err != nil {
			return nil, fmt.Errorf("incoming message %s: bad received_at %q: %w", m.ID, receivedAt, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incoming messages: %w", err)
	}
	return out, nil
}

// Delete implements IncomingStore.
func (s *SQLiteIncomingStore) Delete(ctx context.Context, clientID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, clientID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM incoming_messages WHERE client_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting incoming messages for %s: %w", clientID, err)
	}
	return nil
}

// DeleteOlderThan implements IncomingStore.
func (s *SQLiteIncomingStore) DeleteOlderThan(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incoming_messages WHERE received_at < ?`,
		t.UTC().Format(receivedAtFormat))
	if err != nil {
		return 0, fmt.Errorf("deleting expired incoming messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting expired incoming messages: %w", err)
	}
	return int(n), nil
}

// DeleteAll implements IncomingStore.
func (s *SQLiteIncomingStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM incoming_messages`); err != nil {
		return fmt.Errorf("deleting incoming messages: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
