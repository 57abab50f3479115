package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps flows in the flows table. The schema is created by the
// database migrations.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
}

// NewSQLiteStore creates a durable flow store on an open, migrated database.
func NewSQLiteStore(db *sql.DB, limits Limits) *SQLiteStore {
	return &SQLiteStore{db: db, limits: limits}
}

const flowColumns = `seq, client_id, direction, message_id, command, topic,
	payload, qos, retained, retry_count, created_at`

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, f Flow) error {
	if err := f.validate(); err != nil {
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if s.limits.MaxMessages > 0 || s.limits.MaxSize > 0 {
		var count int
		var size int64
		const usage = `SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM flows WHERE client_id = ?`
		if err := tx.QueryRowContext(ctx, usage, f.ClientID).Scan(&count, &size); err != nil {
			return fmt.Errorf("reading flow usage for %s: %w", f.ClientID, err)
		}
		if err := s.limits.check(count, size, f); err != nil {
			return err
		}
	}

	const query = `INSERT INTO flows (client_id, direction, message_id, command, topic,
		payload, qos, retained, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		f.ClientID, f.Direction, f.MessageID, f.Command, f.Topic,
		f.Payload, f.QoS, f.Retained, f.RetryCount, f.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s %d", ErrFlowExists, f.ClientID, f.Direction, f.MessageID)
		}
		return fmt.Errorf("inserting flow %s/%d: %w", f.ClientID, f.MessageID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flow %s/%d: %w", f.ClientID, f.MessageID, err)
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, f Flow) error {
	const query = `UPDATE flows SET command = ?, topic = ?, payload = ?, qos = ?,
		retained = ?, retry_count = ?
		WHERE client_id = ? AND direction = ? AND message_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		f.Command, f.Topic, f.Payload, f.QoS, f.Retained, f.RetryCount,
		f.ClientID, f.Direction, f.MessageID)
	if err != nil {
		return fmt.Errorf("updating flow %s/%d: %w", f.ClientID, f.MessageID, err)
	}
	return expectOne(res, f.ClientID, f.Direction, f.MessageID)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, clientID string, dir Direction, id uint16) (Flow, error) {
	const query = `SELECT ` + flowColumns + ` FROM flows
		WHERE client_id = ? AND direction = ? AND message_id = ?`
	f, err := scanFlow(s.db.QueryRowContext(ctx, query, clientID, dir, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Flow{}, fmt.Errorf("%w: %s %s %d", ErrFlowNotFound, clientID, dir, id)
	}
	return f, err
}

// Ack implements Store.
func (s *SQLiteStore) Ack(ctx context.Context, clientID string, dir Direction, id uint16) error {
	const query = `DELETE FROM flows WHERE client_id = ? AND direction = ? AND message_id = ?`
	res, err := s.db.ExecContext(ctx, query, clientID, dir, id)
	if err != nil {
		return fmt.Errorf("deleting flow %s/%d: %w", clientID, id, err)
	}
	return expectOne(res, clientID, dir, id)
}

// Pending implements Store.
func (s *SQLiteStore) Pending(ctx context.Context, clientID string, dir Direction) ([]Flow, error) {
	const query = `SELECT ` + flowColumns + ` FROM flows
		WHERE client_id = ? AND direction = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, clientID, dir)
	if err != nil {
		return nil, fmt.Errorf("querying flows for %s: %w", clientID, err)
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flows: %w", err)
	}
	return flows, nil
}

// Purge implements Store.
func (s *SQLiteStore) Purge(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("purging flows for %s: %w", clientID, err)
	}
	return nil
}

// DeleteAll implements Store.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flows`); err != nil {
		return fmt.Errorf("deleting all flows: %w", err)
	}
	return nil
}

// Persistent implements Store.
func (s *SQLiteStore) Persistent() bool {
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (Flow, error) {
	var f Flow
	var createdAt string
	err := row.Scan(&f.Seq, &f.ClientID, &f.Direction, &f.MessageID, &f.Command, &f.Topic,
		&f.Payload, &f.QoS, &f.Retained, &f.RetryCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Flow{}, err
		}
		return Flow{}, fmt.Errorf("scanning flow: %w", err)
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	return f, nil
}

func expectOne(res sql.Result, clientID string, dir Direction, id uint16) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s %d", ErrFlowNotFound, clientID, dir, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
