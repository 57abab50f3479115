package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteSubscriptionStore keeps subscriptions in the subscriptions table.
type SQLiteSubscriptionStore struct {
	db *sql.DB
}

// NewSQLiteSubscriptionStore creates a durable subscription store on an
// open, migrated database.
func NewSQLiteSubscriptionStore(db *sql.DB) *SQLiteSubscriptionStore {
	return &SQLiteSubscriptionStore{db: db}
}

// Subscribe implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) Subscribe(ctx context.Context, clientID string, subs ...Subscription) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `INSERT INTO subscriptions (client_id, topic, qos, pending_unsubscribe, updated_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT (client_id, topic) DO UPDATE SET
				qos = excluded.qos, pending_unsubscribe = 0, updated_at = excluded.updated_at`
		for _, sub := range subs {
			if _, err := tx.ExecContext(ctx, query, clientID, sub.Topic, sub.QoS, now); err != nil {
				return fmt.Errorf("storing subscription %s: %w", sub.Topic, err)
			}
		}
		return nil
	})
}

// Unsubscribe implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) Unsubscribe(ctx context.Context, clientID string, topics ...string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `INSERT INTO subscriptions (client_id, topic, qos, pending_unsubscribe, updated_at)
			VALUES (?, ?, 0, 1, ?)
			ON CONFLICT (client_id, topic) DO UPDATE SET
				pending_unsubscribe = 1, updated_at = excluded.updated_at`
		for _, t := range topics {
			if _, err := tx.ExecContext(ctx, query, clientID, t, now); err != nil {
				return fmt.Errorf("marking unsubscribe %s: %w", t, err)
			}
		}
		return nil
	})
}

// UnsubscribeAcked implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) UnsubscribeAcked(ctx context.Context, clientID string, topics ...string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const query = `DELETE FROM subscriptions
			WHERE client_id = ? AND topic = ? AND pending_unsubscribe = 1`
		for _, t := range topics {
			if _, err := tx.ExecContext(ctx, query, clientID, t); err != nil {
				return fmt.Errorf("removing subscription %s: %w", t, err)
			}
		}
		return nil
	})
}

// Subscriptions implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) Subscriptions(ctx context.Context, clientID string) ([]Subscription, error) {
	const query = `SELECT topic, qos FROM subscriptions
		WHERE client_id = ? AND pending_unsubscribe = 0 ORDER BY topic`
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions for %s: %w", clientID, err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Topic, &sub.QoS); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return out, nil
}

// PendingUnsubscribes implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) PendingUnsubscribes(ctx context.Context, clientID string) ([]string, error) {
	const query = `SELECT topic FROM subscriptions
		WHERE client_id = ? AND pending_unsubscribe = 1 ORDER BY topic`
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("querying pending unsubscribes for %s: %w", clientID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning pending unsubscribe: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending unsubscribes: %w", err)
	}
	return out, nil
}

// Clear implements SubscriptionStore.
func (s *SQLiteSubscriptionStore) Clear(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("clearing subscriptions for %s: %w", clientID, err)
	}
	return nil
}

func (s *SQLiteSubscriptionStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing subscriptions: %w", err)
	}
	return nil
}
