/**
 * @description
 * PostgreSQL implementation of the EventStore interface. The `events` table
 * is append-only with a UNIQUE (stream_id, version) constraint; the
 * expected-version check runs inside the insert transaction so a losing
 * writer observes a clean ConcurrencyConflictError and no partial writes.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the event envelope and snapshot models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

// uniqueViolation is the PostgreSQL error code raised when two writers race
// past the version check and collide on (stream_id, version).
const uniqueViolation = "23505"

// PostgresEventStore is the pgx-backed EventStore.
type PostgresEventStore struct {
	db *pgxpool.Pool
}

// NewPostgresEventStore creates a new instance of PostgresEventStore.
func NewPostgresEventStore(db *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Append verifies the stream version and inserts the events in one
// transaction. Versions are assigned by the caller as
// expectedVersion+1 .. expectedVersion+len(events).
func (s *PostgresEventStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentVersion int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("read stream version: %w", err)
	}

	if currentVersion != expectedVersion {
		return &ConcurrencyConflictError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	for _, ev := range events {
		metadata, mErr := json.Marshal(ev.Metadata)
		if mErr != nil {
			return fmt.Errorf("marshal event metadata: %w", mErr)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO events (id, stream_id, event_type, event_data, metadata, version, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.EventID, streamID, ev.EventType, ev.EventData, metadata, ev.Version, ev.OccurredOn,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				// A concurrent writer committed between our check and insert.
				actual, vErr := s.CurrentVersion(ctx, streamID)
				if vErr != nil {
					actual = ev.Version
				}
				return &ConcurrencyConflictError{
					StreamID:        streamID,
					ExpectedVersion: expectedVersion,
					ActualVersion:   actual,
				}
			}
			return fmt.Errorf("insert event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// Read returns a stream's events with version greater than fromVersion.
func (s *PostgresEventStore) Read(ctx context.Context, streamID string, fromVersion int64) ([]domain.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stream_id, event_type, event_data, metadata, version, created_at
		 FROM events WHERE stream_id = $1 AND version > $2 ORDER BY version ASC`,
		streamID, fromVersion,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadAll pages through all events ordered by commit time then version.
func (s *PostgresEventStore) ReadAll(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stream_id, event_type, event_data, metadata, version, created_at
		 FROM events ORDER BY created_at ASC, version ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadByType pages through events of one type ordered by commit time.
func (s *PostgresEventStore) ReadByType(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stream_id, event_type, event_data, metadata, version, created_at
		 FROM events WHERE event_type = $1 ORDER BY created_at ASC, version ASC LIMIT $2 OFFSET $3`,
		eventType, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CurrentVersion returns the stream's latest version, 0 for an empty stream.
func (s *PostgresEventStore) CurrentVersion(ctx context.Context, streamID string) (int64, error) {
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SaveSnapshot upserts the latest snapshot for a stream.
func (s *PostgresEventStore) SaveSnapshot(ctx context.Context, streamID string, data []byte, version int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO snapshots (stream_id, data, version, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (stream_id)
		 DO UPDATE SET data = EXCLUDED.data, version = EXCLUDED.version, created_at = EXCLUDED.created_at`,
		streamID, data, version,
	)
	return err
}

// GetSnapshot reads the latest snapshot for a stream.
func (s *PostgresEventStore) GetSnapshot(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	snap.StreamID = streamID
	err := s.db.QueryRow(ctx,
		`SELECT data, version, created_at FROM snapshots WHERE stream_id = $1`,
		streamID,
	).Scan(&snap.Data, &snap.Version, &snap.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// ListStreams returns all known stream ids.
func (s *PostgresEventStore) ListStreams(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT stream_id FROM events ORDER BY stream_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		streams = append(streams, id)
	}
	return streams, rows.Err()
}

// CountEvents returns the total number of committed events.
func (s *PostgresEventStore) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// CountStreamEvents returns the number of events in one stream.
func (s *PostgresEventStore) CountStreamEvents(ctx context.Context, streamID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE stream_id = $1`, streamID).Scan(&count)
	return count, err
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			ev       domain.Event
			metadata []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.StreamID, &ev.EventType, &ev.EventData, &metadata, &ev.Version, &ev.OccurredOn); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for event %s: %w", ev.EventID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
