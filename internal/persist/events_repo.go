package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EventsRepo writes connection lifecycle entries to connection_events.
type EventsRepo struct {
	db     *DB
	server string
}

func NewEventsRepo(db *DB, serverName string) *EventsRepo {
	return &EventsRepo{db: db, server: serverName}
}

// WriteBatch inserts entries in one round trip.
func (r *EventsRepo) WriteBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO connection_events (kind, client_id, remote_addr, reason, server_name, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Kind, e.ClientID, e.Remote, e.Reason, r.server, e.At,
		)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert connection events: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (r *EventsRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT kind, client_id, remote_addr, reason, occurred_at
		 FROM connection_events WHERE server_name = $1
		 ORDER BY occurred_at DESC, id DESC LIMIT $2`,
		r.server, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query connection events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Kind, &e.ClientID, &e.Remote, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan connection event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
