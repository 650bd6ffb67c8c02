package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rostrum/debate-app/internal/sequence"
)

// PostgresLog stores durable events in the debate_events table. The stream's
// current maximum sequence number is read from the Sequencer rather than
// MAX(seq) of stored rows, so permanent holes never hide assigned numbers.
type PostgresLog struct {
	db  *sql.DB
	seq sequence.Sequencer
}

// NewPostgresLog creates a log backed by the given database handle.
func NewPostgresLog(db *sql.DB, seq sequence.Sequencer) *PostgresLog {
	return &PostgresLog{db: db, seq: seq}
}

// Append inserts one durable event.
func (l *PostgresLog) Append(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO debate_events (stream_id, seq, type, ts, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id, seq) DO NOTHING`

	var payload []byte
	if len(rec.Payload) > 0 {
		payload = rec.Payload
	}

	_, err := l.db.ExecContext(ctx, query, rec.StreamID, rec.Seq, rec.Type, rec.Ts, payload)
	if err != nil {
		return fmt.Errorf("%w: insert stream=%s seq=%d: %v", ErrPersistence, rec.StreamID, rec.Seq, err)
	}
	return nil
}

// ReadAfter returns durable events with seq > afterSeq in ascending order.
func (l *PostgresLog) ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) (ReadResult, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	const query = `
		SELECT stream_id, seq, type, ts, payload
		FROM debate_events
		WHERE stream_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`

	rows, err := l.db.QueryContext(ctx, query, streamID, afterSeq, limit)
	if err != nil {
		return ReadResult{}, fmt.Errorf("%w: read stream=%s after=%d: %v", ErrPersistence, streamID, afterSeq, err)
	}
	defer rows.Close()

	result := ReadResult{Events: []Record{}}
	for rows.Next() {
		var rec Record
		var payload sql.NullString
		if err := rows.Scan(&rec.StreamID, &rec.Seq, &rec.Type, &rec.Ts, &payload); err != nil {
			return ReadResult{}, fmt.Errorf("%w: scan stream=%s: %v", ErrPersistence, streamID, err)
		}
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		result.Events = append(result.Events, rec)
	}
	if err := rows.Err(); err != nil {
		return ReadResult{}, fmt.Errorf("%w: read stream=%s: %v", ErrPersistence, streamID, err)
	}

	cur, err := l.seq.Current(ctx, streamID)
	if err != nil {
		// The counter may have expired with the stream. Fall back to the
		// highest seq we actually returned so the caller still gets a
		// usable baseline.
		cur = afterSeq
		if n := len(result.Events); n > 0 {
			cur = result.Events[n-1].Seq
		}
	}
	result.CurrentSeq = cur

	return result, nil
}

// PruneBefore deletes events older than the cutoff across all streams and
// returns the number of rows removed. Retention is an explicit policy knob;
// expired streams then read as empty, which clients treat as "nothing to
// replay", not as an error.
func (l *PostgresLog) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM debate_events WHERE created_at < $1`

	res, err := l.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune before %s: %v", ErrPersistence, cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
