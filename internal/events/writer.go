package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event is one audit record of a persisted change.
type Event struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    any
}

// Record is an event as stored.
type Record struct {
	ID          int64   `db:"id" json:"id"`
	TS          string  `db:"ts" json:"ts"`
	Type        string  `db:"type" json:"type"`
	EntityKind  string  `db:"entity_kind" json:"entity_kind"`
	EntityID    *string `db:"entity_id" json:"entity_id,omitempty"`
	PayloadJSON string  `db:"payload_json" json:"payload"`
}

type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, ex sqlx.ExecerContext, evt Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evt.Type, evt.EntityKind, nullable(evt.EntityID), string(data))
	return err
}

// List returns the most recent events, newest first. A non-empty kind
// restricts the result to one entity kind.
func List(ctx context.Context, q sqlx.QueryerContext, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE entity_kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	var out []Record
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
