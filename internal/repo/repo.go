package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/events"
)

var ErrNotFound = errors.New("not found")

// ErrNoTransaction is returned by FinishTransaction without a matching
// StartTransaction.
var ErrNoTransaction = errors.New("no transaction in progress")

const (
	counterNextTask             = "next_task_id"
	counterNextTimeCategory     = "next_time_category_id"
	counterNextTimeCode         = "next_time_code_id"
	counterNextBugzillaInstance = "next_bugzilla_instance_id"
)

// Repo stores the task model in SQLite. Writes outside an explicit
// transaction each run in their own.
type Repo struct {
	DB     *sqlx.DB
	Events events.Writer

	mu    sync.Mutex
	tx    *sqlx.Tx
	depth int
}

func New(db *sqlx.DB) *Repo {
	return &Repo{DB: db}
}

// StartTransaction groups the following writes until the matching
// FinishTransaction. Calls nest.
func (r *Repo) StartTransaction(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		r.depth++
		return nil
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	r.tx = tx
	r.depth = 1
	return nil
}

func (r *Repo) FinishTransaction(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return ErrNoTransaction
	}
	r.depth--
	if r.depth > 0 {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// write runs fn in the open transaction, or in a new one committed when
// fn succeeds.
func (r *Repo) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return fn(r.tx)
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) WriteTask(ctx context.Context, t domain.Task) error {
	labels, err := marshalJSON(t.Labels, "[]")
	if err != nil {
		return err
	}
	entry, err := marshalJSON(t.TimeEntry, "[]")
	if err != nil {
		return err
	}
	return r.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO tasks (
				id, parent_id, name, state, create_time, finish_time,
				server_controlled, locked, index_in_parent, labels_json, time_entry_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ParentID, t.Name, t.State, t.CreateTime.UnixMilli(), millis(t.FinishTime),
			boolToInt(t.ServerControlled), boolToInt(t.Locked), t.IndexInParent, labels, entry,
		)
		if err != nil {
			return fmt.Errorf("writing task %d: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_sessions WHERE task_id = ?`, t.ID); err != nil {
			return fmt.Errorf("clearing sessions of task %d: %w", t.ID, err)
		}
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO task_sessions (task_id, idx, start_time, stop_time, time_entry_json)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing session insert: %w", err)
		}
		defer stmt.Close()
		for i, s := range t.Times {
			entry, err := marshalJSON(s.TimeEntry, "[]")
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, t.ID, i, s.Start.UnixMilli(), millis(s.Stop), entry); err != nil {
				return fmt.Errorf("writing session %d of task %d: %w", i, t.ID, err)
			}
		}
		return r.Events.Append(ctx, tx, events.Event{
			Type: "task.written", EntityKind: "task", EntityID: strconv.Itoa(int(t.ID)), Payload: t,
		})
	})
}

// WriteTimeEntryConfig replaces every stored category and code with
// categories, keeping their order.
func (r *Repo) WriteTimeEntryConfig(ctx context.Context, categories []domain.TimeCategory) error {
	return r.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_codes`); err != nil {
			return fmt.Errorf("clearing time codes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_categories`); err != nil {
			return fmt.Errorf("clearing time categories: %w", err)
		}
		for i, c := range categories {
			_, err := tx.ExecContext(ctx, `INSERT INTO time_categories (id, position, name, label, archived) VALUES (?, ?, ?, ?, ?)`,
				c.ID, i, c.Name, c.Label, boolToInt(c.Archived))
			if err != nil {
				return fmt.Errorf("writing time category %d: %w", c.ID, err)
			}
			for j, code := range c.Codes {
				_, err := tx.ExecContext(ctx, `INSERT INTO time_codes (category_id, id, position, name, archived) VALUES (?, ?, ?, ?, ?)`,
					c.ID, code.ID, j, code.Name, boolToInt(code.Archived))
				if err != nil {
					return fmt.Errorf("writing time code %d: %w", code.ID, err)
				}
			}
		}
		return r.Events.Append(ctx, tx, events.Event{
			Type: "time_entry_config.written", EntityKind: "time_entry_config", Payload: categories,
		})
	})
}

func (r *Repo) RemoveTimeCategory(ctx context.Context, id domain.TimeCategoryID) error {
	return r.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_categories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("removing time category %d: %w", id, err)
		}
		return r.Events.Append(ctx, tx, events.Event{
			Type: "time_category.removed", EntityKind: "time_category", EntityID: strconv.Itoa(int(id)),
		})
	})
}

func (r *Repo) RemoveTimeCode(ctx context.Context, category domain.TimeCategoryID, id domain.TimeCodeID) error {
	return r.write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_codes WHERE category_id = ? AND id = ?`, category, id); err != nil {
			return fmt.Errorf("removing time code %d: %w", id, err)
		}
		return r.Events.Append(ctx, tx, events.Event{
			Type: "time_code.removed", EntityKind: "time_code", EntityID: strconv.Itoa(int(id)),
			Payload: map[string]any{"category_id": category},
		})
	})
}

func (r *Repo) WriteBugzillaInstance(ctx context.Context, b domain.BugzillaInstance) error {
	groupBy, err := marshalJSON(b.GroupTasksBy, "[]")
	if err != nil {
		return err
	}
	labels, err := marshalJSON(b.LabelToGroupShortName, "{}")
	if err != nil {
		return err
	}
	bugs, err := marshalJSON(b.BugToTask, "{}")
	if err != nil {
		return err
	}
	groups, err := marshalJSON(b.GroupTasks, "{}")
	if err != nil {
		return err
	}
	return r.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO bugzilla_instances (
				id, name, url, api_key, username, root_task_id,
				group_tasks_by_json, label_to_group_json, bug_to_task_json, group_tasks_json,
				last_refresh
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Name, b.URL, b.APIKey, b.Username, b.RootTaskID,
			groupBy, labels, bugs, groups, millis(b.LastRefresh),
		)
		if err != nil {
			return fmt.Errorf("writing bugzilla instance %d: %w", b.ID, err)
		}
		return r.Events.Append(ctx, tx, events.Event{
			Type: "bugzilla_instance.written", EntityKind: "bugzilla_instance", EntityID: strconv.Itoa(int(b.ID)), Payload: b,
		})
	})
}

func (r *Repo) WriteNextTaskID(ctx context.Context, id domain.TaskID) error {
	return r.writeCounter(ctx, counterNextTask, int64(id))
}

func (r *Repo) WriteNextTimeCategoryID(ctx context.Context, id domain.TimeCategoryID) error {
	return r.writeCounter(ctx, counterNextTimeCategory, int64(id))
}

func (r *Repo) WriteNextTimeCodeID(ctx context.Context, id domain.TimeCodeID) error {
	return r.writeCounter(ctx, counterNextTimeCode, int64(id))
}

func (r *Repo) WriteNextBugzillaInstanceID(ctx context.Context, id domain.BugzillaInstanceID) error {
	return r.writeCounter(ctx, counterNextBugzillaInstance, int64(id))
}

func (r *Repo) writeCounter(ctx context.Context, name string, value int64) error {
	return r.write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value=excluded.value`, name, value)
		if err != nil {
			return fmt.Errorf("writing counter %s: %w", name, err)
		}
		return nil
	})
}

// RecentEvents returns the most recent audit events, newest first.
func (r *Repo) RecentEvents(ctx context.Context, kind string, limit int) ([]events.Record, error) {
	return events.List(ctx, r.DB, kind, limit)
}

func (r *Repo) counter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := r.DB.GetContext(ctx, &v, `SELECT value FROM counters WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter %s: %w", name, err)
	}
	return v, nil
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
