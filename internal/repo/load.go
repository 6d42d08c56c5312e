package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/api"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

var _ api.Database = (*Repo)(nil)

type taskRow struct {
	ID               int32         `db:"id"`
	ParentID         int32         `db:"parent_id"`
	Name             string        `db:"name"`
	State            int32         `db:"state"`
	CreateTime       int64         `db:"create_time"`
	FinishTime       sql.NullInt64 `db:"finish_time"`
	ServerControlled bool          `db:"server_controlled"`
	Locked           bool          `db:"locked"`
	IndexInParent    int32         `db:"index_in_parent"`
	LabelsJSON       string        `db:"labels_json"`
	TimeEntryJSON    string        `db:"time_entry_json"`
}

type sessionRow struct {
	TaskID        int32         `db:"task_id"`
	Index         int32         `db:"idx"`
	StartTime     int64         `db:"start_time"`
	StopTime      sql.NullInt64 `db:"stop_time"`
	TimeEntryJSON string        `db:"time_entry_json"`
}

type categoryRow struct {
	ID       int32  `db:"id"`
	Name     string `db:"name"`
	Label    string `db:"label"`
	Archived bool   `db:"archived"`
}

type codeRow struct {
	CategoryID int32  `db:"category_id"`
	ID         int32  `db:"id"`
	Name       string `db:"name"`
	Archived   bool   `db:"archived"`
}

type instanceRow struct {
	ID               int32         `db:"id"`
	Name             string        `db:"name"`
	URL              string        `db:"url"`
	APIKey           string        `db:"api_key"`
	Username         string        `db:"username"`
	RootTaskID       int32         `db:"root_task_id"`
	GroupTasksByJSON string        `db:"group_tasks_by_json"`
	LabelToGroupJSON string        `db:"label_to_group_json"`
	BugToTaskJSON    string        `db:"bug_to_task_json"`
	GroupTasksJSON   string        `db:"group_tasks_json"`
	LastRefresh      sql.NullInt64 `db:"last_refresh"`
}

// Load reads everything written so far. Tasks come back in ID order with
// their sessions; categories keep their stored order.
func (r *Repo) Load(ctx context.Context) (api.State, error) {
	var state api.State

	tasks, err := r.loadTasks(ctx)
	if err != nil {
		return state, err
	}
	state.Tasks.Tasks = tasks

	categories, err := r.loadCategories(ctx)
	if err != nil {
		return state, err
	}
	state.Tasks.Categories = categories

	instances, err := r.loadInstances(ctx)
	if err != nil {
		return state, err
	}
	state.Bugzilla = instances

	counters := []struct {
		name string
		set  func(int64)
	}{
		{counterNextTask, func(v int64) { state.Tasks.NextTaskID = domain.TaskID(v) }},
		{counterNextTimeCategory, func(v int64) { state.Tasks.NextTimeCategoryID = domain.TimeCategoryID(v) }},
		{counterNextTimeCode, func(v int64) { state.Tasks.NextTimeCodeID = domain.TimeCodeID(v) }},
		{counterNextBugzillaInstance, func(v int64) { state.NextBugzillaInstanceID = domain.BugzillaInstanceID(v) }},
	}
	for _, c := range counters {
		v, err := r.counter(ctx, c.name)
		if err != nil {
			return state, err
		}
		c.set(v)
	}
	return state, nil
}

func (r *Repo) loadTasks(ctx context.Context) ([]domain.Task, error) {
	var rows []taskRow
	if err := r.DB.SelectContext(ctx, &rows, `
		SELECT id, parent_id, name, state, create_time, finish_time,
			server_controlled, locked, index_in_parent, labels_json, time_entry_json
		FROM tasks ORDER BY id`); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	var sessions []sessionRow
	if err := r.DB.SelectContext(ctx, &sessions, `
		SELECT task_id, idx, start_time, stop_time, time_entry_json
		FROM task_sessions ORDER BY task_id, idx`); err != nil {
		return nil, fmt.Errorf("querying task sessions: %w", err)
	}
	times := make(map[int32][]domain.TaskTimes)
	for _, s := range sessions {
		tt := domain.TaskTimes{Start: time.UnixMilli(s.StartTime), Stop: fromMillis(s.StopTime)}
		if err := unmarshalJSON(s.TimeEntryJSON, &tt.TimeEntry); err != nil {
			return nil, fmt.Errorf("decoding session %d of task %d: %w", s.Index, s.TaskID, err)
		}
		times[s.TaskID] = append(times[s.TaskID], tt)
	}

	var out []domain.Task
	for _, row := range rows {
		t := domain.Task{
			ID:               domain.TaskID(row.ID),
			ParentID:         domain.TaskID(row.ParentID),
			Name:             row.Name,
			State:            domain.TaskState(row.State),
			CreateTime:       time.UnixMilli(row.CreateTime),
			FinishTime:       fromMillis(row.FinishTime),
			ServerControlled: row.ServerControlled,
			Locked:           row.Locked,
			IndexInParent:    row.IndexInParent,
			Times:            times[row.ID],
		}
		if err := unmarshalJSON(row.LabelsJSON, &t.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels of task %d: %w", row.ID, err)
		}
		if err := unmarshalJSON(row.TimeEntryJSON, &t.TimeEntry); err != nil {
			return nil, fmt.Errorf("decoding time entry of task %d: %w", row.ID, err)
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (r *Repo) loadCategories(ctx context.Context) ([]domain.TimeCategory, error) {
	var categories []categoryRow
	if err := r.DB.SelectContext(ctx, &categories,
		`SELECT id, name, label, archived FROM time_categories ORDER BY position`); err != nil {
		return nil, fmt.Errorf("querying time categories: %w", err)
	}
	var codes []codeRow
	if err := r.DB.SelectContext(ctx, &codes,
		`SELECT category_id, id, name, archived FROM time_codes ORDER BY category_id, position`); err != nil {
		return nil, fmt.Errorf("querying time codes: %w", err)
	}
	byCategory := make(map[int32][]domain.TimeCode)
	for _, c := range codes {
		byCategory[c.CategoryID] = append(byCategory[c.CategoryID], domain.TimeCode{
			ID:       domain.TimeCodeID(c.ID),
			Name:     c.Name,
			Archived: c.Archived,
		})
	}
	var out []domain.TimeCategory
	for _, c := range categories {
		out = append(out, domain.TimeCategory{
			ID:       domain.TimeCategoryID(c.ID),
			Name:     c.Name,
			Label:    c.Label,
			Archived: c.Archived,
			Codes:    byCategory[c.ID],
		})
	}
	return out, nil
}

func (r *Repo) loadInstances(ctx context.Context) ([]domain.BugzillaInstance, error) {
	var rows []instanceRow
	if err := r.DB.SelectContext(ctx, &rows, `
		SELECT id, name, url, api_key, username, root_task_id,
			group_tasks_by_json, label_to_group_json, bug_to_task_json, group_tasks_json, last_refresh
		FROM bugzilla_instances ORDER BY id`); err != nil {
		return nil, fmt.Errorf("querying bugzilla instances: %w", err)
	}
	var out []domain.BugzillaInstance
	for _, row := range rows {
		b := domain.BugzillaInstance{
			ID:          domain.BugzillaInstanceID(row.ID),
			Name:        row.Name,
			URL:         row.URL,
			APIKey:      row.APIKey,
			Username:    row.Username,
			RootTaskID:  domain.TaskID(row.RootTaskID),
			LastRefresh: fromMillis(row.LastRefresh),
		}
		for _, f := range []struct {
			data string
			dst  any
		}{
			{row.GroupTasksByJSON, &b.GroupTasksBy},
			{row.LabelToGroupJSON, &b.LabelToGroupShortName},
			{row.BugToTaskJSON, &b.BugToTask},
			{row.GroupTasksJSON, &b.GroupTasks},
		} {
			if err := unmarshalJSON(f.data, f.dst); err != nil {
				return nil, fmt.Errorf("decoding bugzilla instance %d: %w", row.ID, err)
			}
		}
		out = append(out, b.Clone())
	}
	return out, nil
}

func unmarshalJSON(data string, dst any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), dst)
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
