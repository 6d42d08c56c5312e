package server

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/events"
)

// Response payloads

type TaskResponse struct {
	ID               int32             `json:"id"`
	ParentID         int32             `json:"parent_id"`
	Name             string            `json:"name"`
	State            string            `json:"state" enum:"inactive,active,finished"`
	CreateTime       time.Time         `json:"create_time"`
	FinishTime       *time.Time        `json:"finish_time,omitempty"`
	ServerControlled bool              `json:"server_controlled"`
	Locked           bool              `json:"locked"`
	IndexInParent    int32             `json:"index_in_parent"`
	Labels           []string          `json:"labels"`
	TimeEntry        []TimeEntryDTO    `json:"time_entry"`
	Sessions         []SessionResponse `json:"sessions"`
}

type TimeEntryDTO struct {
	CategoryID int32 `json:"category_id"`
	CodeID     int32 `json:"code_id"`
}

type SessionResponse struct {
	Start     time.Time      `json:"start"`
	Stop      *time.Time     `json:"stop,omitempty"`
	TimeEntry []TimeEntryDTO `json:"time_entry"`
}

type TimeCodeResponse struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	Archived  bool   `json:"archived"`
	InUse     bool   `json:"in_use"`
	TaskCount int32  `json:"task_count"`
}

type TimeCategoryResponse struct {
	ID       int32              `json:"id"`
	Name     string             `json:"name"`
	Label    string             `json:"label"`
	Archived bool               `json:"archived"`
	InUse    bool               `json:"in_use"`
	Codes    []TimeCodeResponse `json:"codes"`
}

type BugzillaInstanceResponse struct {
	ID           int32             `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Username     string            `json:"username"`
	RootTaskID   int32             `json:"root_task_id"`
	GroupTasksBy []string          `json:"group_tasks_by"`
	ShortNames   map[string]string `json:"label_to_group_short_name,omitempty"`
	TrackedBugs  int               `json:"tracked_bugs"`
	LastRefresh  *time.Time        `json:"last_refresh,omitempty"`
}

type EntryTotal struct {
	CategoryID int32 `json:"category_id"`
	CodeID     int32 `json:"code_id"`
	Millis     int64 `json:"ms"`
}

type DailyReportResponse struct {
	Date      string         `json:"date" example:"2025-02-03"`
	Found     bool           `json:"found"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	TotalMS   int64          `json:"total_ms"`
	Entries   []EntryTotal   `json:"entries"`
	Sessions  []SessionIndex `json:"sessions"`
}

type SessionIndex struct {
	TaskID int32 `json:"task_id"`
	Index  int32 `json:"index"`
}

type WeeklyReportResponse struct {
	Days    []DailyReportResponse `json:"days"`
	TotalMS int64                 `json:"total_ms"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func timeEntries(in []domain.TimeEntry) []TimeEntryDTO {
	out := make([]TimeEntryDTO, 0, len(in))
	for _, e := range in {
		out = append(out, TimeEntryDTO{CategoryID: int32(e.CategoryID), CodeID: int32(e.CodeID)})
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:               int32(t.ID),
		ParentID:         int32(t.ParentID),
		Name:             t.Name,
		State:            t.State.String(),
		CreateTime:       t.CreateTime,
		FinishTime:       t.FinishTime,
		ServerControlled: t.ServerControlled,
		Locked:           t.Locked,
		IndexInParent:    t.IndexInParent,
		Labels:           append([]string{}, t.Labels...),
		TimeEntry:        timeEntries(t.TimeEntry),
		Sessions:         []SessionResponse{},
	}
	for _, s := range t.Times {
		resp.Sessions = append(resp.Sessions, SessionResponse{Start: s.Start, Stop: s.Stop, TimeEntry: timeEntries(s.TimeEntry)})
	}
	return resp
}

func timeCategoryResponse(c domain.TimeCategory) TimeCategoryResponse {
	resp := TimeCategoryResponse{
		ID:       int32(c.ID),
		Name:     c.Name,
		Label:    c.Label,
		Archived: c.Archived,
		InUse:    c.InUse,
		Codes:    []TimeCodeResponse{},
	}
	for _, code := range c.Codes {
		resp.Codes = append(resp.Codes, TimeCodeResponse{
			ID:        int32(code.ID),
			Name:      code.Name,
			Archived:  code.Archived,
			InUse:     code.InUse,
			TaskCount: code.TaskCount,
		})
	}
	return resp
}

func bugzillaInstanceResponse(b domain.BugzillaInstance) BugzillaInstanceResponse {
	return BugzillaInstanceResponse{
		ID:           int32(b.ID),
		Name:         b.Name,
		URL:          b.URL,
		Username:     b.Username,
		RootTaskID:   int32(b.RootTaskID),
		GroupTasksBy: append([]string{}, b.GroupTasksBy...),
		ShortNames:   b.LabelToGroupShortName,
		TrackedBugs:  len(b.BugToTask),
		LastRefresh:  b.LastRefresh,
	}
}

func dailyReportResponse(r domain.DailyReport) DailyReportResponse {
	resp := DailyReportResponse{
		Date:     time.Date(r.Year, time.Month(r.Month), r.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly),
		Found:    r.Found,
		TotalMS:  r.TotalTime.Milliseconds(),
		Entries:  []EntryTotal{},
		Sessions: []SessionIndex{},
	}
	if r.Found {
		start := r.StartTime
		resp.StartTime = &start
		resp.EndTime = r.EndTime
	}
	for entry, d := range r.TimePerTimeEntry {
		resp.Entries = append(resp.Entries, EntryTotal{
			CategoryID: int32(entry.CategoryID),
			CodeID:     int32(entry.CodeID),
			Millis:     d.Milliseconds(),
		})
	}
	sort.Slice(resp.Entries, func(i, j int) bool {
		a, b := resp.Entries[i], resp.Entries[j]
		if a.CategoryID != b.CategoryID {
			return a.CategoryID < b.CategoryID
		}
		return a.CodeID < b.CodeID
	})
	for _, s := range r.Times {
		resp.Sessions = append(resp.Sessions, SessionIndex{TaskID: int32(s.TaskID), Index: s.Index})
	}
	return resp
}

func weeklyReportResponse(r domain.WeeklyReport) WeeklyReportResponse {
	resp := WeeklyReportResponse{TotalMS: r.TotalTime().Milliseconds()}
	for _, d := range r.Days {
		resp.Days = append(resp.Days, dailyReportResponse(d))
	}
	return resp
}

func eventResponse(rec events.Record) EventResponse {
	resp := EventResponse{
		ID:         rec.ID,
		TS:         rec.TS,
		Type:       rec.Type,
		EntityKind: rec.EntityKind,
		Payload:    json.RawMessage("{}"),
	}
	if rec.EntityID != nil {
		resp.EntityID = *rec.EntityID
	}
	if json.Valid([]byte(rec.PayloadJSON)) {
		resp.Payload = json.RawMessage(rec.PayloadJSON)
	}
	return resp
}
