package domain

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

type TaskID int32
type RequestID int32
type TimeCategoryID int32
type TimeCodeID int32
type BugzillaInstanceID int32

// NoParent is the parent of every root task.
const NoParent TaskID = 0

// MaxTextLength is the longest name or label, in bytes, a packet can carry.
const MaxTextLength = math.MaxInt16

// ClipText shortens s to at most MaxTextLength bytes without splitting a
// UTF-8 sequence.
func ClipText(s string) string {
	if len(s) <= MaxTextLength {
		return s
	}
	cut := MaxTextLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// UnknownTimeCode is recorded in a session when no task in the
// ancestor chain configures a code for a category.
const UnknownTimeCode TimeCodeID = 0

func (id TaskID) Next() TaskID                         { return id + 1 }
func (id TimeCategoryID) Next() TimeCategoryID         { return id + 1 }
func (id TimeCodeID) Next() TimeCodeID                 { return id + 1 }
func (id BugzillaInstanceID) Next() BugzillaInstanceID { return id + 1 }

type TaskState int32

const (
	TaskInactive TaskState = iota
	TaskActive
	TaskFinished
)

func (s TaskState) String() string {
	switch s {
	case TaskInactive:
		return "inactive"
	case TaskActive:
		return "active"
	case TaskFinished:
		return "finished"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// TimeEntry pairs a category with the code selected for it.
type TimeEntry struct {
	CategoryID TimeCategoryID `json:"category_id"`
	CodeID     TimeCodeID     `json:"code_id"`
}

// TaskTimes is one session of a task. TimeEntry is frozen when the
// session starts.
type TaskTimes struct {
	Start     time.Time   `json:"start"`
	Stop      *time.Time  `json:"stop,omitempty"`
	TimeEntry []TimeEntry `json:"time_entry,omitempty"`
}

type Task struct {
	ID               TaskID      `json:"id"`
	ParentID         TaskID      `json:"parent_id"`
	Name             string      `json:"name"`
	State            TaskState   `json:"state"`
	CreateTime       time.Time   `json:"create_time"`
	FinishTime       *time.Time  `json:"finish_time,omitempty"`
	ServerControlled bool        `json:"server_controlled"`
	Locked           bool        `json:"locked"`
	IndexInParent    int32       `json:"index_in_parent"`
	Labels           []string    `json:"labels,omitempty"`
	TimeEntry        []TimeEntry `json:"time_entry,omitempty"`
	Times            []TaskTimes `json:"times,omitempty"`
}

// Clone returns a deep copy of t. Empty collections come back nil.
func (t Task) Clone() Task {
	c := t
	c.FinishTime = cloneTime(t.FinishTime)
	c.Labels = cloneSlice(t.Labels)
	c.TimeEntry = cloneSlice(t.TimeEntry)
	c.Times = nil
	for _, tt := range t.Times {
		c.Times = append(c.Times, TaskTimes{
			Start:     tt.Start,
			Stop:      cloneTime(tt.Stop),
			TimeEntry: cloneSlice(tt.TimeEntry),
		})
	}
	return c
}

// OpenSession returns the index of the session without a stop time, or -1.
func (t Task) OpenSession() int {
	if n := len(t.Times); n > 0 && t.Times[n-1].Stop == nil {
		return n - 1
	}
	return -1
}

type TimeCode struct {
	ID        TimeCodeID `json:"id"`
	Name      string     `json:"name"`
	Archived  bool       `json:"archived"`
	InUse     bool       `json:"in_use"`
	TaskCount int32      `json:"task_count"`
}

type TimeCategory struct {
	ID       TimeCategoryID `json:"id"`
	Name     string         `json:"name"`
	Label    string         `json:"label"`
	Archived bool           `json:"archived"`
	InUse    bool           `json:"in_use"`
	Codes    []TimeCode     `json:"codes,omitempty"`
}

func (c TimeCategory) Clone() TimeCategory {
	c.Codes = cloneSlice(c.Codes)
	return c
}

// Code looks up a code of the category by ID.
func (c TimeCategory) Code(id TimeCodeID) (TimeCode, bool) {
	for _, code := range c.Codes {
		if code.ID == id {
			return code, true
		}
	}
	return TimeCode{}, false
}

// BugzillaInstance is the configuration and sync state of one
// issue-tracker server.
type BugzillaInstance struct {
	ID                    BugzillaInstanceID `json:"id"`
	Name                  string             `json:"name"`
	URL                   string             `json:"url"`
	APIKey                string             `json:"-"`
	Username              string             `json:"username"`
	RootTaskID            TaskID             `json:"root_task_id"`
	GroupTasksBy          []string           `json:"group_tasks_by,omitempty"`
	LabelToGroupShortName map[string]string  `json:"label_to_group_short_name,omitempty"`
	BugToTask             map[int]TaskID     `json:"-"`
	GroupTasks            map[string]TaskID  `json:"-"`
	LastRefresh           *time.Time         `json:"last_refresh,omitempty"`
}

func (b BugzillaInstance) Clone() BugzillaInstance {
	c := b
	c.GroupTasksBy = cloneSlice(b.GroupTasksBy)
	c.LabelToGroupShortName = cloneMap(b.LabelToGroupShortName)
	c.BugToTask = cloneMap(b.BugToTask)
	c.GroupTasks = cloneMap(b.GroupTasks)
	c.LastRefresh = cloneTime(b.LastRefresh)
	return c
}

// TaskSession identifies one session of one task.
type TaskSession struct {
	TaskID TaskID `json:"task_id"`
	Index  int32  `json:"index"`
}

type DailyReport struct {
	Month            int                         `json:"month"`
	Day              int                         `json:"day"`
	Year             int                         `json:"year"`
	Found            bool                        `json:"found"`
	StartTime        time.Time                   `json:"start_time"`
	EndTime          *time.Time                  `json:"end_time,omitempty"`
	TotalTime        time.Duration               `json:"total_time"`
	TimePerTimeEntry map[TimeEntry]time.Duration `json:"-"`
	Times            []TaskSession               `json:"times,omitempty"`
}

type WeeklyReport struct {
	Days [7]DailyReport `json:"days"`
}

func (r WeeklyReport) TotalTime() time.Duration {
	var total time.Duration
	for _, d := range r.Days {
		total += d.TotalTime
	}
	return total
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if len(in) == 0 {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
