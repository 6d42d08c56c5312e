// Package engine holds the task forest and every rule that changes it.
package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

// maxTaskDepth bounds every walk up a parent chain.
const maxTaskDepth = 1024

// MicroTask is the aggregate root of the task model. It is not safe for
// concurrent use.
type MicroTask struct {
	Now      func() time.Time
	Location *time.Location

	tasks     map[domain.TaskID]*domain.Task
	nextIndex map[domain.TaskID]int32
	// zero when no task is active
	active domain.TaskID

	categories     []domain.TimeCategory
	nextTaskID     domain.TaskID
	nextCategoryID domain.TimeCategoryID
	nextCodeID     domain.TimeCodeID
}

func New() *MicroTask {
	return &MicroTask{
		Now:            time.Now,
		Location:       time.Local,
		tasks:          make(map[domain.TaskID]*domain.Task),
		nextIndex:      make(map[domain.TaskID]int32),
		nextTaskID:     1,
		nextCategoryID: 1,
		nextCodeID:     1,
	}
}

// now returns the clock truncated to milliseconds, the precision of the
// wire protocol.
func (m *MicroTask) now() time.Time {
	t := time.Now()
	if m.Now != nil {
		t = m.Now()
	}
	return time.UnixMilli(t.UnixMilli())
}

func (m *MicroTask) location() *time.Location {
	if m.Location != nil {
		return m.Location
	}
	return time.Local
}

func (m *MicroTask) NextTaskID() domain.TaskID                 { return m.nextTaskID }
func (m *MicroTask) NextTimeCategoryID() domain.TimeCategoryID { return m.nextCategoryID }
func (m *MicroTask) NextTimeCodeID() domain.TimeCodeID         { return m.nextCodeID }

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Name             string
	ParentID         domain.TaskID
	ServerControlled bool
	Labels           []string
	TimeEntry        []domain.TimeEntry
}

func (m *MicroTask) CreateTask(opts TaskCreateOptions) (domain.TaskID, error) {
	if opts.ParentID != domain.NoParent {
		parent, ok := m.tasks[opts.ParentID]
		if !ok {
			return 0, taskNotFound(opts.ParentID)
		}
		if parent.State == domain.TaskFinished {
			return 0, fail(ErrParentFinished, "Cannot add sub-task. Task with ID %d is finished.", opts.ParentID)
		}
	}
	if err := checkTaskText(opts.Name, opts.Labels); err != nil {
		return 0, err
	}
	if err := m.validateTimeEntry(opts.TimeEntry); err != nil {
		return 0, err
	}

	id := m.nextTaskID
	m.nextTaskID = id.Next()
	t := &domain.Task{
		ID:               id,
		ParentID:         opts.ParentID,
		Name:             opts.Name,
		State:            domain.TaskInactive,
		CreateTime:       m.now(),
		ServerControlled: opts.ServerControlled,
		IndexInParent:    m.takeIndex(opts.ParentID),
	}
	t.Labels = cleanLabels(opts.Labels)
	if len(opts.TimeEntry) > 0 {
		t.TimeEntry = append([]domain.TimeEntry(nil), opts.TimeEntry...)
	}
	m.tasks[id] = t
	return id, nil
}

func (m *MicroTask) takeIndex(parent domain.TaskID) int32 {
	idx := m.nextIndex[parent]
	m.nextIndex[parent] = idx + 1
	return idx
}

// StartTask makes id the active task and opens a session for it. Any
// task that was active is stopped first; its ID is returned, or zero.
func (m *MicroTask) StartTask(id domain.TaskID) (domain.TaskID, error) {
	t, ok := m.tasks[id]
	if !ok {
		return 0, taskNotFound(id)
	}
	switch t.State {
	case domain.TaskActive:
		return 0, fail(ErrAlreadyActive, "Task with ID %d is already active.", id)
	case domain.TaskFinished:
		return 0, fail(ErrFinished, "Task with ID %d is finished.", id)
	}

	now := m.now()
	previous := m.active
	if prev, ok := m.tasks[previous]; ok {
		stopSession(prev, now)
		prev.State = domain.TaskInactive
	} else {
		previous = 0
	}

	t.State = domain.TaskActive
	t.Times = append(t.Times, domain.TaskTimes{
		Start:     now,
		TimeEntry: m.resolveTimeEntry(t),
	})
	m.active = id
	return previous, nil
}

func (m *MicroTask) StopTask(id domain.TaskID) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if t.State != domain.TaskActive {
		return fail(ErrNotActive, "Task with ID %d is not active.", id)
	}
	stopSession(t, m.now())
	t.State = domain.TaskInactive
	m.active = 0
	return nil
}

func (m *MicroTask) FinishTask(id domain.TaskID) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if t.State == domain.TaskFinished {
		return fail(ErrAlreadyFinished, "Task with ID %d is already finished.", id)
	}
	now := m.now()
	if t.State == domain.TaskActive {
		stopSession(t, now)
		m.active = 0
	}
	t.State = domain.TaskFinished
	t.FinishTime = &now
	return nil
}

func stopSession(t *domain.Task, now time.Time) {
	if i := t.OpenSession(); i >= 0 {
		stop := now
		t.Times[i].Stop = &stop
	}
}

// resolveTimeEntry picks a code for every live category: the task's own
// choice, else the nearest ancestor's, else UnknownTimeCode.
func (m *MicroTask) resolveTimeEntry(t *domain.Task) []domain.TimeEntry {
	var out []domain.TimeEntry
	for _, c := range m.categories {
		if c.Archived {
			continue
		}
		out = append(out, domain.TimeEntry{CategoryID: c.ID, CodeID: m.inheritedCode(t, c.ID)})
	}
	return out
}

func (m *MicroTask) inheritedCode(t *domain.Task, category domain.TimeCategoryID) domain.TimeCodeID {
	cur := t
	for depth := 0; cur != nil && depth < maxTaskDepth; depth++ {
		for _, e := range cur.TimeEntry {
			if e.CategoryID == category {
				return e.CodeID
			}
		}
		if cur.ParentID == domain.NoParent {
			break
		}
		cur = m.tasks[cur.ParentID]
	}
	return domain.UnknownTimeCode
}

func (m *MicroTask) ReparentTask(id, parentID domain.TaskID) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if err := m.checkParent(id, parentID); err != nil {
		return err
	}
	m.setParent(t, parentID)
	return nil
}

// checkParent reports whether id may move under parentID.
func (m *MicroTask) checkParent(id, parentID domain.TaskID) error {
	if parentID == domain.NoParent {
		return nil
	}
	if _, ok := m.tasks[parentID]; !ok {
		return taskNotFound(parentID)
	}
	// climb from the new parent; meeting id means parentID is a descendant
	cur := parentID
	for depth := 0; cur != domain.NoParent; depth++ {
		if cur == id || depth >= maxTaskDepth {
			return fail(ErrCycle, "Cannot move task %d under its own sub-task %d.", id, parentID)
		}
		next, ok := m.tasks[cur]
		if !ok {
			return nil
		}
		cur = next.ParentID
	}
	return nil
}

func (m *MicroTask) setParent(t *domain.Task, parentID domain.TaskID) {
	if t.ParentID == parentID {
		return
	}
	t.ParentID = parentID
	t.IndexInParent = m.takeIndex(parentID)
}

func (m *MicroTask) RenameTask(id domain.TaskID, name string) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if err := checkTaskText(name, nil); err != nil {
		return err
	}
	t.Name = name
	return nil
}

// SetTimeEntry replaces the codes a task declares. Sessions already
// recorded keep the codes they started with.
func (m *MicroTask) SetTimeEntry(id domain.TaskID, entries []domain.TimeEntry) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if err := m.validateTimeEntry(entries); err != nil {
		return err
	}
	t.TimeEntry = nil
	if len(entries) > 0 {
		t.TimeEntry = append(t.TimeEntry, entries...)
	}
	return nil
}

func (m *MicroTask) SetLocked(id domain.TaskID, locked bool) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	t.Locked = locked
	return nil
}

func (m *MicroTask) SetLabels(id domain.TaskID, labels []string) error {
	t, ok := m.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	if err := checkTaskText("", labels); err != nil {
		return err
	}
	t.Labels = cleanLabels(labels)
	return nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil fields are left
// unchanged.
type TaskUpdateOptions struct {
	ID        domain.TaskID
	ParentID  *domain.TaskID
	Name      *string
	TimeEntry *[]domain.TimeEntry
	Locked    *bool
}

// UpdateTask validates every requested change before applying any of them.
func (m *MicroTask) UpdateTask(opts TaskUpdateOptions) error {
	t, ok := m.tasks[opts.ID]
	if !ok {
		return taskNotFound(opts.ID)
	}
	if opts.ParentID != nil {
		if err := m.checkParent(opts.ID, *opts.ParentID); err != nil {
			return err
		}
	}
	if opts.Name != nil {
		if err := checkTaskText(*opts.Name, nil); err != nil {
			return err
		}
	}
	if opts.TimeEntry != nil {
		if err := m.validateTimeEntry(*opts.TimeEntry); err != nil {
			return err
		}
	}

	if opts.ParentID != nil {
		m.setParent(t, *opts.ParentID)
	}
	if opts.Name != nil {
		t.Name = *opts.Name
	}
	if opts.TimeEntry != nil {
		t.TimeEntry = nil
		if len(*opts.TimeEntry) > 0 {
			t.TimeEntry = append(t.TimeEntry, *opts.TimeEntry...)
		}
	}
	if opts.Locked != nil {
		t.Locked = *opts.Locked
	}
	return nil
}

// Task returns a copy of the task with the given ID.
func (m *MicroTask) Task(id domain.TaskID) (domain.Task, bool) {
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// ActiveTask returns the ID of the active task, if there is one.
func (m *MicroTask) ActiveTask() (domain.TaskID, bool) {
	if _, ok := m.tasks[m.active]; !ok {
		return 0, false
	}
	return m.active, true
}

func (m *MicroTask) TaskCount() int { return len(m.tasks) }

func (m *MicroTask) sortedIDs() []domain.TaskID {
	ids := make([]domain.TaskID, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ForEachTaskSorted calls fn with a copy of every task in ascending ID order.
func (m *MicroTask) ForEachTaskSorted(fn func(domain.Task)) {
	for _, id := range m.sortedIDs() {
		fn(m.tasks[id].Clone())
	}
}

func (m *MicroTask) Tasks() []domain.Task {
	var out []domain.Task
	m.ForEachTaskSorted(func(t domain.Task) { out = append(out, t) })
	return out
}

// Children returns the direct sub-tasks of parent ordered by their index.
func (m *MicroTask) Children(parent domain.TaskID) []domain.Task {
	var out []domain.Task
	for _, id := range m.sortedIDs() {
		if t := m.tasks[id]; t.ParentID == parent {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IndexInParent < out[j].IndexInParent })
	return out
}

// checkTaskText rejects a name or label too long to send to clients.
func checkTaskText(name string, labels []string) error {
	if len(name) > domain.MaxTextLength {
		return fail(ErrInvalidName, "Task name is longer than %d bytes.", domain.MaxTextLength)
	}
	for _, l := range labels {
		if len(l) > domain.MaxTextLength {
			return fail(ErrInvalidName, "Label is longer than %d bytes.", domain.MaxTextLength)
		}
	}
	return nil
}

func cleanLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
