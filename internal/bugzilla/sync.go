package bugzilla

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
)

// noGroupValue names the group task of bugs that leave a field empty.
const noGroupValue = "(none)"

// Fetch requests the bugs of inst changed since its last refresh.
func Fetch(ctx context.Context, f Fetcher, inst domain.BugzillaInstance) ([]Bug, error) {
	u, err := BuildURL(inst, inst.LastRefresh)
	if err != nil {
		return nil, err
	}
	body, err := f.ExecuteRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", inst.Name, err)
	}
	bugs, err := ParseBugs(body)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", inst.Name, err)
	}
	return bugs, nil
}

type syncer struct {
	tasks   *engine.MicroTask
	inst    *domain.BugzillaInstance
	changed map[domain.TaskID]bool
}

// Sync creates, renames, moves and finishes server-controlled tasks so the
// tree under the instance root matches bugs. Bugs are grouped under one
// level of tasks per entry of GroupTasksBy.
func Sync(tasks *engine.MicroTask, inst *domain.BugzillaInstance, bugs []Bug) ([]domain.TaskID, error) {
	s := syncer{tasks: tasks, inst: inst, changed: make(map[domain.TaskID]bool)}
	if inst.BugToTask == nil {
		inst.BugToTask = make(map[int]domain.TaskID)
	}
	if inst.GroupTasks == nil {
		inst.GroupTasks = make(map[string]domain.TaskID)
	}

	root, err := s.ensureRoot()
	if err != nil {
		return s.result(), err
	}
	sorted := append([]Bug(nil), bugs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, b := range sorted {
		if err := s.apply(root, b); err != nil {
			return s.result(), fmt.Errorf("bug %d: %w", b.ID, err)
		}
	}
	return s.result(), nil
}

func (s *syncer) result() []domain.TaskID {
	var out []domain.TaskID
	for id := range s.changed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *syncer) ensureRoot() (domain.TaskID, error) {
	if s.inst.RootTaskID != domain.NoParent {
		if s.usable(s.inst.RootTaskID) {
			return s.inst.RootTaskID, nil
		}
		// groups are rebuilt under the new root
		s.inst.GroupTasks = make(map[string]domain.TaskID)
	}
	id, err := s.tasks.CreateTask(engine.TaskCreateOptions{Name: domain.ClipText(s.inst.Name), ServerControlled: true})
	if err != nil {
		return 0, err
	}
	s.inst.RootTaskID = id
	s.changed[id] = true
	return id, nil
}

// usable reports whether id names a task new sub-tasks can go under.
func (s *syncer) usable(id domain.TaskID) bool {
	t, ok := s.tasks.Task(id)
	return ok && t.State != domain.TaskFinished
}

func (s *syncer) groupParent(root domain.TaskID, b Bug) (domain.TaskID, error) {
	parent := root
	var path []string
	for _, field := range s.inst.GroupTasksBy {
		value := b.Fields[field]
		if value == "" {
			value = noGroupValue
		}
		path = append(path, field+"="+value)
		key := strings.Join(path, "\x1f")
		if id, ok := s.inst.GroupTasks[key]; ok && s.usable(id) {
			parent = id
			continue
		}
		name := domain.ClipText(value)
		if short, ok := s.inst.LabelToGroupShortName[value]; ok && short != "" {
			name = domain.ClipText(short)
		}
		id, err := s.tasks.CreateTask(engine.TaskCreateOptions{Name: name, ParentID: parent, ServerControlled: true})
		if err != nil {
			return 0, err
		}
		s.inst.GroupTasks[key] = id
		s.changed[id] = true
		parent = id
	}
	return parent, nil
}

func (s *syncer) apply(root domain.TaskID, b Bug) error {
	id, known := s.inst.BugToTask[b.ID]
	var task domain.Task
	if known {
		task, known = s.tasks.Task(id)
	}
	if !known && b.Resolved() {
		return nil
	}
	if known && task.State == domain.TaskFinished {
		return nil
	}

	parent, err := s.groupParent(root, b)
	if err != nil {
		return err
	}
	if !known {
		id, err = s.tasks.CreateTask(engine.TaskCreateOptions{Name: domain.ClipText(b.TaskName()), ParentID: parent, ServerControlled: true})
		if err != nil {
			return err
		}
		s.inst.BugToTask[b.ID] = id
		s.changed[id] = true
		return nil
	}

	if name := domain.ClipText(b.TaskName()); task.Name != name {
		if err := s.tasks.RenameTask(id, name); err != nil {
			return err
		}
		s.changed[id] = true
	}
	if task.ParentID != parent {
		if err := s.tasks.ReparentTask(id, parent); err != nil {
			return err
		}
		s.changed[id] = true
	}
	if b.Resolved() {
		if err := s.tasks.FinishTask(id); err != nil {
			return err
		}
		s.changed[id] = true
	}
	return nil
}
