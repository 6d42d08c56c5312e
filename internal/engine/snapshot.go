package engine

import (
	"fmt"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

// Snapshot is the persistent state of a MicroTask.
type Snapshot struct {
	Tasks              []domain.Task
	Categories         []domain.TimeCategory
	NextTaskID         domain.TaskID
	NextTimeCategoryID domain.TimeCategoryID
	NextTimeCodeID     domain.TimeCodeID
}

func (m *MicroTask) Snapshot() Snapshot {
	s := Snapshot{
		Tasks:              m.Tasks(),
		NextTaskID:         m.nextTaskID,
		NextTimeCategoryID: m.nextCategoryID,
		NextTimeCodeID:     m.nextCodeID,
	}
	for _, c := range m.categories {
		s.Categories = append(s.Categories, c.Clone())
	}
	return s
}

// Restore replaces the whole model with s. Tasks keep the state they were
// saved with, finished or not. Counters lower than an ID already in use
// are raised past it.
func (m *MicroTask) Restore(s Snapshot) error {
	tasks := make(map[domain.TaskID]*domain.Task, len(s.Tasks))
	nextIndex := make(map[domain.TaskID]int32)
	var active domain.TaskID
	nextTask := max(s.NextTaskID, 1)

	for _, t := range s.Tasks {
		if t.ID == domain.NoParent {
			return fmt.Errorf("%w: task ID 0", ErrInvalidSnapshot)
		}
		if _, dup := tasks[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task %d", ErrInvalidSnapshot, t.ID)
		}
		c := t.Clone()
		tasks[t.ID] = &c
		if t.State == domain.TaskActive {
			if active != 0 {
				return fmt.Errorf("%w: tasks %d and %d are both active", ErrInvalidSnapshot, active, t.ID)
			}
			active = t.ID
		}
		if t.ID >= nextTask {
			nextTask = t.ID.Next()
		}
		if t.IndexInParent >= nextIndex[t.ParentID] {
			nextIndex[t.ParentID] = t.IndexInParent + 1
		}
	}
	for _, t := range tasks {
		cur := t.ParentID
		for depth := 0; cur != domain.NoParent; depth++ {
			parent, ok := tasks[cur]
			if !ok {
				return fmt.Errorf("%w: task %d has missing parent %d", ErrInvalidSnapshot, t.ID, cur)
			}
			if cur == t.ID || depth >= maxTaskDepth {
				return fmt.Errorf("%w: task %d is its own ancestor", ErrInvalidSnapshot, t.ID)
			}
			cur = parent.ParentID
		}
	}

	nextCategory := max(s.NextTimeCategoryID, 1)
	nextCode := max(s.NextTimeCodeID, 1)
	var categories []domain.TimeCategory
	for _, c := range s.Categories {
		if c.ID >= nextCategory {
			nextCategory = c.ID.Next()
		}
		for _, code := range c.Codes {
			if code.ID >= nextCode {
				nextCode = code.ID.Next()
			}
		}
		categories = append(categories, c.Clone())
	}

	m.tasks = tasks
	m.nextIndex = nextIndex
	m.active = active
	m.categories = categories
	m.nextTaskID = nextTask
	m.nextCategoryID = nextCategory
	m.nextCodeID = nextCode
	return nil
}
