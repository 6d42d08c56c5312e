package api

import (
	"context"
	"fmt"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

func (a *API) createTask(ctx context.Context, m packets.CreateTaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, err := a.tasks.CreateTask(engine.TaskCreateOptions{
		Name:      m.Name,
		ParentID:  m.ParentID,
		Labels:    m.Labels,
		TimeEntry: m.TimeEntry,
	})
	if err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	a.persistTasks(ctx, id)
	return []packets.Message{success(m.RequestID), a.taskInfo(id, true)}
}

func (a *API) startTask(ctx context.Context, m packets.TaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	previous, err := a.tasks.StartTask(m.TaskID)
	if err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	out := []packets.Message{success(m.RequestID)}
	if previous != 0 {
		a.persistTasks(ctx, previous)
		out = append(out, a.taskInfo(previous, false))
	}
	a.persistTasks(ctx, m.TaskID)
	return append(out, a.taskInfo(m.TaskID, false))
}

func (a *API) stopTask(ctx context.Context, m packets.TaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.tasks.StopTask(m.TaskID); err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	a.persistTasks(ctx, m.TaskID)
	return []packets.Message{success(m.RequestID), a.taskInfo(m.TaskID, false)}
}

func (a *API) finishTask(ctx context.Context, m packets.TaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.tasks.FinishTask(m.TaskID); err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	a.persistTasks(ctx, m.TaskID)
	return []packets.Message{success(m.RequestID), a.taskInfo(m.TaskID, false)}
}

func (a *API) requestTask(m packets.TaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks.Task(m.TaskID); !ok {
		return []packets.Message{failure(m.RequestID, fmt.Sprintf("Task with ID %d does not exist.", m.TaskID))}
	}
	return []packets.Message{success(m.RequestID), a.taskInfo(m.TaskID, false)}
}

func (a *API) updateTask(ctx context.Context, m packets.UpdateTaskMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	opts := engine.TaskUpdateOptions{
		ID:       m.TaskID,
		ParentID: &m.ParentID,
		Name:     &m.Name,
		Locked:   m.Locked,
	}
	if m.UpdateTimeEntry {
		opts.TimeEntry = &m.TimeEntry
	}
	if err := a.tasks.UpdateTask(opts); err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	a.persistTasks(ctx, m.TaskID)
	return []packets.Message{success(m.RequestID), a.taskInfo(m.TaskID, false)}
}

// configuration dumps the whole model: time categories, every task by
// ascending ID, issue tracker instances, then the completion marker.
func (a *API) configuration() []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []packets.Message{a.timeEntryData()}
	a.tasks.ForEachTaskSorted(func(t domain.Task) {
		out = append(out, packets.NewTaskInfo(t, false))
	})
	for _, b := range a.sortedInstances() {
		out = append(out, packets.NewBugzillaInfo(*b))
	}
	return append(out, packets.BasicMessage{PacketType: packets.RequestConfigurationComplete})
}

func (a *API) modifyTimeEntry(ctx context.Context, m packets.TimeEntryModifyPacket) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	switch m.Action {
	case packets.AddTimeCategory:
		_, err = a.tasks.AddTimeCategory(m.Name, m.Label)
	case packets.UpdateTimeCategory:
		err = a.tasks.UpdateTimeCategory(m.CategoryID, m.Name, m.Label, m.Archive)
	case packets.RemoveTimeCategory:
		if err = a.tasks.RemoveTimeCategory(m.CategoryID); err == nil {
			if dbErr := a.db.RemoveTimeCategory(ctx, m.CategoryID); dbErr != nil {
				a.log.Error("persist time category removal", "category", int32(m.CategoryID), "err", dbErr)
			}
		}
	case packets.AddTimeCode:
		_, err = a.tasks.AddTimeCode(m.CategoryID, m.Name)
	case packets.UpdateTimeCode:
		err = a.tasks.UpdateTimeCode(m.CategoryID, m.CodeID, m.Name, m.Archive)
	case packets.RemoveTimeCode:
		if err = a.tasks.RemoveTimeCode(m.CategoryID, m.CodeID); err == nil {
			if dbErr := a.db.RemoveTimeCode(ctx, m.CategoryID, m.CodeID); dbErr != nil {
				a.log.Error("persist time code removal", "code", int32(m.CodeID), "err", dbErr)
			}
		}
	default:
		return []packets.Message{failure(m.RequestID, fmt.Sprintf("Unsupported time entry action %d.", int32(m.Action)))}
	}
	if err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	a.persistTimeEntryConfig(ctx)
	return []packets.Message{success(m.RequestID), a.timeEntryData()}
}

func (a *API) dailyReport(m packets.RequestDailyReportMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.tasks.DailyReport(m.Month, m.Day, m.Year)
	if err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	return []packets.Message{success(m.RequestID), packets.DailyReportMessage{RequestID: m.RequestID, Report: r}}
}

func (a *API) weeklyReport(m packets.RequestWeeklyReportMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, err := a.tasks.WeeklyReport(m.Month, m.Day, m.Year)
	if err != nil {
		return []packets.Message{failure(m.RequestID, err.Error())}
	}
	return []packets.Message{success(m.RequestID), packets.WeeklyReportMessage{RequestID: m.RequestID, Report: r}}
}
