package api

import (
	"sort"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

// The read helpers below serve the admin HTTP API and the CLI. They
// return copies.

func (a *API) Tasks() []domain.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.Tasks()
}

func (a *API) Task(id domain.TaskID) (domain.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.Task(id)
}

func (a *API) ActiveTask() (domain.TaskID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.ActiveTask()
}

func (a *API) TimeCategories() []domain.TimeCategory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.TimeCategories()
}

func (a *API) DailyReport(month, day, year int) (domain.DailyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.DailyReport(month, day, year)
}

func (a *API) WeeklyReport(month, day, year int) (domain.WeeklyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasks.WeeklyReport(month, day, year)
}

func (a *API) BugzillaInstances() []domain.BugzillaInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.BugzillaInstance
	for _, b := range a.sortedInstances() {
		out = append(out, b.Clone())
	}
	return out
}

func sortTaskIDs(ids []domain.TaskID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
