package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/bugzilla"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

var errRefreshRunning = errors.New("refresh already running")

func (a *API) configureBugzilla(ctx context.Context, m packets.BugzillaInfoMessage) []packets.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidate := domain.BugzillaInstance{
		ID:                    m.InstanceID,
		Name:                  m.Name,
		URL:                   m.URL,
		APIKey:                m.APIKey,
		Username:              m.Username,
		RootTaskID:            m.RootTaskID,
		GroupTasksBy:          m.GroupTasksBy,
		LabelToGroupShortName: m.LabelToGroupShortName,
	}
	if _, err := bugzilla.BuildURL(candidate, nil); err != nil {
		return []packets.Message{failure(m.RequestID, fmt.Sprintf("Invalid Bugzilla URL '%s'.", m.URL))}
	}
	if m.RootTaskID != domain.NoParent {
		if _, ok := a.tasks.Task(m.RootTaskID); !ok {
			return []packets.Message{failure(m.RequestID, fmt.Sprintf("Task with ID %d does not exist.", m.RootTaskID))}
		}
	}

	inst, ok := a.instances[m.InstanceID]
	switch {
	case m.InstanceID == 0:
		candidate.ID = a.nextInstanceID
		a.nextInstanceID = candidate.ID.Next()
		c := candidate.Clone()
		inst = &c
		a.instances[inst.ID] = inst
	case !ok:
		return []packets.Message{failure(m.RequestID, fmt.Sprintf("Bugzilla instance with ID %d does not exist.", m.InstanceID))}
	default:
		// sync state survives reconfiguration
		candidate.BugToTask = inst.BugToTask
		candidate.GroupTasks = inst.GroupTasks
		candidate.LastRefresh = inst.LastRefresh
		*inst = candidate.Clone()
	}
	a.persistInstance(ctx, inst)
	return []packets.Message{success(m.RequestID), packets.NewBugzillaInfo(*inst)}
}

func (a *API) refreshBugzilla(ctx context.Context, m packets.BugzillaRefreshMessage) []packets.Message {
	changed, err := a.refresh(ctx, m.InstanceID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		out := []packets.Message{failure(m.RequestID, refreshFailureText(m.InstanceID, err))}
		// tasks changed before the failure are still sent
		if len(changed) > 0 {
			out = append(out, a.bulkUpdate(changed)...)
		}
		return out
	}
	return append([]packets.Message{success(m.RequestID)}, a.bulkUpdate(changed)...)
}

func refreshFailureText(id domain.BugzillaInstanceID, err error) string {
	var notFound instanceNotFound
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	return fmt.Sprintf("Failed to refresh Bugzilla instance %d: %v", id, err)
}

type instanceNotFound domain.BugzillaInstanceID

func (e instanceNotFound) Error() string {
	return fmt.Sprintf("Bugzilla instance with ID %d does not exist.", int32(e))
}

// bulkUpdate wraps the infos of changed tasks in bulk update markers.
func (a *API) bulkUpdate(changed []domain.TaskID) []packets.Message {
	out := []packets.Message{packets.BasicMessage{PacketType: packets.BulkTaskUpdateStart}}
	for _, id := range changed {
		out = append(out, a.taskInfo(id, false))
	}
	return append(out, packets.BasicMessage{PacketType: packets.BulkTaskUpdateFinish})
}

// refresh queries the issue tracker without holding the model lock, then
// applies the result under it. Tasks changed before a sync error are
// returned with the error.
func (a *API) refresh(ctx context.Context, id domain.BugzillaInstanceID) ([]domain.TaskID, error) {
	a.mu.Lock()
	inst, ok := a.instances[id]
	if !ok {
		a.mu.Unlock()
		return nil, instanceNotFound(id)
	}
	if a.refreshing[id] {
		a.mu.Unlock()
		return nil, errRefreshRunning
	}
	a.refreshing[id] = true
	snapshot := inst.Clone()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.refreshing, id)
		a.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, a.refreshTimeout)
	defer cancel()
	started := a.now()
	bugs, err := bugzilla.Fetch(fetchCtx, a.fetcher, snapshot)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	inst, ok = a.instances[id]
	if !ok {
		return nil, instanceNotFound(id)
	}
	changed, err := bugzilla.Sync(a.tasks, inst, bugs)
	if err == nil {
		inst.LastRefresh = &started
	}

	if txErr := a.db.StartTransaction(ctx); txErr != nil {
		a.log.Error("start transaction", "err", txErr)
	}
	a.persistTasks(ctx, changed...)
	a.persistInstance(ctx, inst)
	if txErr := a.db.FinishTransaction(ctx); txErr != nil {
		a.log.Error("finish transaction", "err", txErr)
	}

	if err != nil {
		return changed, err
	}
	a.log.Info("bugzilla refreshed", "instance", int32(id), "bugs", len(bugs), "changed", len(changed))
	return changed, nil
}

// RefreshAll refreshes every configured instance and returns the
// notifications to broadcast, or nil when nothing changed.
func (a *API) RefreshAll(ctx context.Context) []packets.Message {
	a.mu.Lock()
	var ids []domain.BugzillaInstanceID
	for _, b := range a.sortedInstances() {
		ids = append(ids, b.ID)
	}
	a.mu.Unlock()

	seen := make(map[domain.TaskID]bool)
	var all []domain.TaskID
	for _, id := range ids {
		changed, err := a.refresh(ctx, id)
		if err != nil {
			a.log.Warn("bugzilla refresh failed", "instance", int32(id), "err", err)
		}
		for _, t := range changed {
			if !seen[t] {
				seen[t] = true
				all = append(all, t)
			}
		}
	}
	if len(all) == 0 {
		return nil
	}
	sortTaskIDs(all)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bulkUpdate(all)
}
