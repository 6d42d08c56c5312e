// Package api turns decoded requests into task model operations and the
// ordered messages each client must receive in reply.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/bugzilla"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

// Database durably records every change the API makes.
type Database interface {
	WriteTask(ctx context.Context, t domain.Task) error
	WriteBugzillaInstance(ctx context.Context, b domain.BugzillaInstance) error
	WriteTimeEntryConfig(ctx context.Context, categories []domain.TimeCategory) error
	RemoveTimeCategory(ctx context.Context, id domain.TimeCategoryID) error
	RemoveTimeCode(ctx context.Context, category domain.TimeCategoryID, id domain.TimeCodeID) error
	WriteNextTaskID(ctx context.Context, id domain.TaskID) error
	WriteNextTimeCategoryID(ctx context.Context, id domain.TimeCategoryID) error
	WriteNextTimeCodeID(ctx context.Context, id domain.TimeCodeID) error
	WriteNextBugzillaInstanceID(ctx context.Context, id domain.BugzillaInstanceID) error
	StartTransaction(ctx context.Context) error
	FinishTransaction(ctx context.Context) error
}

// State is everything a Database loads at startup.
type State struct {
	Tasks                  engine.Snapshot
	Bugzilla               []domain.BugzillaInstance
	NextBugzillaInstanceID domain.BugzillaInstanceID
}

type Options struct {
	Tasks    *engine.MicroTask
	Database Database
	Fetcher  bugzilla.Fetcher
	Logger   *slog.Logger
	// bounds one issue tracker request; zero means 30 seconds
	RefreshTimeout time.Duration
}

// API serializes every operation on the task model behind one lock.
type API struct {
	mu             sync.Mutex
	tasks          *engine.MicroTask
	db             Database
	fetcher        bugzilla.Fetcher
	log            *slog.Logger
	refreshTimeout time.Duration

	instances      map[domain.BugzillaInstanceID]*domain.BugzillaInstance
	nextInstanceID domain.BugzillaInstanceID
	// instances with a refresh in flight
	refreshing map[domain.BugzillaInstanceID]bool
}

func New(opts Options) *API {
	a := &API{
		tasks:          opts.Tasks,
		db:             opts.Database,
		fetcher:        opts.Fetcher,
		log:            opts.Logger,
		refreshTimeout: opts.RefreshTimeout,
		instances:      make(map[domain.BugzillaInstanceID]*domain.BugzillaInstance),
		nextInstanceID: 1,
		refreshing:     make(map[domain.BugzillaInstanceID]bool),
	}
	if a.tasks == nil {
		a.tasks = engine.New()
	}
	if a.db == nil {
		a.db = NopDatabase{}
	}
	if a.fetcher == nil {
		a.fetcher = bugzilla.NewClient(a.refreshTimeout)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.refreshTimeout <= 0 {
		a.refreshTimeout = 30 * time.Second
	}
	return a
}

// Load replaces the in-memory state with s.
func (a *API) Load(s State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.tasks.Restore(s.Tasks); err != nil {
		return err
	}
	a.instances = make(map[domain.BugzillaInstanceID]*domain.BugzillaInstance, len(s.Bugzilla))
	a.nextInstanceID = max(s.NextBugzillaInstanceID, 1)
	for _, b := range s.Bugzilla {
		if b.ID == 0 {
			return fmt.Errorf("%w: bugzilla instance ID 0", engine.ErrInvalidSnapshot)
		}
		c := b.Clone()
		a.instances[b.ID] = &c
		if b.ID >= a.nextInstanceID {
			a.nextInstanceID = b.ID.Next()
		}
	}
	return nil
}

// Process handles one message and returns the replies in send order. A
// request always yields a SuccessResponse or FailureResponse first.
func (a *API) Process(ctx context.Context, msg packets.Message) []packets.Message {
	switch m := msg.(type) {
	case packets.CreateTaskMessage:
		return a.createTask(ctx, m)
	case packets.TaskMessage:
		switch m.PacketType {
		case packets.StartTask:
			return a.startTask(ctx, m)
		case packets.StopTask:
			return a.stopTask(ctx, m)
		case packets.FinishTask:
			return a.finishTask(ctx, m)
		case packets.RequestTask:
			return a.requestTask(m)
		}
		return []packets.Message{failure(m.RequestID, fmt.Sprintf("Unsupported task action %s.", m.PacketType))}
	case packets.UpdateTaskMessage:
		return a.updateTask(ctx, m)
	case packets.BasicMessage:
		if m.PacketType == packets.RequestConfiguration {
			return a.configuration()
		}
	case packets.TimeEntryModifyPacket:
		return a.modifyTimeEntry(ctx, m)
	case packets.RequestDailyReportMessage:
		return a.dailyReport(m)
	case packets.RequestWeeklyReportMessage:
		return a.weeklyReport(m)
	case packets.BugzillaInfoMessage:
		return a.configureBugzilla(ctx, m)
	case packets.BugzillaRefreshMessage:
		return a.refreshBugzilla(ctx, m)
	case packets.TaskInfoMessage, packets.SuccessResponse, packets.FailureResponse,
		packets.DailyReportMessage, packets.WeeklyReportMessage, packets.TimeEntryDataPacket:
	}
	a.log.Warn("ignoring message a client should not send", "type", msg.Type().String())
	return nil
}

func (a *API) now() time.Time {
	if a.tasks.Now != nil {
		return time.UnixMilli(a.tasks.Now().UnixMilli())
	}
	return time.UnixMilli(time.Now().UnixMilli())
}

func failure(id domain.RequestID, text string) packets.Message {
	return packets.FailureResponse{RequestID: id, Message: text}
}

func success(id domain.RequestID) packets.Message {
	return packets.SuccessResponse{RequestID: id}
}

func (a *API) taskInfo(id domain.TaskID, newTask bool) packets.Message {
	t, _ := a.tasks.Task(id)
	return packets.NewTaskInfo(t, newTask)
}

func (a *API) timeEntryData() packets.Message {
	return packets.TimeEntryDataPacket{Categories: a.tasks.TimeCategories()}
}

func (a *API) sortedInstances() []*domain.BugzillaInstance {
	out := make([]*domain.BugzillaInstance, 0, len(a.instances))
	for _, b := range a.instances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persistTasks writes the given tasks and the task ID counter. Failures
// are logged; the in-memory model stays authoritative.
func (a *API) persistTasks(ctx context.Context, ids ...domain.TaskID) {
	for _, id := range ids {
		t, ok := a.tasks.Task(id)
		if !ok {
			continue
		}
		if err := a.db.WriteTask(ctx, t); err != nil {
			a.log.Error("persist task", "task", int32(id), "err", err)
		}
	}
	if err := a.db.WriteNextTaskID(ctx, a.tasks.NextTaskID()); err != nil {
		a.log.Error("persist next task id", "err", err)
	}
}

func (a *API) persistTimeEntryConfig(ctx context.Context) {
	if err := a.db.WriteTimeEntryConfig(ctx, a.tasks.TimeCategories()); err != nil {
		a.log.Error("persist time entry config", "err", err)
	}
	if err := a.db.WriteNextTimeCategoryID(ctx, a.tasks.NextTimeCategoryID()); err != nil {
		a.log.Error("persist next time category id", "err", err)
	}
	if err := a.db.WriteNextTimeCodeID(ctx, a.tasks.NextTimeCodeID()); err != nil {
		a.log.Error("persist next time code id", "err", err)
	}
}

func (a *API) persistInstance(ctx context.Context, b *domain.BugzillaInstance) {
	if err := a.db.WriteBugzillaInstance(ctx, b.Clone()); err != nil {
		a.log.Error("persist bugzilla instance", "instance", int32(b.ID), "err", err)
	}
	if err := a.db.WriteNextBugzillaInstanceID(ctx, a.nextInstanceID); err != nil {
		a.log.Error("persist next bugzilla instance id", "err", err)
	}
}

// NopDatabase discards every write.
type NopDatabase struct{}

func (NopDatabase) WriteTask(context.Context, domain.Task) error                         { return nil }
func (NopDatabase) WriteBugzillaInstance(context.Context, domain.BugzillaInstance) error { return nil }
func (NopDatabase) WriteTimeEntryConfig(context.Context, []domain.TimeCategory) error    { return nil }
func (NopDatabase) RemoveTimeCategory(context.Context, domain.TimeCategoryID) error      { return nil }
func (NopDatabase) RemoveTimeCode(context.Context, domain.TimeCategoryID, domain.TimeCodeID) error {
	return nil
}
func (NopDatabase) WriteNextTaskID(context.Context, domain.TaskID) error                 { return nil }
func (NopDatabase) WriteNextTimeCategoryID(context.Context, domain.TimeCategoryID) error { return nil }
func (NopDatabase) WriteNextTimeCodeID(context.Context, domain.TimeCodeID) error         { return nil }
func (NopDatabase) WriteNextBugzillaInstanceID(context.Context, domain.BugzillaInstanceID) error {
	return nil
}
func (NopDatabase) StartTransaction(context.Context) error  { return nil }
func (NopDatabase) FinishTransaction(context.Context) error { return nil }
