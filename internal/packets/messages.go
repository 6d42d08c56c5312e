package packets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/wire"
)

// Message is one decoded packet. The set of implementations is closed;
// consumers switch over the concrete types.
type Message interface {
	Type() PacketType
	Pack() []byte
	String() string
	isMessage()
}

// Request is a message that must be answered with exactly one
// SuccessResponse or FailureResponse carrying its request ID.
type Request interface {
	Message
	Request() domain.RequestID
}

type CreateTaskMessage struct {
	RequestID domain.RequestID
	ParentID  domain.TaskID
	Name      string
	Labels    []string
	TimeEntry []domain.TimeEntry
}

func (CreateTaskMessage) Type() PacketType            { return CreateTask }
func (m CreateTaskMessage) Request() domain.RequestID { return m.RequestID }
func (CreateTaskMessage) isMessage()                  {}

func (m CreateTaskMessage) Pack() []byte {
	b := wire.NewBuilder(int32(CreateTask))
	b.Int32(int32(m.RequestID))
	b.Int32(int32(m.ParentID))
	b.String(m.Name)
	writeStrings(b, m.Labels)
	writeTimeEntries(b, m.TimeEntry)
	return b.Build()
}

func (m CreateTaskMessage) String() string {
	return fmt.Sprintf("CreateTaskMessage { requestID: %d, parentID: %d, name: %q, labels: %s, timeEntry: %s }",
		m.RequestID, m.ParentID, m.Name, formatStrings(m.Labels), formatTimeEntries(m.TimeEntry))
}

func unpackCreateTask(_ PacketType, p *wire.Parser) (Message, error) {
	m := CreateTaskMessage{
		RequestID: domain.RequestID(p.Int32()),
		ParentID:  domain.TaskID(p.Int32()),
		Name:      p.String(),
	}
	m.Labels = readStrings(p)
	m.TimeEntry = readTimeEntries(p)
	return m, nil
}

// TaskMessage is a request naming a single task. Its packet type selects
// the action: StartTask, StopTask, FinishTask or RequestTask.
type TaskMessage struct {
	PacketType PacketType
	RequestID  domain.RequestID
	TaskID     domain.TaskID
}

func (m TaskMessage) Type() PacketType          { return m.PacketType }
func (m TaskMessage) Request() domain.RequestID { return m.RequestID }
func (TaskMessage) isMessage()                  {}

func (m TaskMessage) Pack() []byte {
	return wire.NewBuilder(int32(m.PacketType)).
		Int32(int32(m.RequestID)).
		Int32(int32(m.TaskID)).
		Build()
}

func (m TaskMessage) String() string {
	return fmt.Sprintf("TaskMessage { packetType: %s, requestID: %d, taskID: %d }", m.PacketType, m.RequestID, m.TaskID)
}

func unpackTaskMessage(t PacketType, p *wire.Parser) (Message, error) {
	return TaskMessage{
		PacketType: t,
		RequestID:  domain.RequestID(p.Int32()),
		TaskID:     domain.TaskID(p.Int32()),
	}, nil
}

// UpdateTaskMessage changes the parent and name of a task and, when
// UpdateTimeEntry or Locked are set, its time entry and lock flag.
type UpdateTaskMessage struct {
	RequestID       domain.RequestID
	TaskID          domain.TaskID
	ParentID        domain.TaskID
	Name            string
	UpdateTimeEntry bool
	TimeEntry       []domain.TimeEntry
	Locked          *bool
}

func (UpdateTaskMessage) Type() PacketType            { return UpdateTask }
func (m UpdateTaskMessage) Request() domain.RequestID { return m.RequestID }
func (UpdateTaskMessage) isMessage()                  {}

func (m UpdateTaskMessage) Pack() []byte {
	b := wire.NewBuilder(int32(UpdateTask))
	b.Int32(int32(m.RequestID))
	b.Int32(int32(m.TaskID))
	b.Int32(int32(m.ParentID))
	b.String(m.Name)
	b.Bool(m.UpdateTimeEntry)
	if m.UpdateTimeEntry {
		writeTimeEntries(b, m.TimeEntry)
	}
	b.Bool(m.Locked != nil)
	if m.Locked != nil {
		b.Bool(*m.Locked)
	}
	return b.Build()
}

func (m UpdateTaskMessage) String() string {
	timeEntry := "<unchanged>"
	if m.UpdateTimeEntry {
		timeEntry = formatTimeEntries(m.TimeEntry)
	}
	locked := "<unchanged>"
	if m.Locked != nil {
		locked = fmt.Sprint(*m.Locked)
	}
	return fmt.Sprintf("UpdateTaskMessage { requestID: %d, taskID: %d, parentID: %d, name: %q, timeEntry: %s, locked: %s }",
		m.RequestID, m.TaskID, m.ParentID, m.Name, timeEntry, locked)
}

func unpackUpdateTask(_ PacketType, p *wire.Parser) (Message, error) {
	m := UpdateTaskMessage{
		RequestID: domain.RequestID(p.Int32()),
		TaskID:    domain.TaskID(p.Int32()),
		ParentID:  domain.TaskID(p.Int32()),
		Name:      p.String(),
	}
	if m.UpdateTimeEntry = p.Bool(); m.UpdateTimeEntry {
		m.TimeEntry = readTimeEntries(p)
	}
	if p.Bool() {
		locked := p.Bool()
		m.Locked = &locked
	}
	return m, nil
}

// TaskInfoMessage carries the full state of one task.
type TaskInfoMessage struct {
	TaskID           domain.TaskID
	ParentID         domain.TaskID
	State            domain.TaskState
	NewTask          bool
	IndexInParent    int32
	ServerControlled bool
	Locked           bool
	Name             string
	Labels           []string
	CreateTime       time.Time
	FinishTime       *time.Time
	Times            []domain.TaskTimes
	TimeEntry        []domain.TimeEntry
}

// NewTaskInfo describes t. The task is copied so later mutations do not
// leak into the message.
func NewTaskInfo(t domain.Task, newTask bool) TaskInfoMessage {
	c := t.Clone()
	return TaskInfoMessage{
		TaskID:           c.ID,
		ParentID:         c.ParentID,
		State:            c.State,
		NewTask:          newTask,
		IndexInParent:    c.IndexInParent,
		ServerControlled: c.ServerControlled,
		Locked:           c.Locked,
		Name:             c.Name,
		Labels:           c.Labels,
		CreateTime:       c.CreateTime,
		FinishTime:       c.FinishTime,
		Times:            c.Times,
		TimeEntry:        c.TimeEntry,
	}
}

func (TaskInfoMessage) Type() PacketType { return TaskInfo }
func (TaskInfoMessage) isMessage()       {}

func (m TaskInfoMessage) Pack() []byte {
	b := wire.NewBuilder(int32(TaskInfo))
	b.Int32(int32(m.TaskID))
	b.Int32(int32(m.ParentID))
	b.Int32(int32(m.State))
	b.Bool(m.NewTask)
	b.Int32(m.IndexInParent)
	b.Bool(m.ServerControlled)
	b.Bool(m.Locked)
	b.String(m.Name)
	writeStrings(b, m.Labels)
	b.Time(m.CreateTime)
	writeOptionalTime(b, m.FinishTime)
	b.Int32(int32(len(m.Times)))
	for _, tt := range m.Times {
		b.Time(tt.Start)
		writeOptionalTime(b, tt.Stop)
		writeTimeEntries(b, tt.TimeEntry)
	}
	writeTimeEntries(b, m.TimeEntry)
	return b.Build()
}

func (m TaskInfoMessage) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TaskInfoMessage { taskID: %d, parentID: %d, state: %s, newTask: %t, indexInParent: %d, serverControlled: %t, locked: %t, name: %q, labels: %s, createTime: %d, finishTime: %s, times: [",
		m.TaskID, m.ParentID, m.State, m.NewTask, m.IndexInParent, m.ServerControlled, m.Locked, m.Name,
		formatStrings(m.Labels), m.CreateTime.UnixMilli(), formatOptionalTime(m.FinishTime))
	for i, tt := range m.Times {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "{ start: %d, stop: %s, timeEntry: %s }", tt.Start.UnixMilli(), formatOptionalTime(tt.Stop), formatTimeEntries(tt.TimeEntry))
	}
	fmt.Fprintf(&sb, "], timeEntry: %s }", formatTimeEntries(m.TimeEntry))
	return sb.String()
}

func unpackTaskInfo(_ PacketType, p *wire.Parser) (Message, error) {
	m := TaskInfoMessage{
		TaskID:           domain.TaskID(p.Int32()),
		ParentID:         domain.TaskID(p.Int32()),
		State:            domain.TaskState(p.Int32()),
		NewTask:          p.Bool(),
		IndexInParent:    p.Int32(),
		ServerControlled: p.Bool(),
		Locked:           p.Bool(),
		Name:             p.String(),
	}
	m.Labels = readStrings(p)
	m.CreateTime = p.Time()
	m.FinishTime = readOptionalTime(p)
	n := p.Count(13)
	for i := 0; i < n && p.Err() == nil; i++ {
		tt := domain.TaskTimes{Start: p.Time()}
		tt.Stop = readOptionalTime(p)
		tt.TimeEntry = readTimeEntries(p)
		m.Times = append(m.Times, tt)
	}
	m.TimeEntry = readTimeEntries(p)
	if p.Err() == nil && (m.State < domain.TaskInactive || m.State > domain.TaskFinished) {
		return nil, fmt.Errorf("invalid task state %d", int32(m.State))
	}
	return m, nil
}

type SuccessResponse struct {
	RequestID domain.RequestID
}

func (SuccessResponse) Type() PacketType { return SuccessResponseType }
func (SuccessResponse) isMessage()       {}

func (m SuccessResponse) Pack() []byte {
	return wire.NewBuilder(int32(SuccessResponseType)).Int32(int32(m.RequestID)).Build()
}

func (m SuccessResponse) String() string {
	return fmt.Sprintf("SuccessResponse { requestID: %d }", m.RequestID)
}

func unpackSuccess(_ PacketType, p *wire.Parser) (Message, error) {
	return SuccessResponse{RequestID: domain.RequestID(p.Int32())}, nil
}

type FailureResponse struct {
	RequestID domain.RequestID
	Message   string
}

func (FailureResponse) Type() PacketType { return FailureResponseType }
func (FailureResponse) isMessage()       {}

func (m FailureResponse) Pack() []byte {
	return wire.NewBuilder(int32(FailureResponseType)).
		Int32(int32(m.RequestID)).
		String(m.Message).
		Build()
}

func (m FailureResponse) String() string {
	return fmt.Sprintf("FailureResponse { requestID: %d, message: %q }", m.RequestID, m.Message)
}

func unpackFailure(_ PacketType, p *wire.Parser) (Message, error) {
	return FailureResponse{
		RequestID: domain.RequestID(p.Int32()),
		Message:   p.String(),
	}, nil
}

// BasicMessage is a signal without payload.
type BasicMessage struct {
	PacketType PacketType
}

func (m BasicMessage) Type() PacketType { return m.PacketType }
func (BasicMessage) isMessage()         {}

func (m BasicMessage) Pack() []byte {
	return wire.NewBuilder(int32(m.PacketType)).Build()
}

func (m BasicMessage) String() string {
	return fmt.Sprintf("BasicMessage { packetType: %s }", m.PacketType)
}

func unpackBasic(t PacketType, _ *wire.Parser) (Message, error) {
	return BasicMessage{PacketType: t}, nil
}

// BugzillaInfoMessage configures an issue-tracker instance when sent by a
// client and describes one when sent by the server.
type BugzillaInfoMessage struct {
	RequestID             domain.RequestID
	InstanceID            domain.BugzillaInstanceID
	Name                  string
	URL                   string
	APIKey                string
	Username              string
	RootTaskID            domain.TaskID
	GroupTasksBy          []string
	LabelToGroupShortName map[string]string
}

// NewBugzillaInfo describes a configured instance.
func NewBugzillaInfo(b domain.BugzillaInstance) BugzillaInfoMessage {
	c := b.Clone()
	return BugzillaInfoMessage{
		InstanceID:            c.ID,
		Name:                  c.Name,
		URL:                   c.URL,
		APIKey:                c.APIKey,
		Username:              c.Username,
		RootTaskID:            c.RootTaskID,
		GroupTasksBy:          c.GroupTasksBy,
		LabelToGroupShortName: c.LabelToGroupShortName,
	}
}

func (BugzillaInfoMessage) Type() PacketType            { return BugzillaInfo }
func (m BugzillaInfoMessage) Request() domain.RequestID { return m.RequestID }
func (BugzillaInfoMessage) isMessage()                  {}

func (m BugzillaInfoMessage) Pack() []byte {
	b := wire.NewBuilder(int32(BugzillaInfo))
	b.Int32(int32(m.RequestID))
	b.Int32(int32(m.InstanceID))
	b.String(m.Name)
	b.String(m.URL)
	b.String(m.APIKey)
	b.String(m.Username)
	b.Int32(int32(m.RootTaskID))
	writeStrings(b, m.GroupTasksBy)
	keys := make([]string, 0, len(m.LabelToGroupShortName))
	for k := range m.LabelToGroupShortName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.Int32(int32(len(keys)))
	for _, k := range keys {
		b.String(k)
		b.String(m.LabelToGroupShortName[k])
	}
	return b.Build()
}

func (m BugzillaInfoMessage) String() string {
	keys := make([]string, 0, len(m.LabelToGroupShortName))
	for k := range m.LabelToGroupShortName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%q: %q", k, m.LabelToGroupShortName[k]))
	}
	return fmt.Sprintf("BugzillaInfoMessage { requestID: %d, instanceID: %d, name: %q, URL: %q, username: %q, rootTaskID: %d, groupTasksBy: %s, labelToGroupShortName: {%s} }",
		m.RequestID, m.InstanceID, m.Name, m.URL, m.Username, m.RootTaskID, formatStrings(m.GroupTasksBy), strings.Join(pairs, ", "))
}

func unpackBugzillaInfo(_ PacketType, p *wire.Parser) (Message, error) {
	m := BugzillaInfoMessage{
		RequestID:  domain.RequestID(p.Int32()),
		InstanceID: domain.BugzillaInstanceID(p.Int32()),
		Name:       p.String(),
		URL:        p.String(),
		APIKey:     p.String(),
		Username:   p.String(),
		RootTaskID: domain.TaskID(p.Int32()),
	}
	m.GroupTasksBy = readStrings(p)
	n := p.Count(4)
	for i := 0; i < n && p.Err() == nil; i++ {
		k, v := p.String(), p.String()
		if m.LabelToGroupShortName == nil {
			m.LabelToGroupShortName = make(map[string]string, n)
		}
		m.LabelToGroupShortName[k] = v
	}
	return m, nil
}

type BugzillaRefreshMessage struct {
	RequestID  domain.RequestID
	InstanceID domain.BugzillaInstanceID
}

func (BugzillaRefreshMessage) Type() PacketType            { return BugzillaRefresh }
func (m BugzillaRefreshMessage) Request() domain.RequestID { return m.RequestID }
func (BugzillaRefreshMessage) isMessage()                  {}

func (m BugzillaRefreshMessage) Pack() []byte {
	return wire.NewBuilder(int32(BugzillaRefresh)).
		Int32(int32(m.RequestID)).
		Int32(int32(m.InstanceID)).
		Build()
}

func (m BugzillaRefreshMessage) String() string {
	return fmt.Sprintf("BugzillaRefreshMessage { requestID: %d, instanceID: %d }", m.RequestID, m.InstanceID)
}

func unpackBugzillaRefresh(_ PacketType, p *wire.Parser) (Message, error) {
	return BugzillaRefreshMessage{
		RequestID:  domain.RequestID(p.Int32()),
		InstanceID: domain.BugzillaInstanceID(p.Int32()),
	}, nil
}

type RequestDailyReportMessage struct {
	RequestID domain.RequestID
	Month     int
	Day       int
	Year      int
}

func (RequestDailyReportMessage) Type() PacketType            { return RequestDailyReport }
func (m RequestDailyReportMessage) Request() domain.RequestID { return m.RequestID }
func (RequestDailyReportMessage) isMessage()                  {}

func (m RequestDailyReportMessage) Pack() []byte {
	b := wire.NewBuilder(int32(RequestDailyReport)).Int32(int32(m.RequestID))
	writeDate(b, m.Month, m.Day, m.Year)
	return b.Build()
}

func (m RequestDailyReportMessage) String() string {
	return fmt.Sprintf("RequestDailyReportMessage { requestID: %d, month: %d, day: %d, year: %d }", m.RequestID, m.Month, m.Day, m.Year)
}

func unpackRequestDailyReport(_ PacketType, p *wire.Parser) (Message, error) {
	m := RequestDailyReportMessage{RequestID: domain.RequestID(p.Int32())}
	m.Month, m.Day, m.Year = readDate(p)
	return m, nil
}

type DailyReportMessage struct {
	RequestID domain.RequestID
	Report    domain.DailyReport
}

func (DailyReportMessage) Type() PacketType { return DailyReport }
func (DailyReportMessage) isMessage()       {}

func (m DailyReportMessage) Pack() []byte {
	b := wire.NewBuilder(int32(DailyReport)).Int32(int32(m.RequestID))
	writeDailyReport(b, m.Report)
	return b.Build()
}

func (m DailyReportMessage) String() string {
	return fmt.Sprintf("DailyReportMessage { requestID: %d, report: %s }", m.RequestID, formatDailyReport(m.Report))
}

func unpackDailyReport(_ PacketType, p *wire.Parser) (Message, error) {
	m := DailyReportMessage{RequestID: domain.RequestID(p.Int32())}
	m.Report = readDailyReport(p)
	return m, nil
}

type RequestWeeklyReportMessage struct {
	RequestID domain.RequestID
	Month     int
	Day       int
	Year      int
}

func (RequestWeeklyReportMessage) Type() PacketType            { return RequestWeeklyReport }
func (m RequestWeeklyReportMessage) Request() domain.RequestID { return m.RequestID }
func (RequestWeeklyReportMessage) isMessage()                  {}

func (m RequestWeeklyReportMessage) Pack() []byte {
	b := wire.NewBuilder(int32(RequestWeeklyReport)).Int32(int32(m.RequestID))
	writeDate(b, m.Month, m.Day, m.Year)
	return b.Build()
}

func (m RequestWeeklyReportMessage) String() string {
	return fmt.Sprintf("RequestWeeklyReportMessage { requestID: %d, month: %d, day: %d, year: %d }", m.RequestID, m.Month, m.Day, m.Year)
}

func unpackRequestWeeklyReport(_ PacketType, p *wire.Parser) (Message, error) {
	m := RequestWeeklyReportMessage{RequestID: domain.RequestID(p.Int32())}
	m.Month, m.Day, m.Year = readDate(p)
	return m, nil
}

type WeeklyReportMessage struct {
	RequestID domain.RequestID
	Report    domain.WeeklyReport
}

func (WeeklyReportMessage) Type() PacketType { return WeeklyReport }
func (WeeklyReportMessage) isMessage()       {}

func (m WeeklyReportMessage) Pack() []byte {
	b := wire.NewBuilder(int32(WeeklyReport)).Int32(int32(m.RequestID))
	for _, day := range m.Report.Days {
		writeDailyReport(b, day)
	}
	return b.Build()
}

func (m WeeklyReportMessage) String() string {
	days := make([]string, 0, len(m.Report.Days))
	for _, day := range m.Report.Days {
		days = append(days, formatDailyReport(day))
	}
	return fmt.Sprintf("WeeklyReportMessage { requestID: %d, days: [%s] }", m.RequestID, strings.Join(days, ", "))
}

func unpackWeeklyReport(_ PacketType, p *wire.Parser) (Message, error) {
	m := WeeklyReportMessage{RequestID: domain.RequestID(p.Int32())}
	for i := range m.Report.Days {
		m.Report.Days[i] = readDailyReport(p)
	}
	return m, nil
}

// TimeEntryDataPacket lists every time category and its codes.
type TimeEntryDataPacket struct {
	Categories []domain.TimeCategory
}

func (TimeEntryDataPacket) Type() PacketType { return TimeEntryData }
func (TimeEntryDataPacket) isMessage()       {}

func (m TimeEntryDataPacket) Pack() []byte {
	b := wire.NewBuilder(int32(TimeEntryData))
	b.Int32(int32(len(m.Categories)))
	for _, c := range m.Categories {
		b.Int32(int32(c.ID))
		b.String(c.Name)
		b.String(c.Label)
		b.Bool(c.Archived)
		b.Bool(c.InUse)
		b.Int32(int32(len(c.Codes)))
		for _, code := range c.Codes {
			b.Int32(int32(code.ID))
			b.String(code.Name)
			b.Bool(code.Archived)
			b.Bool(code.InUse)
			b.Int32(code.TaskCount)
		}
	}
	return b.Build()
}

func (m TimeEntryDataPacket) String() string {
	var sb strings.Builder
	sb.WriteString("TimeEntryDataPacket { categories: [")
	for i, c := range m.Categories {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "{ id: %d, name: %q, label: %q, archived: %t, inUse: %t, codes: [", c.ID, c.Name, c.Label, c.Archived, c.InUse)
		for j, code := range c.Codes {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "{ id: %d, name: %q, archived: %t, inUse: %t, taskCount: %d }", code.ID, code.Name, code.Archived, code.InUse, code.TaskCount)
		}
		sb.WriteString("] }")
	}
	sb.WriteString("] }")
	return sb.String()
}

func unpackTimeEntryData(_ PacketType, p *wire.Parser) (Message, error) {
	var m TimeEntryDataPacket
	n := p.Count(14)
	for i := 0; i < n && p.Err() == nil; i++ {
		c := domain.TimeCategory{
			ID:       domain.TimeCategoryID(p.Int32()),
			Name:     p.String(),
			Label:    p.String(),
			Archived: p.Bool(),
			InUse:    p.Bool(),
		}
		codes := p.Count(12)
		for j := 0; j < codes && p.Err() == nil; j++ {
			c.Codes = append(c.Codes, domain.TimeCode{
				ID:        domain.TimeCodeID(p.Int32()),
				Name:      p.String(),
				Archived:  p.Bool(),
				InUse:     p.Bool(),
				TaskCount: p.Int32(),
			})
		}
		m.Categories = append(m.Categories, c)
	}
	return m, nil
}

// TimeEntryModifyPacket adds, edits or removes one time category or code.
// CodeID is ignored by category actions and Label by code actions.
type TimeEntryModifyPacket struct {
	RequestID  domain.RequestID
	Action     TimeEntryAction
	CategoryID domain.TimeCategoryID
	CodeID     domain.TimeCodeID
	Name       string
	Label      string
	Archive    bool
}

func (TimeEntryModifyPacket) Type() PacketType            { return TimeEntryModify }
func (m TimeEntryModifyPacket) Request() domain.RequestID { return m.RequestID }
func (TimeEntryModifyPacket) isMessage()                  {}

func (m TimeEntryModifyPacket) Pack() []byte {
	return wire.NewBuilder(int32(TimeEntryModify)).
		Int32(int32(m.RequestID)).
		Int32(int32(m.Action)).
		Int32(int32(m.CategoryID)).
		Int32(int32(m.CodeID)).
		String(m.Name).
		String(m.Label).
		Bool(m.Archive).
		Build()
}

func (m TimeEntryModifyPacket) String() string {
	return fmt.Sprintf("TimeEntryModifyPacket { requestID: %d, action: %s, categoryID: %d, codeID: %d, name: %q, label: %q, archive: %t }",
		m.RequestID, m.Action, m.CategoryID, m.CodeID, m.Name, m.Label, m.Archive)
}

func unpackTimeEntryModify(_ PacketType, p *wire.Parser) (Message, error) {
	m := TimeEntryModifyPacket{
		RequestID:  domain.RequestID(p.Int32()),
		Action:     TimeEntryAction(p.Int32()),
		CategoryID: domain.TimeCategoryID(p.Int32()),
		CodeID:     domain.TimeCodeID(p.Int32()),
		Name:       p.String(),
		Label:      p.String(),
		Archive:    p.Bool(),
	}
	if p.Err() == nil && !m.Action.valid() {
		return nil, fmt.Errorf("invalid time entry action %d", int32(m.Action))
	}
	return m, nil
}

func writeStrings(b *wire.Builder, items []string) {
	b.Int32(int32(len(items)))
	for _, s := range items {
		b.String(s)
	}
}

func readStrings(p *wire.Parser) []string {
	n := p.Count(2)
	var out []string
	for i := 0; i < n && p.Err() == nil; i++ {
		out = append(out, p.String())
	}
	return out
}

func writeTimeEntries(b *wire.Builder, entries []domain.TimeEntry) {
	b.Int32(int32(len(entries)))
	for _, e := range entries {
		b.Int32(int32(e.CategoryID))
		b.Int32(int32(e.CodeID))
	}
}

func readTimeEntries(p *wire.Parser) []domain.TimeEntry {
	n := p.Count(8)
	var out []domain.TimeEntry
	for i := 0; i < n && p.Err() == nil; i++ {
		out = append(out, domain.TimeEntry{
			CategoryID: domain.TimeCategoryID(p.Int32()),
			CodeID:     domain.TimeCodeID(p.Int32()),
		})
	}
	return out
}

func writeOptionalTime(b *wire.Builder, t *time.Time) {
	b.Bool(t != nil)
	if t != nil {
		b.Time(*t)
	}
}

func readOptionalTime(p *wire.Parser) *time.Time {
	if !p.Bool() {
		return nil
	}
	t := p.Time()
	if p.Err() != nil {
		return nil
	}
	return &t
}

func writeDate(b *wire.Builder, month, day, year int) {
	b.Int8(int8(month))
	b.Int8(int8(day))
	b.Int16(int16(year))
}

func readDate(p *wire.Parser) (month, day, year int) {
	month = int(p.Int8())
	day = int(p.Int8())
	year = int(p.Int16())
	return month, day, year
}

func sortedTimeEntries(m map[domain.TimeEntry]time.Duration) []domain.TimeEntry {
	keys := make([]domain.TimeEntry, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CategoryID != keys[j].CategoryID {
			return keys[i].CategoryID < keys[j].CategoryID
		}
		return keys[i].CodeID < keys[j].CodeID
	})
	return keys
}

func writeDailyReport(b *wire.Builder, r domain.DailyReport) {
	writeDate(b, r.Month, r.Day, r.Year)
	b.Bool(r.Found)
	if !r.Found {
		return
	}
	b.Time(r.StartTime)
	writeOptionalTime(b, r.EndTime)
	b.Duration(r.TotalTime)
	keys := sortedTimeEntries(r.TimePerTimeEntry)
	b.Int32(int32(len(keys)))
	for _, k := range keys {
		b.Int32(int32(k.CategoryID))
		b.Int32(int32(k.CodeID))
		b.Duration(r.TimePerTimeEntry[k])
	}
	b.Int32(int32(len(r.Times)))
	for _, s := range r.Times {
		b.Int32(int32(s.TaskID))
		b.Int32(s.Index)
	}
}

func readDailyReport(p *wire.Parser) domain.DailyReport {
	var r domain.DailyReport
	r.Month, r.Day, r.Year = readDate(p)
	if r.Found = p.Bool(); !r.Found {
		return r
	}
	r.StartTime = p.Time()
	r.EndTime = readOptionalTime(p)
	r.TotalTime = p.Duration()
	n := p.Count(16)
	for i := 0; i < n && p.Err() == nil; i++ {
		k := domain.TimeEntry{
			CategoryID: domain.TimeCategoryID(p.Int32()),
			CodeID:     domain.TimeCodeID(p.Int32()),
		}
		d := p.Duration()
		if r.TimePerTimeEntry == nil {
			r.TimePerTimeEntry = make(map[domain.TimeEntry]time.Duration, n)
		}
		r.TimePerTimeEntry[k] = d
	}
	n = p.Count(8)
	for i := 0; i < n && p.Err() == nil; i++ {
		r.Times = append(r.Times, domain.TaskSession{
			TaskID: domain.TaskID(p.Int32()),
			Index:  p.Int32(),
		})
	}
	return r
}

func formatStrings(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func formatTimeEntries(entries []domain.TimeEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("{ category: %d, code: %d }", e.CategoryID, e.CodeID))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "<none>"
	}
	return fmt.Sprint(t.UnixMilli())
}

func formatDailyReport(r domain.DailyReport) string {
	if !r.Found {
		return fmt.Sprintf("{ date: %d/%d/%d, found: false }", r.Month, r.Day, r.Year)
	}
	var entries []string
	for _, k := range sortedTimeEntries(r.TimePerTimeEntry) {
		entries = append(entries, fmt.Sprintf("{ category: %d, code: %d, time: %d }", k.CategoryID, k.CodeID, r.TimePerTimeEntry[k].Milliseconds()))
	}
	var sessions []string
	for _, s := range r.Times {
		sessions = append(sessions, fmt.Sprintf("{ taskID: %d, index: %d }", s.TaskID, s.Index))
	}
	return fmt.Sprintf("{ date: %d/%d/%d, found: true, startTime: %d, endTime: %s, totalTime: %d, timePerTimeEntry: [%s], times: [%s] }",
		r.Month, r.Day, r.Year, r.StartTime.UnixMilli(), formatOptionalTime(r.EndTime), r.TotalTime.Milliseconds(),
		strings.Join(entries, ", "), strings.Join(sessions, ", "))
}
