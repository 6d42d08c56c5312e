package packets

import "fmt"

// PacketType is the wire discriminant of a message. The values are part of
// the protocol and must never be renumbered.
type PacketType int32

const (
	CreateTask                   PacketType = 1
	StartTask                    PacketType = 2
	StopTask                     PacketType = 3
	FinishTask                   PacketType = 4
	RequestTask                  PacketType = 5
	UpdateTask                   PacketType = 6
	TaskInfo                     PacketType = 7
	SuccessResponseType          PacketType = 8
	FailureResponseType          PacketType = 9
	RequestConfiguration         PacketType = 10
	RequestConfigurationComplete PacketType = 11
	BugzillaInfo                 PacketType = 12
	BugzillaRefresh              PacketType = 13
	RequestDailyReport           PacketType = 14
	DailyReport                  PacketType = 15
	RequestWeeklyReport          PacketType = 16
	WeeklyReport                 PacketType = 17
	TimeEntryData                PacketType = 18
	TimeEntryModify              PacketType = 19
	BulkTaskUpdateStart          PacketType = 20
	BulkTaskUpdateFinish         PacketType = 21
)

var packetTypeNames = map[PacketType]string{
	CreateTask:                   "CREATE_TASK",
	StartTask:                    "START_TASK",
	StopTask:                     "STOP_TASK",
	FinishTask:                   "FINISH_TASK",
	RequestTask:                  "REQUEST_TASK",
	UpdateTask:                   "UPDATE_TASK",
	TaskInfo:                     "TASK_INFO",
	SuccessResponseType:          "SUCCESS_RESPONSE",
	FailureResponseType:          "FAILURE_RESPONSE",
	RequestConfiguration:         "REQUEST_CONFIGURATION",
	RequestConfigurationComplete: "REQUEST_CONFIGURATION_COMPLETE",
	BugzillaInfo:                 "BUGZILLA_INFO",
	BugzillaRefresh:              "BUGZILLA_REFRESH",
	RequestDailyReport:           "REQUEST_DAILY_REPORT",
	DailyReport:                  "DAILY_REPORT",
	RequestWeeklyReport:          "REQUEST_WEEKLY_REPORT",
	WeeklyReport:                 "WEEKLY_REPORT",
	TimeEntryData:                "TIME_ENTRY_DATA",
	TimeEntryModify:              "TIME_ENTRY_MODIFY",
	BulkTaskUpdateStart:          "BULK_TASK_UPDATE_START",
	BulkTaskUpdateFinish:         "BULK_TASK_UPDATE_FINISH",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", int32(t))
}

// TimeEntryAction selects what a TimeEntryModifyPacket changes.
type TimeEntryAction int32

const (
	AddTimeCategory    TimeEntryAction = 1
	UpdateTimeCategory TimeEntryAction = 2
	RemoveTimeCategory TimeEntryAction = 3
	AddTimeCode        TimeEntryAction = 4
	UpdateTimeCode     TimeEntryAction = 5
	RemoveTimeCode     TimeEntryAction = 6
)

func (a TimeEntryAction) String() string {
	switch a {
	case AddTimeCategory:
		return "ADD_CATEGORY"
	case UpdateTimeCategory:
		return "UPDATE_CATEGORY"
	case RemoveTimeCategory:
		return "REMOVE_CATEGORY"
	case AddTimeCode:
		return "ADD_CODE"
	case UpdateTimeCode:
		return "UPDATE_CODE"
	case RemoveTimeCode:
		return "REMOVE_CODE"
	default:
		return fmt.Sprintf("TimeEntryAction(%d)", int32(a))
	}
}

func (a TimeEntryAction) valid() bool {
	return a >= AddTimeCategory && a <= RemoveTimeCode
}
