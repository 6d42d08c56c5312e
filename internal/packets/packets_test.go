package packets

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

func ms(v int64) time.Time { return time.UnixMilli(v) }

func msPtr(v int64) *time.Time {
	t := time.UnixMilli(v)
	return &t
}

func boolPtr(v bool) *bool { return &v }

func sampleMessages() []Message {
	report := domain.DailyReport{
		Month:     2,
		Day:       3,
		Year:      2025,
		Found:     true,
		StartTime: ms(1000),
		EndTime:   msPtr(5000),
		TotalTime: 4 * time.Second,
		TimePerTimeEntry: map[domain.TimeEntry]time.Duration{
			{CategoryID: 1, CodeID: 2}: 3 * time.Second,
			{CategoryID: 2, CodeID: 0}: time.Second,
		},
		Times: []domain.TaskSession{{TaskID: 1, Index: 0}, {TaskID: 2, Index: 1}},
	}
	var weekly domain.WeeklyReport
	for i := range weekly.Days {
		weekly.Days[i] = domain.DailyReport{Month: 2, Day: 2 + i, Year: 2025}
	}
	weekly.Days[1] = report

	return []Message{
		CreateTaskMessage{RequestID: 1, ParentID: 2, Name: "write docs", Labels: []string{"a", "b"}, TimeEntry: []domain.TimeEntry{{CategoryID: 1, CodeID: 3}}},
		CreateTaskMessage{RequestID: 1, Name: "bare"},
		TaskMessage{PacketType: StartTask, RequestID: 4, TaskID: 5},
		TaskMessage{PacketType: StopTask, RequestID: 4, TaskID: 5},
		TaskMessage{PacketType: FinishTask, RequestID: 4, TaskID: 5},
		TaskMessage{PacketType: RequestTask, RequestID: 4, TaskID: 5},
		UpdateTaskMessage{RequestID: 6, TaskID: 7, ParentID: 1, Name: "renamed"},
		UpdateTaskMessage{RequestID: 6, TaskID: 7, Name: "x", UpdateTimeEntry: true, TimeEntry: []domain.TimeEntry{{CategoryID: 2, CodeID: 4}}, Locked: boolPtr(true)},
		TaskInfoMessage{
			TaskID: 3, ParentID: 1, State: domain.TaskFinished, NewTask: true, IndexInParent: 2,
			ServerControlled: true, Locked: true, Name: "t", Labels: []string{"l"},
			CreateTime: ms(100), FinishTime: msPtr(900),
			Times: []domain.TaskTimes{
				{Start: ms(200), Stop: msPtr(300), TimeEntry: []domain.TimeEntry{{CategoryID: 1, CodeID: 1}}},
				{Start: ms(400)},
			},
			TimeEntry: []domain.TimeEntry{{CategoryID: 1, CodeID: 1}},
		},
		SuccessResponse{RequestID: 8},
		FailureResponse{RequestID: 9, Message: "Task with ID 5 does not exist."},
		BasicMessage{PacketType: RequestConfiguration},
		BasicMessage{PacketType: RequestConfigurationComplete},
		BasicMessage{PacketType: BulkTaskUpdateStart},
		BasicMessage{PacketType: BulkTaskUpdateFinish},
		BugzillaInfoMessage{
			RequestID: 10, InstanceID: 1, Name: "bz", URL: "https://bugzilla.example.com", APIKey: "key",
			Username: "me", RootTaskID: 4, GroupTasksBy: []string{"product", "component"},
			LabelToGroupShortName: map[string]string{"product": "P", "component": "C"},
		},
		BugzillaRefreshMessage{RequestID: 11, InstanceID: 1},
		RequestDailyReportMessage{RequestID: 12, Month: 2, Day: 3, Year: 2025},
		DailyReportMessage{RequestID: 12, Report: report},
		DailyReportMessage{RequestID: 12, Report: domain.DailyReport{Month: 1, Day: 1, Year: 2024}},
		RequestWeeklyReportMessage{RequestID: 13, Month: 12, Day: 31, Year: 2024},
		WeeklyReportMessage{RequestID: 13, Report: weekly},
		TimeEntryDataPacket{Categories: []domain.TimeCategory{
			{ID: 1, Name: "Billing", Label: "B", InUse: true, Codes: []domain.TimeCode{
				{ID: 1, Name: "Code A", InUse: true, TaskCount: 2},
				{ID: 2, Name: "Code B", Archived: true},
			}},
			{ID: 2, Name: "Empty"},
		}},
		TimeEntryDataPacket{},
		TimeEntryModifyPacket{RequestID: 14, Action: UpdateTimeCode, CategoryID: 1, CodeID: 2, Name: "n", Label: "l", Archive: true},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		t.Run(msg.Type().String(), func(t *testing.T) {
			data := msg.Pack()
			assert.Equal(t, uint32(len(data)), binary.BigEndian.Uint32(data[:4]))
			assert.Equal(t, uint32(msg.Type()), binary.BigEndian.Uint32(data[4:8]))

			got, n, err := Parse(data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			assert.Equal(t, msg, got)
		})
	}
}

func TestParseStopsAtDeclaredLength(t *testing.T) {
	first := SuccessResponse{RequestID: 1}.Pack()
	second := FailureResponse{RequestID: 2, Message: "nope"}.Pack()
	buf := append(append([]byte{}, first...), second...)

	msg, n, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, SuccessResponse{RequestID: 1}, msg)
	require.Equal(t, len(first), n)

	msg, n, err = Parse(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, FailureResponse{RequestID: 2, Message: "nope"}, msg)
	assert.Equal(t, len(second), n)
}

func TestParseTruncatedInput(t *testing.T) {
	data := CreateTaskMessage{RequestID: 1, Name: "abc", Labels: []string{"x"}}.Pack()
	for cut := 0; cut < len(data); cut++ {
		_, n, err := Parse(data[:cut])
		assert.ErrorIs(t, err, ErrNotEnoughBytes, "cut at %d", cut)
		assert.Zero(t, n)
	}
}

func TestParseShortPayload(t *testing.T) {
	data := TaskMessage{PacketType: StartTask, RequestID: 1, TaskID: 2}.Pack()
	// declare a length that hides the last field
	short := append([]byte{}, data[:len(data)-4]...)
	binary.BigEndian.PutUint32(short, uint32(len(short)))

	_, n, err := Parse(short)
	assert.ErrorIs(t, err, ErrNotEnoughBytes)
	assert.Equal(t, len(short), n)
}

func TestParseUnknownTypeReportsLength(t *testing.T) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf, 12)
	binary.BigEndian.PutUint32(buf[4:], 99)

	msg, n, err := Parse(buf)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrUnknownPacketType)
	assert.Equal(t, 12, n)
}

func TestParseTrailingBytes(t *testing.T) {
	data := SuccessResponse{RequestID: 1}.Pack()
	data = append(data, 0, 0)
	binary.BigEndian.PutUint32(data, uint32(len(data)))

	_, n, err := Parse(data)
	assert.ErrorIs(t, err, ErrTrailingBytes)
	assert.Equal(t, len(data), n)
}

func TestParseMalformedLength(t *testing.T) {
	buf := []byte{0, 0, 0, 4, 0, 0, 0, 8}
	_, _, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformedLength)

	binary.BigEndian.PutUint32(buf, MaxPacketSize+1)
	_, _, err = Parse(buf)
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestParseRejectsInvalidAction(t *testing.T) {
	data := TimeEntryModifyPacket{RequestID: 1, Action: 42}.Pack()
	_, n, err := Parse(data)
	require.Error(t, err)
	assert.Equal(t, len(data), n)
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, SuccessResponse{RequestID: 3}))
	require.NoError(t, Write(&buf, BasicMessage{PacketType: BulkTaskUpdateStart}))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	msg, _, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, SuccessResponse{RequestID: 3}, msg)

	frame, err = ReadFrame(&buf)
	require.NoError(t, err)
	msg, _, err = Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, BasicMessage{PacketType: BulkTaskUpdateStart}, msg)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	data := FailureResponse{RequestID: 1, Message: "boom"}.Pack()
	_, err := ReadFrame(bytes.NewReader(data[:len(data)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMapPairsEncodeSorted(t *testing.T) {
	a := BugzillaInfoMessage{LabelToGroupShortName: map[string]string{"z": "1", "a": "2", "m": "3"}}
	b := BugzillaInfoMessage{LabelToGroupShortName: map[string]string{"m": "3", "z": "1", "a": "2"}}
	assert.Equal(t, a.Pack(), b.Pack())
}

func TestStringsDescribeMessages(t *testing.T) {
	assert.Equal(t, "SuccessResponse { requestID: 8 }", SuccessResponse{RequestID: 8}.String())
	assert.Equal(t, "TaskMessage { packetType: START_TASK, requestID: 1, taskID: 2 }",
		TaskMessage{PacketType: StartTask, RequestID: 1, TaskID: 2}.String())
	assert.Contains(t, BugzillaInfoMessage{APIKey: "secret"}.String(), "BugzillaInfoMessage")
	assert.NotContains(t, BugzillaInfoMessage{APIKey: "secret"}.String(), "secret")
}

func TestRequestIDOf(t *testing.T) {
	frame := TaskMessage{PacketType: StartTask, RequestID: 42, TaskID: 1}.Pack()
	id, ok := RequestIDOf(frame[:12])
	require.True(t, ok)
	assert.Equal(t, domain.RequestID(42), id)

	_, ok = RequestIDOf(frame[:10])
	assert.False(t, ok)
	_, ok = RequestIDOf(BasicMessage{PacketType: RequestConfiguration}.Pack())
	assert.False(t, ok)
	_, ok = RequestIDOf(SuccessResponse{RequestID: 3}.Pack())
	assert.False(t, ok)
}
