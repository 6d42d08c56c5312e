package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
)

func at(clock *testClock, hour, minute int) time.Time {
	clock.now = time.Date(clock.now.Year(), clock.now.Month(), clock.now.Day(), hour, minute, 0, 0, time.UTC)
	return time.UnixMilli(clock.now.UnixMilli())
}

func TestDailyReportNotFound(t *testing.T) {
	m, _ := newTestEngine(t)
	mustCreate(t, m, "idle", domain.NoParent)

	r, err := m.DailyReport(2, 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, domain.DailyReport{Month: 2, Day: 3, Year: 2025}, r)
}

func TestDailyReportTotals(t *testing.T) {
	m, clock := newTestEngine(t)
	cat, err := m.AddTimeCategory("Billing", "B")
	require.NoError(t, err)
	codeA, err := m.AddTimeCode(cat, "A")
	require.NoError(t, err)

	a, err := m.CreateTask(engine.TaskCreateOptions{Name: "a", TimeEntry: []domain.TimeEntry{{CategoryID: cat, CodeID: codeA}}})
	require.NoError(t, err)
	b := mustCreate(t, m, "b", domain.NoParent)

	start := at(clock, 9, 0)
	_, err = m.StartTask(a)
	require.NoError(t, err)
	at(clock, 10, 0)
	_, err = m.StartTask(b)
	require.NoError(t, err)
	end := at(clock, 10, 30)
	require.NoError(t, m.StopTask(b))

	at(clock, 18, 0)
	r, err := m.DailyReport(2, 3, 2025)
	require.NoError(t, err)

	assert.True(t, r.Found)
	assert.Equal(t, start, r.StartTime)
	require.NotNil(t, r.EndTime)
	assert.Equal(t, end, *r.EndTime)
	assert.Equal(t, 90*time.Minute, r.TotalTime)
	assert.Equal(t, map[domain.TimeEntry]time.Duration{
		{CategoryID: cat, CodeID: codeA}:                  time.Hour,
		{CategoryID: cat, CodeID: domain.UnknownTimeCode}: 30 * time.Minute,
	}, r.TimePerTimeEntry)
	assert.Equal(t, []domain.TaskSession{{TaskID: a, Index: 0}, {TaskID: b, Index: 0}}, r.Times)

	var perEntry time.Duration
	for _, d := range r.TimePerTimeEntry {
		perEntry += d
	}
	assert.Equal(t, r.TotalTime, perEntry)
}

func TestDailyReportClipsAtMidnight(t *testing.T) {
	m, clock := newTestEngine(t)
	id := mustCreate(t, m, "late", domain.NoParent)

	start := at(clock, 23, 0)
	_, err := m.StartTask(id)
	require.NoError(t, err)
	clock.now = time.Date(2025, 2, 4, 1, 30, 0, 0, time.UTC)
	require.NoError(t, m.StopTask(id))

	first, err := m.DailyReport(2, 3, 2025)
	require.NoError(t, err)
	assert.True(t, first.Found)
	assert.Equal(t, start, first.StartTime)
	assert.Equal(t, time.Hour, first.TotalTime)

	second, err := m.DailyReport(2, 4, 2025)
	require.NoError(t, err)
	assert.True(t, second.Found)
	assert.Equal(t, 90*time.Minute, second.TotalTime)

	third, err := m.DailyReport(2, 5, 2025)
	require.NoError(t, err)
	assert.False(t, third.Found)
}

func TestDailyReportOpenSession(t *testing.T) {
	m, clock := newTestEngine(t)
	id := mustCreate(t, m, "running", domain.NoParent)
	at(clock, 8, 0)
	_, err := m.StartTask(id)
	require.NoError(t, err)
	at(clock, 8, 45)

	r, err := m.DailyReport(2, 3, 2025)
	require.NoError(t, err)
	assert.True(t, r.Found)
	assert.Nil(t, r.EndTime)
	assert.Equal(t, 45*time.Minute, r.TotalTime)

	sessions, err := m.FindTasksOnDay(2, 3, 2025)
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskSession{{TaskID: id, Index: 0}}, sessions)
}

func TestDailyReportRejectsInvalidDate(t *testing.T) {
	m, _ := newTestEngine(t)
	_, err := m.DailyReport(2, 30, 2025)
	assert.EqualError(t, err, "Invalid date 2/30/2025.")
	assert.ErrorIs(t, err, engine.ErrInvalidDate)

	_, err = m.WeeklyReport(13, 1, 2025)
	assert.ErrorIs(t, err, engine.ErrInvalidDate)
}

func TestWeeklyReportSundayToSaturday(t *testing.T) {
	m, clock := newTestEngine(t)
	id := mustCreate(t, m, "task", domain.NoParent)

	// Monday 2025-02-03
	at(clock, 9, 0)
	_, err := m.StartTask(id)
	require.NoError(t, err)
	at(clock, 10, 0)
	require.NoError(t, m.StopTask(id))

	w, err := m.WeeklyReport(2, 5, 2025)
	require.NoError(t, err)

	assert.Equal(t, 2, w.Days[0].Day)
	assert.Equal(t, 8, w.Days[6].Day)
	assert.False(t, w.Days[0].Found)
	assert.True(t, w.Days[1].Found)
	assert.Equal(t, time.Hour, w.Days[1].TotalTime)
	assert.Equal(t, time.Hour, w.TotalTime())
}

func TestWeeklyReportCrossesMonth(t *testing.T) {
	m, _ := newTestEngine(t)
	w, err := m.WeeklyReport(3, 1, 2025)
	require.NoError(t, err)

	assert.Equal(t, domain.DailyReport{Month: 2, Day: 23, Year: 2025}, w.Days[0])
	assert.Equal(t, domain.DailyReport{Month: 3, Day: 1, Year: 2025}, w.Days[6])
}
