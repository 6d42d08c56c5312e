package engine

import (
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
)

func (m *MicroTask) dayRange(month, day, year int) (time.Time, time.Time, error) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, m.location())
	if start.Year() != year || int(start.Month()) != month || start.Day() != day {
		return time.Time{}, time.Time{}, fail(ErrInvalidDate, "Invalid date %d/%d/%d.", month, day, year)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// sessionEnd is the stop of a session, or now while it is still open.
func sessionEnd(tt domain.TaskTimes, now time.Time) time.Time {
	if tt.Stop != nil {
		return *tt.Stop
	}
	return now
}

// FindTasksOnDay lists every session that starts on the given day or is
// still running into it, in ascending task ID order.
func (m *MicroTask) FindTasksOnDay(month, day, year int) ([]domain.TaskSession, error) {
	dayStart, dayEnd, err := m.dayRange(month, day, year)
	if err != nil {
		return nil, err
	}
	return m.sessionsBetween(dayStart, dayEnd, m.now()), nil
}

func (m *MicroTask) sessionsBetween(from, to, now time.Time) []domain.TaskSession {
	var out []domain.TaskSession
	for _, id := range m.sortedIDs() {
		for i, tt := range m.tasks[id].Times {
			startsInside := !tt.Start.Before(from) && tt.Start.Before(to)
			spansInto := tt.Start.Before(from) && sessionEnd(tt, now).After(from)
			if startsInside || spansInto {
				out = append(out, domain.TaskSession{TaskID: id, Index: int32(i)})
			}
		}
	}
	return out
}

// DailyReport totals the time recorded on the given day. Sessions are
// clipped to the day; an open session counts up to now.
func (m *MicroTask) DailyReport(month, day, year int) (domain.DailyReport, error) {
	dayStart, dayEnd, err := m.dayRange(month, day, year)
	if err != nil {
		return domain.DailyReport{}, err
	}
	return m.buildDailyReport(month, day, year, dayStart, dayEnd, m.now()), nil
}

func (m *MicroTask) buildDailyReport(month, day, year int, dayStart, dayEnd, now time.Time) domain.DailyReport {
	r := domain.DailyReport{Month: month, Day: day, Year: year}
	sessions := m.sessionsBetween(dayStart, dayEnd, now)
	if len(sessions) == 0 {
		return r
	}
	r.Found = true
	r.Times = sessions

	var last domain.TaskTimes
	for i, s := range sessions {
		tt := m.tasks[s.TaskID].Times[s.Index]
		if i == 0 || tt.Start.Before(r.StartTime) {
			r.StartTime = tt.Start
		}
		if i == 0 || !tt.Start.Before(last.Start) {
			last = tt
		}

		from := tt.Start
		if from.Before(dayStart) {
			from = dayStart
		}
		to := sessionEnd(tt, now)
		if to.After(dayEnd) {
			to = dayEnd
		}
		d := to.Sub(from)
		if d < 0 {
			d = 0
		}
		r.TotalTime += d
		for _, e := range tt.TimeEntry {
			if r.TimePerTimeEntry == nil {
				r.TimePerTimeEntry = make(map[domain.TimeEntry]time.Duration)
			}
			r.TimePerTimeEntry[e] += d
		}
	}
	if last.Stop != nil {
		end := *last.Stop
		r.EndTime = &end
	}
	return r
}

// WeeklyReport builds the daily reports of the Sunday to Saturday week
// containing the given day.
func (m *MicroTask) WeeklyReport(month, day, year int) (domain.WeeklyReport, error) {
	date, _, err := m.dayRange(month, day, year)
	if err != nil {
		return domain.WeeklyReport{}, err
	}
	now := m.now()
	sunday := date.AddDate(0, 0, -int(date.Weekday()))

	var w domain.WeeklyReport
	for i := range w.Days {
		d := sunday.AddDate(0, 0, i)
		w.Days[i] = m.buildDailyReport(int(d.Month()), d.Day(), d.Year(), d, d.AddDate(0, 0, 1), now)
	}
	return w, nil
}
