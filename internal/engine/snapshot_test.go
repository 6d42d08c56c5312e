package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m, clock := newTestEngine(t)
	cat, err := m.AddTimeCategory("Billing", "B")
	require.NoError(t, err)
	code, err := m.AddTimeCode(cat, "A")
	require.NoError(t, err)
	root, err := m.CreateTask(engine.TaskCreateOptions{Name: "root", TimeEntry: []domain.TimeEntry{{CategoryID: cat, CodeID: code}}})
	require.NoError(t, err)
	child := mustCreate(t, m, "child", root)
	_, err = m.StartTask(child)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.NoError(t, m.FinishTask(root))

	snap := m.Snapshot()

	restored, _ := newTestEngine(t)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())

	active, ok := restored.ActiveTask()
	require.True(t, ok)
	assert.Equal(t, child, active)

	next := mustCreate(t, restored, "next", domain.NoParent)
	assert.Equal(t, domain.TaskID(3), next)
	assert.Equal(t, int32(1), mustTask(t, restored, next).IndexInParent)
}

func TestRestoreRaisesCounters(t *testing.T) {
	m, _ := newTestEngine(t)
	require.NoError(t, m.Restore(engine.Snapshot{
		Tasks:      []domain.Task{{ID: 7, Name: "seven"}},
		Categories: []domain.TimeCategory{{ID: 4, Name: "c", Codes: []domain.TimeCode{{ID: 9, Name: "x"}}}},
	}))
	assert.Equal(t, domain.TaskID(8), m.NextTaskID())
	assert.Equal(t, domain.TimeCategoryID(5), m.NextTimeCategoryID())
	assert.Equal(t, domain.TimeCodeID(10), m.NextTimeCodeID())
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	cases := map[string][]domain.Task{
		"missing parent": {{ID: 1, ParentID: 4}},
		"two active":     {{ID: 1, State: domain.TaskActive}, {ID: 2, State: domain.TaskActive}},
		"duplicate":      {{ID: 1}, {ID: 1}},
		"cycle":          {{ID: 1, ParentID: 2}, {ID: 2, ParentID: 1}},
		"zero id":        {{ID: 0}},
	}
	for name, tasks := range cases {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestEngine(t)
			existing := mustCreate(t, m, "keep", domain.NoParent)

			err := m.Restore(engine.Snapshot{Tasks: tasks})
			assert.ErrorIs(t, err, engine.ErrInvalidSnapshot)
			_, ok := m.Task(existing)
			assert.True(t, ok, "a rejected restore must leave the model untouched")
		})
	}
}
