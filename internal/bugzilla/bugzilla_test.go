package bugzilla_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/bugzilla"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
)

type fakeFetcher struct {
	body string
	err  error
	urls []string
}

func (f *fakeFetcher) ExecuteRequest(_ context.Context, u string) (string, error) {
	f.urls = append(f.urls, u)
	return f.body, f.err
}

func newEngine() *engine.MicroTask {
	m := engine.New()
	m.Now = func() time.Time { return time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC) }
	m.Location = time.UTC
	return m
}

func testInstance() *domain.BugzillaInstance {
	return &domain.BugzillaInstance{
		ID:                    1,
		Name:                  "bugzilla",
		URL:                   "https://bugzilla.example.com/",
		APIKey:                "secret",
		Username:              "dev@example.com",
		GroupTasksBy:          []string{"product", "component"},
		LabelToGroupShortName: map[string]string{"Core Platform": "Core"},
	}
}

func TestBuildURL(t *testing.T) {
	inst := testInstance()

	first, err := bugzilla.BuildURL(*inst, nil)
	require.NoError(t, err)
	u, err := url.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, "bugzilla.example.com", u.Host)
	assert.Equal(t, "/rest/bug", u.Path)
	q := u.Query()
	assert.Equal(t, "dev@example.com", q.Get("assigned_to"))
	assert.Equal(t, "secret", q.Get("api_key"))
	assert.Equal(t, "id,summary,status,product,component", q.Get("include_fields"))
	assert.Equal(t, "---", q.Get("resolution"))
	assert.False(t, q.Has("last_change_time"))

	since := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	next, err := bugzilla.BuildURL(*inst, &since)
	require.NoError(t, err)
	u, err = url.Parse(next)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T03:04:05Z", u.Query().Get("last_change_time"))
	assert.False(t, u.Query().Has("resolution"))

	inst.URL = "ftp://example.com"
	_, err = bugzilla.BuildURL(*inst, nil)
	assert.Error(t, err)
}

func TestParseBugs(t *testing.T) {
	bugs, err := bugzilla.ParseBugs(`{"bugs":[
		{"id": 50, "summary": "Crash on save", "status": "NEW", "product": "Editor", "component": null,
		 "assigned_to_detail": {"real_name": "Dev"}, "keywords": ["a", "b"]}
	]}`)
	require.NoError(t, err)
	require.Len(t, bugs, 1)
	assert.Equal(t, 50, bugs[0].ID)
	assert.Equal(t, "Crash on save", bugs[0].Summary)
	assert.Equal(t, "50 Crash on save", bugs[0].TaskName())
	assert.Equal(t, "Editor", bugs[0].Fields["product"])
	assert.Equal(t, "", bugs[0].Fields["component"])
	assert.Equal(t, "Dev", bugs[0].Fields["assigned_to_detail"])
	assert.Equal(t, "a, b", bugs[0].Fields["keywords"])
	assert.False(t, bugs[0].Resolved())

	_, err = bugzilla.ParseBugs(`{"bugs": [`)
	assert.ErrorIs(t, err, bugzilla.ErrMalformedResponse)
	_, err = bugzilla.ParseBugs(`{"bugs": [{"summary": "no id"}]}`)
	assert.ErrorIs(t, err, bugzilla.ErrMalformedResponse)
	_, err = bugzilla.ParseBugs(`{"error": true, "message": "bad key"}`)
	assert.EqualError(t, err, "bugzilla error: bad key")

	bugs, err = bugzilla.ParseBugs(`{"bugs": []}`)
	require.NoError(t, err)
	assert.Nil(t, bugs)
}

func taskNames(t *testing.T, m *engine.MicroTask, parent domain.TaskID) []string {
	t.Helper()
	var names []string
	for _, c := range m.Children(parent) {
		names = append(names, c.Name)
	}
	return names
}

func TestSyncBuildsGroupHierarchy(t *testing.T) {
	m := newEngine()
	inst := testInstance()
	bugs := []bugzilla.Bug{
		{ID: 2, Summary: "second", Status: "NEW", Fields: map[string]string{"product": "Core Platform", "component": "UI"}},
		{ID: 1, Summary: "first", Status: "ASSIGNED", Fields: map[string]string{"product": "Core Platform", "component": "UI"}},
		{ID: 3, Summary: "third", Status: "NEW", Fields: map[string]string{"product": "Docs"}},
		{ID: 4, Summary: "done already", Status: "RESOLVED", Fields: map[string]string{"product": "Docs"}},
	}

	changed, err := bugzilla.Sync(m, inst, bugs)
	require.NoError(t, err)

	root, ok := m.Task(inst.RootTaskID)
	require.True(t, ok)
	assert.Equal(t, "bugzilla", root.Name)
	assert.True(t, root.ServerControlled)

	assert.Equal(t, []string{"Core", "Docs"}, taskNames(t, m, root.ID))
	core := m.Children(root.ID)[0]
	ui := m.Children(core.ID)[0]
	assert.Equal(t, "UI", ui.Name)
	assert.Equal(t, []string{"1 first", "2 second"}, taskNames(t, m, ui.ID))
	docs := m.Children(root.ID)[1]
	assert.Equal(t, []string{"(none)"}, taskNames(t, m, docs.ID))

	assert.Len(t, inst.BugToTask, 3)
	_, tracked := inst.BugToTask[4]
	assert.False(t, tracked, "resolved bugs are not imported")
	assert.Len(t, changed, m.TaskCount())
}

func TestSyncUpdatesKnownBugs(t *testing.T) {
	m := newEngine()
	inst := testInstance()
	inst.GroupTasksBy = []string{"product"}
	_, err := bugzilla.Sync(m, inst, []bugzilla.Bug{
		{ID: 7, Summary: "old title", Status: "NEW", Fields: map[string]string{"product": "A"}},
		{ID: 8, Summary: "stays", Status: "NEW", Fields: map[string]string{"product": "A"}},
	})
	require.NoError(t, err)
	task7 := inst.BugToTask[7]

	changed, err := bugzilla.Sync(m, inst, []bugzilla.Bug{
		{ID: 7, Summary: "new title", Status: "RESOLVED", Fields: map[string]string{"product": "B"}},
		{ID: 8, Summary: "stays", Status: "NEW", Fields: map[string]string{"product": "A"}},
	})
	require.NoError(t, err)

	task, ok := m.Task(task7)
	require.True(t, ok)
	assert.Equal(t, "7 new title", task.Name)
	assert.Equal(t, domain.TaskFinished, task.State)
	assert.Equal(t, inst.GroupTasks["product=B"], task.ParentID)
	assert.Equal(t, []domain.TaskID{task7, inst.GroupTasks["product=B"]}, changed)
}

func TestSyncUsesConfiguredRoot(t *testing.T) {
	m := newEngine()
	root, err := m.CreateTask(engine.TaskCreateOptions{Name: "mine"})
	require.NoError(t, err)
	inst := testInstance()
	inst.RootTaskID = root
	inst.GroupTasksBy = nil

	_, err = bugzilla.Sync(m, inst, []bugzilla.Bug{{ID: 1, Summary: "x", Status: "NEW"}})
	require.NoError(t, err)
	assert.Equal(t, root, inst.RootTaskID)
	assert.Equal(t, []string{"1 x"}, taskNames(t, m, root))
}

func TestSyncReplacesFinishedRoot(t *testing.T) {
	m := newEngine()
	root, err := m.CreateTask(engine.TaskCreateOptions{Name: "mine"})
	require.NoError(t, err)
	require.NoError(t, m.FinishTask(root))
	inst := testInstance()
	inst.RootTaskID = root
	inst.GroupTasksBy = nil

	changed, err := bugzilla.Sync(m, inst, []bugzilla.Bug{{ID: 1, Summary: "x", Status: "NEW"}})
	require.NoError(t, err)
	assert.NotEqual(t, root, inst.RootTaskID)
	replacement, ok := m.Task(inst.RootTaskID)
	require.True(t, ok)
	assert.True(t, replacement.ServerControlled)
	assert.Equal(t, []string{"1 x"}, taskNames(t, m, inst.RootTaskID))
	assert.Contains(t, changed, inst.RootTaskID)
}

func TestFetch(t *testing.T) {
	inst := testInstance()

	f := &fakeFetcher{err: errors.New("connection refused")}
	_, err := bugzilla.Fetch(context.Background(), f, *inst)
	assert.ErrorContains(t, err, "connection refused")

	f = &fakeFetcher{body: "not json"}
	_, err = bugzilla.Fetch(context.Background(), f, *inst)
	assert.ErrorIs(t, err, bugzilla.ErrMalformedResponse)

	f = &fakeFetcher{body: `{"bugs":[{"id":1,"summary":"s","status":"NEW","product":"P","component":"C"}]}`}
	bugs, err := bugzilla.Fetch(context.Background(), f, *inst)
	require.NoError(t, err)
	require.Len(t, bugs, 1)
	assert.Contains(t, f.urls[0], "resolution=---")

	last := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	inst.LastRefresh = &last
	_, err = bugzilla.Fetch(context.Background(), f, *inst)
	require.NoError(t, err)
	require.Len(t, f.urls, 2)
	assert.Contains(t, f.urls[1], "last_change_time=2025-02-03T10%3A00%3A00Z")
}

func TestClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"bugs":[]}`))
	}))
	defer srv.Close()

	body, err := bugzilla.NewClient(5*time.Second).ExecuteRequest(context.Background(), srv.URL+"/rest/bug")
	require.NoError(t, err)
	assert.Equal(t, `{"bugs":[]}`, body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := bugzilla.NewClient(5 * time.Second)
	_, err := c.ExecuteRequest(context.Background(), srv.URL+"/unauthorized")
	assert.ErrorIs(t, err, bugzilla.ErrUnauthorized)

	_, err = c.ExecuteRequest(context.Background(), srv.URL+"/other")
	assert.ErrorContains(t, err, "unexpected status 500")
}
