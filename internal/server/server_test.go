package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/api"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/events"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/wire"
)

type stubFetcher struct {
	body string
}

func (f stubFetcher) ExecuteRequest(context.Context, string) (string, error) {
	return f.body, nil
}

func newTestAPI(t *testing.T, body string) *api.API {
	t.Helper()
	now := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	tasks := engine.New()
	tasks.Now = func() time.Time { return now }
	tasks.Location = time.UTC
	return api.New(api.Options{Tasks: tasks, Database: api.NopDatabase{}, Fetcher: stubFetcher{body: body}})
}

func startTCP(t *testing.T, a *api.API) (*TCPServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewTCP(a, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

type testConn struct {
	net.Conn
	r *bufio.Reader
}

func dial(t *testing.T, addr string) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp4", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (c *testConn) send(t *testing.T, frames ...[]byte) {
	t.Helper()
	for _, f := range frames {
		_, err := c.Write(f)
		require.NoError(t, err)
	}
}

func (c *testConn) read(t *testing.T, n int) []packets.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out []packets.Message
	for len(out) < n {
		frame, err := packets.ReadFrame(c.r)
		require.NoError(t, err)
		msg, _, err := packets.Parse(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestTCPCreateAndStart(t *testing.T) {
	_, addr := startTCP(t, newTestAPI(t, ""))
	c := dial(t, addr)

	c.send(t, packets.CreateTaskMessage{RequestID: 1, Name: "write report"}.Pack())
	out := c.read(t, 2)
	assert.Equal(t, packets.SuccessResponse{RequestID: 1}, out[0])
	info := out[1].(packets.TaskInfoMessage)
	assert.Equal(t, domain.TaskID(1), info.TaskID)
	assert.True(t, info.NewTask)

	c.send(t, packets.TaskMessage{PacketType: packets.StartTask, RequestID: 2, TaskID: 1}.Pack())
	out = c.read(t, 2)
	assert.Equal(t, packets.SuccessResponse{RequestID: 2}, out[0])
	assert.Equal(t, domain.TaskActive, out[1].(packets.TaskInfoMessage).State)
}

func TestTCPSkipsUnknownPacketTypes(t *testing.T) {
	_, addr := startTCP(t, newTestAPI(t, ""))
	c := dial(t, addr)

	unknown := wire.NewBuilder(9999).Int32(7).String("ignored").Build()
	c.send(t, unknown, packets.CreateTaskMessage{RequestID: 3, Name: "after"}.Pack())
	out := c.read(t, 2)
	assert.Equal(t, packets.SuccessResponse{RequestID: 3}, out[0])
	assert.Equal(t, "after", out[1].(packets.TaskInfoMessage).Name)
}

func TestTCPMalformedRequestFails(t *testing.T) {
	_, addr := startTCP(t, newTestAPI(t, ""))
	c := dial(t, addr)

	// create task frame holding only the request ID
	truncated := wire.NewBuilder(int32(packets.CreateTask)).Int32(11).Build()
	c.send(t, truncated)
	out := c.read(t, 1)
	assert.Equal(t, packets.FailureResponse{RequestID: 11, Message: "Malformed packet."}, out[0])

	// the connection stays usable
	c.send(t, packets.TaskMessage{PacketType: packets.RequestTask, RequestID: 12, TaskID: 1}.Pack())
	out = c.read(t, 1)
	assert.Equal(t, packets.FailureResponse{RequestID: 12, Message: "Task with ID 1 does not exist."}, out[0])
}

func TestTCPRepliesAfterClientStopsSending(t *testing.T) {
	_, addr := startTCP(t, newTestAPI(t, ""))
	c := dial(t, addr)

	const n = 20
	for i := 1; i <= n; i++ {
		c.send(t, packets.CreateTaskMessage{RequestID: domain.RequestID(i), Name: "scripted"}.Pack())
	}
	require.NoError(t, c.Conn.(*net.TCPConn).CloseWrite())

	out := c.read(t, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, packets.SuccessResponse{RequestID: domain.RequestID(i + 1)}, out[2*i])
		assert.Equal(t, domain.TaskID(i+1), out[2*i+1].(packets.TaskInfoMessage).TaskID)
	}

	// the server closes once everything is flushed
	_, err := packets.ReadFrame(c.r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRefreshBroadcastsToEveryClient(t *testing.T) {
	a := newTestAPI(t, `{"bugs":[{"id":50,"summary":"Crash on save","status":"NEW","product":"Editor","component":"UI"}]}`)
	srv, addr := startTCP(t, a)
	first := dial(t, addr)
	second := dial(t, addr)
	require.Eventually(t, func() bool { return srv.Hub.Count() == 2 }, 5*time.Second, 10*time.Millisecond)

	first.send(t, packets.BugzillaInfoMessage{RequestID: 1, Name: "bz", URL: "https://bz.example.com", Username: "me"}.Pack())
	out := first.read(t, 2)
	require.Equal(t, packets.SuccessResponse{RequestID: 1}, out[0])

	p := refreshPoller{api: a, hub: srv.Hub, log: srv.Logger}
	assert.Equal(t, 2, p.refresh(context.Background()))

	for _, c := range []*testConn{first, second} {
		start := c.read(t, 1)
		assert.Equal(t, packets.BasicMessage{PacketType: packets.BulkTaskUpdateStart}, start[0])
		var infos int
		for {
			msg := c.read(t, 1)[0]
			if msg.Type() == packets.BulkTaskUpdateFinish {
				break
			}
			require.Equal(t, packets.TaskInfo, msg.Type())
			infos++
		}
		assert.Positive(t, infos)
	}

	// nothing changed on the second pass
	assert.Equal(t, 0, p.refresh(context.Background()))
}

type stubEvents struct {
	records []events.Record
}

func (s stubEvents) RecentEvents(_ context.Context, kind string, limit int) ([]events.Record, error) {
	var out []events.Record
	for _, r := range s.records {
		if kind == "" || r.EntityKind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func newHTTP(t *testing.T, a *api.API, cfg Config) *httptest.Server {
	t.Helper()
	cfg.API = a
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC) }
	}
	handler, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path, token string, dst any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func TestHTTPHealthAndTasks(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()
	a.Process(ctx, packets.CreateTaskMessage{RequestID: 1, Name: "parent"})
	a.Process(ctx, packets.CreateTaskMessage{RequestID: 2, ParentID: 1, Name: "child"})
	a.Process(ctx, packets.TaskMessage{PacketType: packets.StartTask, RequestID: 3, TaskID: 2})
	srv := newHTTP(t, a, Config{})

	var health healthBody
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/health", "", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Tasks)
	assert.Equal(t, int32(2), health.ActiveTaskID)

	var tasks []TaskResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/tasks", "", &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "parent", tasks[0].Name)

	tasks = nil
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/tasks?state=active", "", &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, int32(2), tasks[0].ID)
	require.Len(t, tasks[0].Sessions, 1)
	assert.Nil(t, tasks[0].Sessions[0].Stop)

	var task TaskResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/tasks/1", "", &task))
	assert.Equal(t, "inactive", task.State)

	var apiErr apiError
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/v0/tasks/9", "", &apiErr))
	assert.Equal(t, "not_found", apiErr.Body.Code)
	assert.Equal(t, "Task with ID 9 does not exist.", apiErr.Body.Message)
}

func TestHTTPReports(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()
	a.Process(ctx, packets.CreateTaskMessage{RequestID: 1, Name: "work"})
	a.Process(ctx, packets.TaskMessage{PacketType: packets.StartTask, RequestID: 2, TaskID: 1})
	srv := newHTTP(t, a, Config{})

	var daily DailyReportResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/reports/daily", "", &daily))
	assert.Equal(t, "2025-02-03", daily.Date)
	assert.True(t, daily.Found)
	assert.Equal(t, []SessionIndex{{TaskID: 1, Index: 0}}, daily.Sessions)

	daily = DailyReportResponse{}
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/reports/daily?date=2025-02-04", "", &daily))
	assert.False(t, daily.Found)

	var weekly WeeklyReportResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/reports/weekly?date=2025-02-05", "", &weekly))
	require.Len(t, weekly.Days, 7)
	assert.Equal(t, "2025-02-02", weekly.Days[0].Date)
	assert.True(t, weekly.Days[1].Found)

	var apiErr apiError
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/v0/reports/daily?date=2025-02-30", "", &apiErr))
	assert.Equal(t, "invalid_date", apiErr.Body.Code)
	assert.Equal(t, "Invalid date 2/30/2025.", apiErr.Body.Message)

	apiErr = apiError{}
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/v0/reports/daily?date=tomorrow", "", &apiErr))
	assert.Equal(t, "bad_request", apiErr.Body.Code)
}

func TestHTTPEvents(t *testing.T) {
	id := "1"
	src := stubEvents{records: []events.Record{
		{ID: 2, TS: "2025-02-03T09:00:00Z", Type: "task.written", EntityKind: "task", EntityID: &id, PayloadJSON: `{"id":1}`},
		{ID: 1, TS: "2025-02-03T08:00:00Z", Type: "time_entry_config.written", EntityKind: "time_entry_config", PayloadJSON: `[]`},
	}}
	srv := newHTTP(t, newTestAPI(t, ""), Config{Events: src})

	var items []EventResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/events?kind=task", "", &items))
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].EntityID)
	assert.JSONEq(t, `{"id":1}`, string(items[0].Payload))

	noEvents := newHTTP(t, newTestAPI(t, ""), Config{})
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, noEvents, "/v0/events", "", nil))
}

func TestHTTPRequiresTokenWhenConfigured(t *testing.T) {
	secret := "test-secret"
	srv := newHTTP(t, newTestAPI(t, ""), Config{Auth: AuthConfig{JWTSecret: secret}})

	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/health", "", nil))

	var apiErr apiError
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv, "/v0/tasks", "", &apiErr))
	assert.Equal(t, "unauthorized", apiErr.Body.Code)
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv, "/v0/tasks", "not-a-jwt", nil))

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte("other"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv, "/v0/tasks", wrong, nil))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	var me map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v0/me", token, &me))
	assert.Equal(t, "ops", me["subject"])
	assert.Equal(t, "jwt", me["source"])
}

func TestHTTPOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv := newHTTP(t, newTestAPI(t, ""), Config{})

	const n = 8
	bodies := make(chan []byte, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			bodies <- b
		}()
	}
	wg.Wait()
	close(errs)
	close(bodies)
	for err := range errs {
		require.NoError(t, err)
	}

	var first []byte
	for b := range bodies {
		if first == nil {
			first = b
			var doc map[string]any
			require.NoError(t, json.Unmarshal(b, &doc))
			assert.Contains(t, doc, "paths")
			continue
		}
		assert.Equal(t, first, b)
	}
	assert.NotNil(t, first)
}
