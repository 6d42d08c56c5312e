package microtasksdk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

// RequestError is a request the server rejected.
type RequestError struct {
	RequestID domain.RequestID
	Message   string
}

func (e *RequestError) Error() string { return e.Message }

// Conn is a binary protocol connection. Requests are issued one at a
// time; anything the server pushes meanwhile goes to OnMessage.
type Conn struct {
	// OnMessage receives messages that do not answer the current request,
	// such as issue tracker updates. Nil drops them.
	OnMessage func(packets.Message)
	// Timeout bounds one request when ctx has no deadline.
	Timeout time.Duration

	conn   net.Conn
	r      *bufio.Reader
	mu     sync.Mutex
	nextID domain.RequestID
}

func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: nc, r: bufio.NewReader(nc), Timeout: 10 * time.Second}, nil
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) requestID() domain.RequestID {
	c.nextID++
	return c.nextID
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if c.Timeout > 0 {
		return time.Now().Add(c.Timeout)
	}
	return time.Time{}
}

func (c *Conn) receive() (packets.Message, error) {
	for {
		frame, err := packets.ReadFrame(c.r)
		if err != nil {
			return nil, err
		}
		msg, _, err := packets.Parse(frame)
		if err != nil {
			if errors.Is(err, packets.ErrUnknownPacketType) {
				continue
			}
			return nil, err
		}
		return msg, nil
	}
}

func (c *Conn) pushed(msg packets.Message) {
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

// roundTrip sends req and reads until its terminal response, then keeps
// reading until done accepts a message. done may be nil when the request
// has no data reply.
func (c *Conn) roundTrip(ctx context.Context, req packets.Request, done func(packets.Message) bool) (packets.Message, error) {
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	defer c.conn.SetDeadline(time.Time{})
	if err := packets.Write(c.conn, req); err != nil {
		return nil, err
	}
	id := req.Request()
	for {
		msg, err := c.receive()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case packets.SuccessResponse:
			if m.RequestID == id {
				if done == nil {
					return m, nil
				}
				return c.await(done)
			}
		case packets.FailureResponse:
			if m.RequestID == id {
				return nil, &RequestError{RequestID: id, Message: m.Message}
			}
		}
		c.pushed(msg)
	}
}

func (c *Conn) await(done func(packets.Message) bool) (packets.Message, error) {
	for {
		msg, err := c.receive()
		if err != nil {
			return nil, err
		}
		if done(msg) {
			return msg, nil
		}
		c.pushed(msg)
	}
}

func taskInfoFor(id *domain.TaskID) func(packets.Message) bool {
	return func(msg packets.Message) bool {
		info, ok := msg.(packets.TaskInfoMessage)
		if !ok {
			return false
		}
		if *id == 0 && info.NewTask {
			*id = info.TaskID
			return true
		}
		return info.TaskID == *id
	}
}

func (c *Conn) taskRequest(ctx context.Context, req packets.Request, id domain.TaskID) (packets.TaskInfoMessage, error) {
	msg, err := c.roundTrip(ctx, req, taskInfoFor(&id))
	if err != nil {
		return packets.TaskInfoMessage{}, err
	}
	return msg.(packets.TaskInfoMessage), nil
}

// CreateTask creates a task under parent, or at the root when parent is
// zero, and returns its description.
func (c *Conn) CreateTask(ctx context.Context, parent domain.TaskID, name string, labels ...string) (packets.TaskInfoMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := packets.CreateTaskMessage{RequestID: c.requestID(), ParentID: parent, Name: name, Labels: labels}
	return c.taskRequest(ctx, req, 0)
}

func (c *Conn) StartTask(ctx context.Context, id domain.TaskID) (packets.TaskInfoMessage, error) {
	return c.taskCommand(ctx, packets.StartTask, id)
}

func (c *Conn) StopTask(ctx context.Context, id domain.TaskID) (packets.TaskInfoMessage, error) {
	return c.taskCommand(ctx, packets.StopTask, id)
}

func (c *Conn) FinishTask(ctx context.Context, id domain.TaskID) (packets.TaskInfoMessage, error) {
	return c.taskCommand(ctx, packets.FinishTask, id)
}

func (c *Conn) Task(ctx context.Context, id domain.TaskID) (packets.TaskInfoMessage, error) {
	return c.taskCommand(ctx, packets.RequestTask, id)
}

func (c *Conn) taskCommand(ctx context.Context, t packets.PacketType, id domain.TaskID) (packets.TaskInfoMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskRequest(ctx, packets.TaskMessage{PacketType: t, RequestID: c.requestID(), TaskID: id}, id)
}

func (c *Conn) DailyReport(ctx context.Context, month, day, year int) (domain.DailyReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := packets.RequestDailyReportMessage{RequestID: c.requestID(), Month: month, Day: day, Year: year}
	msg, err := c.roundTrip(ctx, req, func(m packets.Message) bool {
		r, ok := m.(packets.DailyReportMessage)
		return ok && r.RequestID == req.RequestID
	})
	if err != nil {
		return domain.DailyReport{}, err
	}
	return msg.(packets.DailyReportMessage).Report, nil
}

func (c *Conn) WeeklyReport(ctx context.Context, month, day, year int) (domain.WeeklyReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := packets.RequestWeeklyReportMessage{RequestID: c.requestID(), Month: month, Day: day, Year: year}
	msg, err := c.roundTrip(ctx, req, func(m packets.Message) bool {
		r, ok := m.(packets.WeeklyReportMessage)
		return ok && r.RequestID == req.RequestID
	})
	if err != nil {
		return domain.WeeklyReport{}, err
	}
	return msg.(packets.WeeklyReportMessage).Report, nil
}

// Configuration requests the full model dump and returns every message up
// to the completion marker.
func (c *Conn) Configuration(ctx context.Context) ([]packets.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	defer c.conn.SetDeadline(time.Time{})
	if err := packets.Write(c.conn, packets.BasicMessage{PacketType: packets.RequestConfiguration}); err != nil {
		return nil, err
	}
	var out []packets.Message
	for {
		msg, err := c.receive()
		if err != nil {
			return nil, fmt.Errorf("configuration: %w", err)
		}
		if msg.Type() == packets.RequestConfigurationComplete {
			return out, nil
		}
		out = append(out, msg)
	}
}
