package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/api"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
)

const defaultWriteTimeout = 10 * time.Second

// malformedPacketText answers a request frame that could not be decoded.
const malformedPacketText = "Malformed packet."

// TCPServer serves the binary protocol. Any number of clients may connect;
// the API serializes their requests.
type TCPServer struct {
	API          *api.API
	Hub          *Hub
	Logger       *slog.Logger
	WriteTimeout time.Duration

	wg sync.WaitGroup
}

func NewTCP(a *api.API, log *slog.Logger) *TCPServer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TCPServer{API: a, Hub: NewHub(), Logger: log, WriteTimeout: defaultWriteTimeout}
}

// Serve accepts connections on ln until ctx is done, then disconnects
// every client and waits for their loops to end.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer func() {
		s.Hub.CloseAll()
		s.wg.Wait()
	}()

	s.Logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle runs one connection: read a frame, decode it, process it and
// queue the replies, until the peer goes away.
func (s *TCPServer) handle(ctx context.Context, conn net.Conn) {
	c := newClient(conn, s.Logger)
	s.Hub.add(c)
	defer func() {
		s.Hub.remove(c)
		c.close()
	}()
	go c.writeLoop(s.WriteTimeout)

	c.log.Info("client connected")
	r := bufio.NewReader(conn)
	for {
		frame, err := packets.ReadFrame(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.log.Info("client disconnected")
				c.finish()
				<-c.done
			case errors.Is(err, net.ErrClosed):
				c.log.Info("client disconnected")
			default:
				c.log.Warn("read failed", "err", err)
			}
			return
		}
		msg, _, err := packets.Parse(frame)
		if err != nil {
			c.log.Warn("dropping packet", "err", err)
			if id, ok := packets.RequestIDOf(frame); ok {
				c.send(packets.FailureResponse{RequestID: id, Message: malformedPacketText})
			}
			continue
		}
		c.log.Debug("received", "msg", msg.String())
		if !c.send(s.API.Process(ctx, msg)...) {
			return
		}
	}
}

// RunRefresh refreshes every issue tracker instance each interval and
// broadcasts what changed, until ctx is done.
func (s *TCPServer) RunRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	p := refreshPoller{api: s.API, hub: s.Hub, log: s.Logger}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

type refreshPoller struct {
	api *api.API
	hub *Hub
	log *slog.Logger
}

func (p refreshPoller) refresh(ctx context.Context) int {
	msgs := p.api.RefreshAll(ctx)
	if len(msgs) == 0 {
		return 0
	}
	sent := p.hub.Broadcast(msgs)
	p.log.Info("broadcast bugzilla changes", "tasks", len(msgs)-2, "clients", sent)
	return sent
}
