package main

import (
	"encoding/binary"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/hashicorp/yamux"

	"github.com/icexin/gocraft-gridsync/client"
)

// Executor runs one transmission unit and describes the outcome.
type Executor interface {
	Execute(payload string) string
}

type Server struct {
	clientid int32
	sessions sync.Map // map[id]*Session
	exec     Executor
	log      *slog.Logger
}

func NewServer(exec Executor, log *slog.Logger) *Server {
	return &Server{
		exec: exec,
		log:  log,
	}
}

func (s *Server) nextID() int32 {
	return atomic.AddInt32(&s.clientid, 1)
}

// serve executes units read from recv and sends each reply on the session.
func (s *Server) serve(id int32, sess *Session, recv func() ([]byte, error)) {
	s.sessions.Store(id, sess)
	defer s.sessions.Delete(id)
	for {
		unit, err := recv()
		if err != nil {
			s.log.Info("closed connection", "client", id, "remote", sess.RemoteAddr(), "error", err)
			return
		}
		reply := s.exec.Execute(string(unit))
		if err := sess.Reply(reply); err != nil {
			s.log.Warn("reply failed", "client", id, "error", err)
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	id := s.nextID()
	s.log.Info("allocated client", "client", id, "remote", conn.RemoteAddr().String())
	// send id to client, handshake done.
	if err := binary.Write(conn, binary.BigEndian, id); err != nil {
		s.log.Warn("handshake failed", "client", id, "error", err)
		return
	}

	ysess, err := yamux.Server(conn, nil)
	if err != nil {
		s.log.Warn("yamux", "error", err)
		return
	}
	defer ysess.Close()

	command, err := ysess.Accept()
	if err != nil {
		s.log.Warn("accept command stream", "client", id, "error", err)
		return
	}
	reply, err := ysess.Open()
	if err != nil {
		s.log.Warn("open reply stream", "client", id, "error", err)
		return
	}
	sess := NewStreamSession(conn.RemoteAddr().String(), reply)
	s.serve(id, sess, func() ([]byte, error) { return client.ReadFrame(command) })
}

func (s *Server) ServeTCP(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			s.log.Warn("accept", "error", err)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept", "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(client.MaxFrame)

	id := s.nextID()
	s.log.Info("allocated client", "client", id, "remote", r.RemoteAddr)
	ctx := r.Context()
	sess := NewWebSocketSession(ctx, r.RemoteAddr, c)
	s.serve(id, sess, func() ([]byte, error) {
		_, msg, err := c.Read(ctx)
		return msg, err
	})
}

// Broadcast sends text to every connected client.
func (s *Server) Broadcast(text string) {
	s.sessions.Range(func(k, v interface{}) bool {
		v.(*Session).Reply(text)
		return true
	})
}

func (s *Server) Clients() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
