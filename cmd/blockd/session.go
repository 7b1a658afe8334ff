package main

import (
	"context"
	"net"
	"sync"

	"github.com/coder/websocket"

	"github.com/icexin/gocraft-gridsync/client"
)

// Session is the reply side of one connected client.
type Session struct {
	remote string
	mu     sync.Mutex
	send   func(msg []byte) error
}

func NewStreamSession(remote string, reply net.Conn) *Session {
	return &Session{
		remote: remote,
		send:   func(msg []byte) error { return client.WriteFrame(reply, msg) },
	}
}

func NewWebSocketSession(ctx context.Context, remote string, c *websocket.Conn) *Session {
	return &Session{
		remote: remote,
		send:   func(msg []byte) error { return c.Write(ctx, websocket.MessageText, msg) },
	}
}

func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) Reply(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send([]byte(text))
}
