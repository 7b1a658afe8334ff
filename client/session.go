// Package client keeps the single connection to the world-state service
// and moves transmission units over it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotConnected = errors.New("client: session not connected")
	ErrInvalidState = errors.New("client: invalid session state")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "errored"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is one established message-oriented connection.
type Conn interface {
	// Write sends one message.
	Write(ctx context.Context, msg []byte) error
	// Read blocks for the next inbound message.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type Option func(*Session)

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver registers a hook that sees every inbound message. It runs on
// the session's reader goroutine and has no influence on the session.
func WithObserver(f func(msg string)) Option {
	return func(s *Session) {
		s.observer = f
	}
}

// Session is a single, non-reconnecting connection to the remote service.
//
//	Disconnected -> Connecting -> Connected -> Closed
//	Connecting, Connected -> Errored
//	any -> Closed
//
// Once Errored, every Send fails until a new Session is created.
type Session struct {
	id       uuid.UUID
	endpoint string
	dialer   Dialer
	log      *slog.Logger
	observer func(string)

	mu    sync.Mutex
	state State
	conn  Conn
	err   error

	writeMu sync.Mutex
}

func NewSession(d Dialer, endpoint string, opts ...Option) *Session {
	s := &Session{
		id:       uuid.New(),
		endpoint: endpoint,
		dialer:   d,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id.String(), "endpoint", endpoint)
	return s
}

func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to Errored, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open dials the endpoint. It is only legal on a fresh session. A dial
// failure leaves the session Errored.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("open in state %s: %w", st, ErrInvalidState)
	}
	s.state = Connecting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.endpoint)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.state == Connecting {
			s.state = Errored
			s.err = err
		}
		s.log.Error("connect failed", "error", err)
		return fmt.Errorf("connect %s: %w", s.endpoint, err)
	}
	if s.state != Connecting {
		// closed while dialing
		conn.Close()
		return fmt.Errorf("open in state %s: %w", s.state, ErrInvalidState)
	}
	s.state = Connected
	s.conn = conn
	go s.readLoop(conn)
	s.log.Info("connected")
	return nil
}

// readLoop drains inbound messages until the connection fails or is
// closed. Close does not wait for it or for the observer.
func (s *Session) readLoop(conn Conn) {
	for {
		msg, err := conn.Read(context.Background())
		if err != nil {
			s.mu.Lock()
			if s.state == Connected {
				s.state = Errored
				s.err = err
				s.log.Error("connection lost", "error", err)
			}
			s.mu.Unlock()
			return
		}
		s.log.Debug("message from server", "message", string(msg))
		if s.observer != nil {
			s.observer(string(msg))
		}
	}
}

// Send writes payload as one message. Outside Connected it writes nothing
// and returns an error wrapping ErrNotConnected.
func (s *Session) Send(ctx context.Context, payload string) error {
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if st != Connected {
		return fmt.Errorf("send in state %s: %w", st, ErrNotConnected)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.Write(ctx, []byte(payload)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	s.log.Debug("sent", "bytes", len(payload))
	return nil
}

// Close moves the session to Closed from any state and releases the
// connection. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.log.Info("closed")
		return nil
	}
	err := conn.Close()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	s.log.Info("closed")
	return nil
}
