package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/hashicorp/yamux"
)

// MaxFrame bounds a single framed message on a yamux stream.
const MaxFrame = 16 << 20

// YamuxDialer connects to a tcp:// endpoint. The server first writes the
// client id as a big-endian int32, then both sides run a yamux session:
// the client opens the command stream, the server opens the reply stream.
// Messages on either stream are framed with a big-endian uint32 length.
type YamuxDialer struct {
	Config *yamux.Config
}

func (d YamuxDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, err := newYamuxConn(conn, d.Config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return c, nil
}

type yamuxConn struct {
	ClientID int32

	sess    *yamux.Session
	command net.Conn
	reply   net.Conn
}

func newYamuxConn(conn net.Conn, cfg *yamux.Config) (*yamuxConn, error) {
	c := new(yamuxConn)
	if err := binary.Read(conn, binary.BigEndian, &c.ClientID); err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	sess, err := yamux.Client(conn, cfg)
	if err != nil {
		return nil, err
	}
	c.sess = sess
	c.command, err = sess.Open()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("open command stream: %w", err)
	}
	c.reply, err = sess.Accept()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("accept reply stream: %w", err)
	}
	return c, nil
}

func (c *yamuxConn) Write(ctx context.Context, msg []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.command.SetWriteDeadline(deadline)
		defer c.command.SetWriteDeadline(time.Time{})
	}
	return WriteFrame(c.command, msg)
}

func (c *yamuxConn) Read(ctx context.Context) ([]byte, error) {
	return ReadFrame(c.reply)
}

func (c *yamuxConn) Close() error {
	return c.sess.Close()
}

func WriteFrame(w io.Writer, msg []byte) error {
	if len(msg) > MaxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(msg))
	}
	buf := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[4:], msg)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > MaxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
