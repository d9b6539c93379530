package ftp

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

const (
	DefaultPort           = 21
	DefaultControlTimeout = 10 * time.Second
	DefaultDataTimeout    = 15 * time.Second

	controlReadBuffer = 16 << 10
	dataReadBuffer    = 32 << 10
)

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// dialTCP opens a keepalive TCP connection with the given receive buffer and
// wraps it with per-operation deadlines. Failures are classified into the
// socket/timeout/connect kinds; op names the step for the error.
func dialTCP(ctx context.Context, addr string, timeout time.Duration, readBuffer int, op string, failKind Kind) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDial(op, err, failKind)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetReadBuffer(readBuffer)
	}
	return &deadlineConn{Conn: c, timeout: timeout}, nil
}

func classifyDial(op string, err error, failKind Kind) error {
	var se *os.SyscallError
	if errors.As(err, &se) && se.Syscall == "socket" {
		return &Error{Kind: KindSocketCreate, Op: op, Err: err}
	}
	return classifyIO(op, err, failKind)
}

// classifyIO maps an I/O error on an established or pending connection to a
// Kind, using fallback when it is not a timeout.
func classifyIO(op string, err error, fallback Kind) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}
