// Package ftp is a minimal passive-mode FTP client: login, binary mode, PASV,
// LIST and RETR. A Session is used by one goroutine for one high-level
// operation and then closed.
package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// State is the authentication state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateGreeted
	StateAuthenticated
	StateBinary
)

func (s State) String() string {
	switch s {
	case StateGreeted:
		return "greeted"
	case StateAuthenticated:
		return "authenticated"
	case StateBinary:
		return "binary"
	default:
		return "disconnected"
	}
}

// Config holds the dial parameters for a Session.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	Pasv           PasvPolicy
	ControlTimeout time.Duration
	DataTimeout    time.Duration

	// Logger receives protocol traces at debug level. Nil discards them.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = DefaultControlTimeout
	}
	if c.DataTimeout <= 0 {
		c.DataTimeout = DefaultDataTimeout
	}
	if c.Pasv == "" {
		c.Pasv = PasvReported
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Session is an authenticated control connection in binary mode.
type Session struct {
	cfg    Config
	conn   net.Conn
	reader *bufio.Reader
	state  State
	closed atomic.Bool
	logger *slog.Logger
}

// Dial resolves cfg.Host, connects, reads the greeting, logs in and switches
// to binary mode. The returned Session must be closed by the caller.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, cfg.Host)
	if err != nil || len(ips) == 0 {
		if err == nil {
			err = fmt.Errorf("no addresses for %q", cfg.Host)
		}
		return nil, &Error{Kind: KindDNSResolution, Op: "resolve", Err: err}
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.IP.String(), strconv.Itoa(cfg.Port)))
	}

	conn, addr, err := dialAny(ctx, addrs, cfg.ControlTimeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: cfg.Logger.With("ftp", addr),
	}
	if err := s.handshake(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// dialAny tries each address in order and returns the first connection.
// The error is the last address's.
func dialAny(ctx context.Context, addrs []string, timeout time.Duration) (net.Conn, string, error) {
	var err error
	for _, addr := range addrs {
		var c net.Conn
		c, err = dialTCP(ctx, addr, timeout, controlReadBuffer, "dial", KindConnectFailed)
		if err == nil {
			return c, addr, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", err
}

func (s *Session) handshake() error {
	r, err := s.readReply("greeting")
	if err != nil {
		return err
	}
	if r.Code != 220 {
		return unexpected("greeting", r)
	}
	s.state = StateGreeted

	r, err = s.cmd("USER", s.cfg.User)
	if err != nil {
		return err
	}
	switch r.Code {
	case 230:
	case 331:
		if _, err := s.expect("PASS", []string{s.cfg.Password}, 230); err != nil {
			return err
		}
	default:
		return unexpected("USER", r)
	}
	s.state = StateAuthenticated

	if _, err := s.expect("TYPE", []string{"I"}, 200); err != nil {
		return err
	}
	s.state = StateBinary
	return nil
}

// State reports how far the handshake got.
func (s *Session) State() State { return s.state }

// Quit sends QUIT without waiting long for the reply and closes the connection.
func (s *Session) Quit() error {
	if s.state != StateDisconnected && !s.closed.Load() {
		if dc, ok := s.conn.(*deadlineConn); ok {
			dc.timeout = time.Second
		}
		if _, err := io.WriteString(s.conn, "QUIT\r\n"); err == nil {
			s.logger.Debug("ftp command", "cmd", "QUIT")
			_, _ = readReply(s.reader)
		}
	}
	s.state = StateDisconnected
	return s.Close()
}

// Close closes the control connection without QUIT. It is safe to call from
// another goroutine to interrupt a blocked operation.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
