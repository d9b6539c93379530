package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
)

// PasvPolicy selects the address dialed for a passive data channel.
type PasvPolicy string

const (
	// PasvReported dials the address exactly as reported in the 227 reply.
	PasvReported PasvPolicy = "reported"
	// PasvControl dials the control connection's peer with the reported port,
	// for servers behind NAT that report a private address.
	PasvControl PasvPolicy = "control"
)

// ParsePasvPolicy accepts "", "reported" or "control".
func ParsePasvPolicy(s string) (PasvPolicy, error) {
	switch PasvPolicy(s) {
	case "", PasvReported:
		return PasvReported, nil
	case PasvControl:
		return PasvControl, nil
	}
	return "", fmt.Errorf("unknown pasv address policy %q (want reported or control)", s)
}

// pasvRegex matches the tuple of a 227 reply: (h1,h2,h3,h4,p1,p2)
var pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// ParsePASV decodes a 227 reply text into an IPv4 address and port.
// Example: "Entering Passive Mode (192,168,1,10,19,137)" gives 192.168.1.10 and 5001.
func ParsePASV(text string) (net.IP, int, error) {
	m := pasvRegex.FindStringSubmatch(text)
	if len(m) != 7 {
		return nil, 0, &Error{Kind: KindPasvParse, Op: "PASV", Err: fmt.Errorf("no address tuple in %q", text)}
	}
	var v [6]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil || n < 0 || n > 255 {
			return nil, 0, &Error{Kind: KindPasvParse, Op: "PASV", Err: fmt.Errorf("field %d out of range: %q", i+1, m[i+1])}
		}
		v[i] = n
	}
	ip := net.IPv4(byte(v[0]), byte(v[1]), byte(v[2]), byte(v[3]))
	return ip, v[4]*256 + v[5], nil
}

// DataChannel is the passive data connection opened for a single LIST or RETR.
type DataChannel struct {
	conn net.Conn
}

// Read returns io.EOF at the end of the transfer; other errors are *Error
// with KindTimeout or KindDataConnectFailed.
func (d *DataChannel) Read(p []byte) (int, error) {
	n, err := d.conn.Read(p)
	if err != nil && err != io.EOF {
		err = classifyIO("data read", err, KindDataConnectFailed)
	}
	return n, err
}

func (d *DataChannel) Close() error { return d.conn.Close() }

// Passive sends PASV and connects to the announced data port according to
// the configured PasvPolicy.
func (s *Session) Passive(ctx context.Context) (*DataChannel, error) {
	r, err := s.expect("PASV", nil, 227)
	if err != nil {
		return nil, err
	}
	ip, port, err := ParsePASV(r.Message)
	if err != nil {
		return nil, err
	}

	host := ip.String()
	if s.cfg.Pasv == PasvControl {
		if peer, _, err := net.SplitHostPort(s.conn.RemoteAddr().String()); err == nil {
			host = peer
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.logger.Debug("opening data channel", "addr", addr, "policy", string(s.cfg.Pasv))

	c, err := dialTCP(ctx, addr, s.cfg.DataTimeout, dataReadBuffer, "data dial", KindDataConnectFailed)
	if err != nil {
		return nil, err
	}
	return &DataChannel{conn: c}, nil
}
