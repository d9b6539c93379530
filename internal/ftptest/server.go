// Package ftptest runs a small scripted FTP server on the loopback interface
// for tests. It speaks just enough of the protocol for the client in
// internal/ftp: USER, PASS, TYPE, PASV, LIST, RETR and QUIT.
package ftptest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Script configures the server's behavior. The zero value accepts anonymous
// logins and serves nothing.
type Script struct {
	// Greeting replaces the "220 ftptest ready" line when set (e.g. "421 busy").
	Greeting string
	// Password, when set, makes USER answer 331 and PASS check it.
	User     string
	Password string

	// Files maps a RETR argument to its content; unknown paths get 550.
	Files map[string][]byte
	// Listings maps a LIST argument ("" for none) to the raw listing text.
	Listings map[string]string

	// PasvReply replaces the 227 reply line when set.
	PasvReply string
	// PasvHost is the IPv4 address announced in 227 replies (default 127.0.0.1).
	PasvHost string

	// FinalCode is sent after a RETR payload (default 226).
	FinalCode int
	// OmitFinalReply closes the control connection after a RETR payload
	// instead of sending the final reply.
	OmitFinalReply bool
	// Hold, when non-nil, delays every RETR payload until it is closed.
	Hold <-chan struct{}
}

// Server is a running scripted FTP server.
type Server struct {
	script Script
	ln     net.Listener

	mu    sync.Mutex
	cmds  []string
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Start listens on 127.0.0.1 and serves until the test ends.
func Start(tb testing.TB, script Script) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("ftptest: listen: %v", err)
	}
	s := &Server{script: script, ln: ln, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)
	return s
}

// Host returns the listen address without the port.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the control port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Commands returns the command lines received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				c.Close()
			}()
			(&session{srv: s, conn: c, w: bufio.NewWriter(c)}).run()
		}()
	}
}

type session struct {
	srv  *Server
	conn net.Conn
	w    *bufio.Writer
	pasv net.Listener
}

func (ss *session) reply(code int, message string) {
	fmt.Fprintf(ss.w, "%d %s\r\n", code, message)
	ss.w.Flush()
}

func (ss *session) raw(line string) {
	fmt.Fprintf(ss.w, "%s\r\n", line)
	ss.w.Flush()
}

func (ss *session) run() {
	sc := ss.srv.script
	if sc.Greeting != "" {
		ss.raw(sc.Greeting)
		if !strings.HasPrefix(sc.Greeting, "220") {
			return
		}
	} else {
		ss.raw("220-ftptest")
		ss.reply(220, "ready")
	}
	defer func() {
		if ss.pasv != nil {
			ss.pasv.Close()
		}
	}()

	r := bufio.NewReader(ss.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		ss.srv.mu.Lock()
		ss.srv.cmds = append(ss.srv.cmds, line)
		ss.srv.mu.Unlock()

		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "USER":
			if sc.Password == "" {
				ss.reply(230, "Login successful.")
			} else {
				ss.reply(331, "Please specify the password.")
			}
		case "PASS":
			if arg == sc.Password {
				ss.reply(230, "Login successful.")
			} else {
				ss.reply(530, "Login incorrect.")
			}
		case "TYPE":
			ss.reply(200, "Switching to Binary mode.")
		case "PASV":
			ss.handlePASV()
		case "LIST":
			ss.handleLIST(arg)
		case "RETR":
			if !ss.handleRETR(arg) {
				return
			}
		case "QUIT":
			ss.reply(221, "Goodbye.")
			return
		default:
			ss.reply(502, "Command not implemented.")
		}
	}
}

func (ss *session) handlePASV() {
	if ss.pasv != nil {
		ss.pasv.Close()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		ss.reply(425, "Can't open passive connection.")
		return
	}
	ss.pasv = ln

	if ss.srv.script.PasvReply != "" {
		ss.raw(ss.srv.script.PasvReply)
		return
	}
	host := ss.srv.script.PasvHost
	if host == "" {
		host = "127.0.0.1"
	}
	port := ln.Addr().(*net.TCPAddr).Port
	tuple := strings.ReplaceAll(host, ".", ",") + "," + strconv.Itoa(port/256) + "," + strconv.Itoa(port%256)
	ss.reply(227, "Entering Passive Mode ("+tuple+").")
}

func (ss *session) acceptData() (net.Conn, bool) {
	if ss.pasv == nil {
		ss.reply(425, "Use PASV first.")
		return nil, false
	}
	ln := ss.pasv
	ss.pasv = nil
	defer ln.Close()
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	c, err := ln.Accept()
	if err != nil {
		ss.reply(425, "Can't open data connection.")
		return nil, false
	}
	return c, true
}

func (ss *session) handleLIST(dir string) {
	text, ok := ss.srv.script.Listings[dir]
	if !ok {
		if ss.pasv != nil {
			ss.pasv.Close()
			ss.pasv = nil
		}
		ss.reply(550, "Failed to open directory.")
		return
	}
	ss.reply(150, "Here comes the directory listing.")
	dc, ok := ss.acceptData()
	if !ok {
		return
	}
	_, _ = dc.Write([]byte(text))
	dc.Close()
	ss.reply(226, "Directory send OK.")
}

// handleRETR reports false when the control connection should be dropped.
func (ss *session) handleRETR(path string) bool {
	sc := ss.srv.script
	data, ok := sc.Files[path]
	if !ok {
		if ss.pasv != nil {
			ss.pasv.Close()
			ss.pasv = nil
		}
		ss.reply(550, "Failed to open file.")
		return true
	}
	ss.reply(150, fmt.Sprintf("Opening BINARY mode data connection for %s (%d bytes).", path, len(data)))
	dc, ok := ss.acceptData()
	if !ok {
		return true
	}
	if sc.Hold != nil {
		<-sc.Hold
	}
	_, _ = dc.Write(data)
	dc.Close()

	if sc.OmitFinalReply {
		return false
	}
	code := sc.FinalCode
	if code == 0 {
		code = 226
	}
	ss.reply(code, "Transfer complete.")
	return true
}
