package ftp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Reply is one complete server reply on the control channel.
type Reply struct {
	// Code is the three-digit reply code (e.g. 220, 550).
	Code int
	// Message is the text after the code; multi-line replies are joined with "\n".
	Message string
	Lines   []string
}

func (r *Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// readReply reads a single-line or multi-line reply:
//
//	"220 Ready\r\n"
//	"220-Welcome\r\n" ... "220 Ready\r\n"
//
// The reply ends on a line that starts with the code followed by a space.
func readReply(r *bufio.Reader) (*Reply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 {
		// bare "220" with no text is legal
		if len(line) == 3 {
			line += " "
		} else {
			return nil, fmt.Errorf("invalid reply line: %q", line)
		}
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil {
		return nil, fmt.Errorf("invalid reply code: %q", line[0:3])
	}

	lines := []string{line}
	if line[3] == ' ' {
		return &Reply{Code: code, Message: line[4:], Lines: lines}, nil
	}
	if line[3] != '-' {
		return nil, fmt.Errorf("invalid reply format: %q", line)
	}

	prefix := line[0:3]
	for {
		next, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		next = strings.TrimRight(next, "\r\n")
		lines = append(lines, next)
		if len(next) >= 4 && next[0:3] == prefix && next[3] == ' ' {
			break
		}
	}

	msg := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 4 && l[0:3] == prefix {
			msg = append(msg, l[4:])
		} else {
			msg = append(msg, strings.TrimLeft(l, " "))
		}
	}
	return &Reply{Code: code, Message: strings.Join(msg, "\n"), Lines: lines}, nil
}

// validArg rejects arguments that would break command framing.
func validArg(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// cmd sends one command and reads its reply.
func (s *Session) cmd(verb string, args ...string) (*Reply, error) {
	line := verb
	if len(args) > 0 {
		for _, a := range args {
			if !validArg(a) {
				return nil, &Error{Kind: KindUnexpectedReply, Op: verb, Err: fmt.Errorf("invalid argument %q", a)}
			}
		}
		line = verb + " " + strings.Join(args, " ")
	}

	logged := line
	if verb == "PASS" {
		logged = "PASS ****"
	}
	s.logger.Debug("ftp command", "cmd", logged)

	if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
		return nil, classifyIO(verb, err, KindConnectFailed)
	}
	return s.readReply(verb)
}

func (s *Session) readReply(op string) (*Reply, error) {
	r, err := readReply(s.reader)
	if err != nil {
		return nil, classifyIO(op, err, KindUnexpectedReply)
	}
	s.logger.Debug("ftp response", "code", r.Code, "message", r.Message)
	return r, nil
}

// expect sends a command and checks the reply code against want.
func (s *Session) expect(verb string, args []string, want ...int) (*Reply, error) {
	r, err := s.cmd(verb, args...)
	if err != nil {
		return nil, err
	}
	if !hasCode(r, want) {
		return r, unexpected(verb, r)
	}
	return r, nil
}

func hasCode(r *Reply, codes []int) bool {
	for _, c := range codes {
		if r.Code == c {
			return true
		}
	}
	return false
}
