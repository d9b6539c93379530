package ftp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxListingSize bounds the bytes read from a LIST data channel.
const MaxListingSize = 4 << 20

// Entry is one decoded line of a Unix-style LIST response.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// List runs LIST on dir (the server's working directory when empty) and
// decodes the response. The final reply after the data channel closes is
// only logged.
func (s *Session) List(ctx context.Context, dir string) ([]Entry, error) {
	dc, err := s.Passive(ctx)
	if err != nil {
		return nil, err
	}
	defer dc.Close()

	var args []string
	if dir != "" {
		args = append(args, dir)
	}
	if _, err := s.expect("LIST", args, 150, 125); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(dc, MaxListingSize+1))
	if err != nil {
		return nil, classifyIO("LIST data", err, KindDataConnectFailed)
	}
	if len(data) > MaxListingSize {
		return nil, fmt.Errorf("list %q: %w", dir, ErrListingTooLarge)
	}
	dc.Close()

	if r, err := s.readReply("LIST"); err != nil {
		s.logger.Debug("no final reply after LIST", "err", err)
	} else if r.Code != 226 && r.Code != 250 {
		s.logger.Debug("unexpected final reply after LIST", "code", r.Code, "message", r.Message)
	}

	return ParseList(data), nil
}

// ParseList decodes a LIST payload, one entry per CR/LF-terminated line.
// Lines that match neither Unix layout are skipped, as are "." and "..".
func ParseList(data []byte) []Entry {
	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), MaxListingSize)
	for sc.Scan() {
		e, ok := parseListLine(strings.TrimRight(sc.Text(), "\r"))
		if !ok || e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out
}

// parseListLine handles the two common Unix layouts:
//
//	perms links owner group size month day time name   (9 fields)
//	perms links owner size month day time name         (8 fields)
//
// The name keeps interior spaces; a symlink "name -> target" keeps only name.
func parseListLine(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Entry{}, false
	}
	if !strings.ContainsRune("-dlbcps", rune(fields[0][0])) {
		return Entry{}, false
	}

	sizeIdx, nameIdx := -1, -1
	if len(fields) >= 9 {
		if _, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			sizeIdx, nameIdx = 4, 8
		}
	}
	if sizeIdx < 0 {
		if _, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			sizeIdx, nameIdx = 3, 7
		}
	}
	if sizeIdx < 0 {
		return Entry{}, false
	}

	size, _ := strconv.ParseInt(fields[sizeIdx], 10, 64)
	name := line[fieldOffset(line, nameIdx):]
	if i := strings.Index(name, " -> "); i >= 0 && fields[0][0] == 'l' {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, false
	}

	return Entry{Name: name, Dir: fields[0][0] == 'd', Size: size}, true
}

// fieldOffset returns the byte offset of the n-th whitespace-separated field.
func fieldOffset(line string, n int) int {
	i := 0
	for f := 0; ; f++ {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if f == n {
			return i
		}
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
	}
}
