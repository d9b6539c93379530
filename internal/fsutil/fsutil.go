package fsutil

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrPathEscape  = errors.New("path escape")
	ErrInvalidPath = errors.New("invalid path")
)

// CleanRemotePath takes a user path like "", ".", "a/b", "/a//b/" or
// "\a\b" and returns a slash-based absolute remote path ("/" means root).
// It rejects ".." segments and characters that cannot travel on an FTP
// command line.
func CleanRemotePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.ContainsAny(p, "\r\n\x00") {
		return "", ErrInvalidPath
	}
	if p == "" || p == "." || p == "/" {
		return "/", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrPathEscape
		}
	}
	return path.Clean("/" + p), nil
}

// JoinRemote joins a cleaned directory and an entry name from a listing.
func JoinRemote(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
