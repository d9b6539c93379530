// Package browse lists remote directories and merges each file with its
// shareable flag from the registry.
package browse

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"ftpshare/internal/fsutil"
	"ftpshare/internal/ftp"
	"ftpshare/internal/share"
)

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Item is one listing record as served to the UI.
type Item struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	Shareable bool   `json:"shareable"`
}

type Lister struct {
	Dial     ftp.Config
	Registry *share.Registry
	Logger   *slog.Logger
}

// List opens a session, lists dir (already cleaned) and closes the session.
// Files enter the registry as not shareable unless already known.
func (l *Lister) List(ctx context.Context, dir string) ([]Item, error) {
	log := l.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sess, err := ftp.Dial(ctx, l.Dial)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer func() {
		stop()
		sess.Quit()
	}()

	entries, err := sess.List(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}

	items := make([]Item, 0, len(entries))
	var files []string
	var fileIdx []int
	for _, e := range entries {
		it := Item{Name: e.Name, Path: fsutil.JoinRemote(dir, e.Name), Type: TypeFile, Size: e.Size}
		if e.Dir {
			it.Type = TypeDirectory
			it.Size = 0
		} else {
			files = append(files, it.Path)
			fileIdx = append(fileIdx, len(items))
		}
		items = append(items, it)
	}
	for i, shareable := range l.Registry.Observe(files) {
		items[fileIdx[i]].Shareable = shareable
	}

	log.Debug("listed directory", "dir", dir, "entries", len(items))
	return items, nil
}
