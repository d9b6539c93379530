// Package share keeps the in-memory table of remote files and the
// time-limited links that grant anonymous access to shareable ones.
package share

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	MinHours     = 1
	MaxHours     = 72
	DefaultHours = 24

	tokenAttempts = 8
)

var (
	ErrNotShareable = errors.New("share: file is not shareable")
	ErrNotFound     = errors.New("share: unknown token")
	ErrTokenSpace   = errors.New("share: could not draw an unused token")
)

// FileEntry records whether a remote path may be shared.
type FileEntry struct {
	Path      string
	Shareable bool
}

// Link is an active share token for one remote path.
type Link struct {
	Path   string
	Token  string
	Expiry time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	files map[string]*FileEntry
	links map[string]Link

	now  func() time.Time
	rand func([]byte) (int, error)
}

func NewRegistry() *Registry {
	return &Registry{
		files: make(map[string]*FileEntry),
		links: make(map[string]Link),
		now:   time.Now,
		rand:  rand.Read,
	}
}

// Observe records paths seen in a listing as not shareable unless already
// known, and returns the current flag for each.
func (r *Registry) Observe(paths []string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(paths))
	for i, p := range paths {
		e, ok := r.files[p]
		if !ok {
			e = &FileEntry{Path: p}
			r.files[p] = e
		}
		out[i] = e.Shareable
	}
	return out
}

// ToggleShareable sets the flag for path, creating the entry if needed, and
// returns the flag now in effect. Existing links are not revoked.
func (r *Registry) ToggleShareable(path string, shareable bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.files[path]
	if !ok {
		e = &FileEntry{Path: path}
		r.files[path] = e
	}
	e.Shareable = shareable
	return e.Shareable
}

func (r *Registry) IsShareable(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.files[path]
	return ok && e.Shareable
}

// ClampHours limits a requested link lifetime to [MinHours, MaxHours].
func ClampHours(hours int) int {
	return max(MinHours, min(hours, MaxHours))
}

// Create issues a link for a shareable path valid for hours (clamped).
func (r *Registry) Create(path string, hours int) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.files[path]; !ok || !e.Shareable {
		return Link{}, ErrNotShareable
	}

	var token string
	for i := 0; i < tokenAttempts; i++ {
		t, err := r.drawToken()
		if err != nil {
			return Link{}, err
		}
		if _, taken := r.links[t]; !taken {
			token = t
			break
		}
	}
	if token == "" {
		return Link{}, ErrTokenSpace
	}

	l := Link{
		Path:   path,
		Token:  token,
		Expiry: r.now().Add(time.Duration(ClampHours(hours)) * time.Hour),
	}
	r.links[token] = l
	return l, nil
}

// drawToken returns 8 lowercase hex digits from 32 random bits.
func (r *Registry) drawToken() (string, error) {
	var b [4]byte
	if _, err := r.rand(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Resolve returns the path behind token. Expiry is enforced by Sweep only,
// so an expired link resolves until the next sweep.
func (r *Registry) Resolve(token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[token]
	if !ok {
		return "", ErrNotFound
	}
	return l.Path, nil
}

// Sweep drops links whose expiry is before now and reports how many.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for t, l := range r.links {
		if l.Expiry.Before(now) {
			delete(r.links, t)
			n++
		}
	}
	return n
}

// Links returns the active links ordered by expiry.
func (r *Registry) Links() []Link {
	r.mu.Lock()
	out := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expiry.Equal(out[j].Expiry) {
			return out[i].Token < out[j].Token
		}
		return out[i].Expiry.Before(out[j].Expiry)
	})
	return out
}
