package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"ftpshare/internal/auth"
	"ftpshare/internal/browse"
	"ftpshare/internal/config"
	"ftpshare/internal/fsutil"
	"ftpshare/internal/ftp"
	"ftpshare/internal/logging"
	"ftpshare/internal/relay"
	"ftpshare/internal/share"
)

const maxJSONBody = 64 << 10

type Options struct {
	Config   config.Config
	Registry *share.Registry
	Logger   *slog.Logger
	// Pressure is the memory probe handed to every transfer.
	Pressure func() bool
}

type Server struct {
	cfg       config.Config
	dial      ftp.Config
	reg       *share.Registry
	lister    *browse.Lister
	auth      *auth.Basic
	transfers *semaphore.Weighted
	limiter   *ipRateLimiter
	relayOpts relay.Options
	log       *slog.Logger

	webFS fs.FS
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("httpserver: registry is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	dial := cfg.Dial(log.With("component", "ftp"))
	return &Server{
		cfg:  cfg,
		dial: dial,
		reg:  opts.Registry,
		lister: &browse.Lister{
			Dial:     dial,
			Registry: opts.Registry,
			Logger:   log,
		},
		auth:      auth.New(cfg),
		transfers: semaphore.NewWeighted(int64(max(cfg.MaxTransfers, 1))),
		limiter:   newIPRateLimiter(cfg.Share.RatePerMinute, cfg.Share.RateBurst),
		relayOpts: relay.Options{
			BufferSize: cfg.Relay.BufferSize,
			ChunkSize:  cfg.Relay.ChunkSize,
			Pressure:   opts.Pressure,
			Logger:     log.With("component", "relay"),
		},
		log:   log,
		webFS: sub,
	}, nil
}

// SweepRateLimits drops idle per-IP limiters; the host tick calls it.
func (s *Server) SweepRateLimits(now time.Time) int {
	return s.limiter.Sweep(now)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	// public share links
	mux.HandleFunc("/share/", s.handleShareLink)

	// api
	mux.Handle("/api/files", s.auth.Require(http.HandlerFunc(s.handleFiles)))
	mux.Handle("/api/toggle-shareable", s.auth.Require(http.HandlerFunc(s.handleToggle)))
	mux.Handle("/api/share", s.auth.Require(http.HandlerFunc(s.handleCreateShare)))
	mux.Handle("/api/shares", s.auth.Require(http.HandlerFunc(s.handleListShares)))
	mux.Handle("/api/thumb", s.auth.Require(http.HandlerFunc(s.handleThumb)))

	// UI index at "/", everything else is a remote path to stream
	download := s.auth.Require(http.HandlerFunc(s.handleDownload))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			download.ServeHTTP(w, r)
			return
		}
		b, err := fs.ReadFile(s.webFS, "index.html")
		if err != nil {
			http.Error(w, "missing ui", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return s.withRequestLog(s.withRecover(withHeaders(mux)))
}

func (s *Server) transfer(path string, sink relay.Sink) relay.Transfer {
	return relay.Transfer{Dial: s.dial, Path: path, Sink: sink, Options: s.relayOpts}
}

// admit takes a transfer slot or answers 503.
func (s *Server) admit(w http.ResponseWriter) bool {
	if s.transfers.TryAcquire(1) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	http.Error(w, "too many transfers", http.StatusServiceUnavailable)
	return false
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, err := fsutil.CleanRemotePath(r.URL.Path)
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	s.stream(w, r, p)
}

// stream relays a remote file. Failures before the first byte become a
// status code; later ones abort the connection so the client sees a
// truncated body instead of a clean end.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, p string) {
	if !s.admit(w) {
		return
	}
	defer s.transfers.Release(1)

	sink := newChunkSink(w)
	res, err := relay.Download(r.Context(), s.transfer(p, sink))
	if err == nil {
		s.log.Info("transfer complete", "path", p, "bytes", res.Bytes, "duration_ms", res.Duration.Milliseconds())
		return
	}
	if r.Context().Err() != nil {
		s.log.Info("transfer canceled by client", "path", p, "bytes", res.Bytes)
		if sink.started {
			panic(http.ErrAbortHandler)
		}
		return
	}
	s.log.Warn("transfer failed", "path", p, "bytes", res.Bytes, "kind", ftp.KindOf(err).String(), "err", err)
	if sink.started {
		panic(http.ErrAbortHandler)
	}
	if errors.Is(err, ftp.ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	http.Error(w, "file transfer failed", http.StatusInternalServerError)
}

func (s *Server) handleShareLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.limiter.allow(clientIP(r), time.Now()) {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/share/")
	p, err := s.reg.Resolve(token)
	if err != nil {
		http.Error(w, "share link not found", http.StatusNotFound)
		return
	}
	s.stream(w, r, p)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	dir, err := fsutil.CleanRemotePath(r.URL.Query().Get("dir"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	if !s.admit(w) {
		return
	}
	defer s.transfers.Release(1)

	items, err := s.lister.List(r.Context(), dir)
	if err != nil {
		s.log.Warn("listing failed", "dir", dir, "kind", ftp.KindOf(err).String(), "err", err)
		http.Error(w, "failed to list directory", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type toggleRequest struct {
	Path      string `json:"path"`
	Shareable bool   `json:"shareable"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req toggleRequest
	if err := readJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	p, err := fsutil.CleanRemotePath(req.Path)
	if err != nil || p == "/" {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	on := s.reg.ToggleShareable(p, req.Shareable)
	s.log.Info("shareable toggled", "path", p, "shareable", on, "user", auth.UserFromContext(r.Context()))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if on {
		_, _ = io.WriteString(w, "file is shareable")
	} else {
		_, _ = io.WriteString(w, "file is not shareable")
	}
}

type shareRequest struct {
	Path string `json:"path"`
	// Expiry is in hours; absent means the configured default.
	Expiry *int `json:"expiry"`
}

type shareResponse struct {
	Link   string `json:"link"`
	Expiry int    `json:"expiry"`
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req shareRequest
	if err := readJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	p, err := fsutil.CleanRemotePath(req.Path)
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	hours := s.cfg.Share.DefaultHours
	if req.Expiry != nil {
		hours = *req.Expiry
	}

	l, err := s.reg.Create(p, hours)
	switch {
	case errors.Is(err, share.ErrNotShareable):
		http.Error(w, "file is not shareable", http.StatusBadRequest)
		return
	case err != nil:
		s.log.Error("share link creation failed", "path", p, "err", err)
		http.Error(w, "could not create share link", http.StatusInternalServerError)
		return
	}
	s.log.Info("share link created", "path", p, "token", l.Token, "expires_at", l.Expiry, "user", auth.UserFromContext(r.Context()))
	writeJSON(w, http.StatusOK, shareResponse{Link: "/share/" + l.Token, Expiry: share.ClampHours(hours)})
}

type linkItem struct {
	Path      string    `json:"path"`
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	links := s.reg.Links()
	items := make([]linkItem, 0, len(links))
	for _, l := range links {
		items = append(items, linkItem{Path: l.Path, Token: l.Token, Link: "/share/" + l.Token, ExpiresAt: l.Expiry})
	}
	writeJSON(w, http.StatusOK, items)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
