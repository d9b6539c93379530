package httpserver

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"net/http"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"ftpshare/internal/fsutil"
	"ftpshare/internal/ftp"
	"ftpshare/internal/relay"
)

const (
	thumbMax       = 256
	thumbSourceMax = 16 << 20
	// thumbMaxPixels bounds the decoded size; the source cap alone does not.
	thumbMaxPixels = 40_000_000
)

var (
	errEmptyImage    = errors.New("empty image")
	errImageTooLarge = errors.New("image dimensions too large")
)

// makeThumb scales a jpg/png/gif/webp image to fit size x size and encodes
// it as JPEG.
func makeThumb(src []byte, size int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errEmptyImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > thumbMaxPixels {
		return nil, errImageTooLarge
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errEmptyImage
	}
	if size <= 0 {
		size = thumbMax
	}

	nw, nh := w, h
	if w > h {
		if w > size {
			nw = size
			nh = int(float64(h) * (float64(size) / float64(w)))
		}
	} else if h > size {
		nh = size
		nw = int(float64(w) * (float64(size) / float64(h)))
	}
	nw, nh = max(nw, 1), max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// handleThumb fetches a remote image into memory and serves a small JPEG.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, err := fsutil.CleanRemotePath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	if !relay.IsImage(p) {
		http.NotFound(w, r)
		return
	}
	if !s.admit(w) {
		return
	}
	defer s.transfers.Release(1)

	data, _, err := relay.Fetch(r.Context(), s.transfer(p, nil), thumbSourceMax)
	if err != nil {
		if errors.Is(err, ftp.ErrNotFound) || errors.Is(err, relay.ErrTooLarge) {
			http.NotFound(w, r)
			return
		}
		s.log.Warn("thumbnail fetch failed", "path", p, "err", err)
		http.Error(w, "thumbnail failed", http.StatusInternalServerError)
		return
	}
	b, err := makeThumb(data, thumbMax)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
}
