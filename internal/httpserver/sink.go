package httpserver

import (
	"net/http"

	"ftpshare/internal/relay"
)

// chunkSink writes relayed data straight to the client, flushing after every
// chunk. With no Content-Length net/http frames the body as chunked.
type chunkSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newChunkSink(w http.ResponseWriter) *chunkSink {
	return &chunkSink{w: w, rc: http.NewResponseController(w)}
}

func (c *chunkSink) Begin(h relay.Header) error {
	c.w.Header().Set("Content-Type", h.ContentType)
	if h.Disposition != "" {
		c.w.Header().Set("Content-Disposition", h.Disposition)
	}
	c.w.WriteHeader(http.StatusOK)
	c.started = true
	return c.rc.Flush()
}

func (c *chunkSink) SendChunk(p []byte) error {
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	return c.rc.Flush()
}

// SendEnd has nothing to write: the terminating chunk goes out when the
// handler returns normally.
func (c *chunkSink) SendEnd() error { return nil }
