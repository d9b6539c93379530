// Package relay streams a remote FTP file into a Sink without staging it,
// in bounded chunks and under a memory-pressure valve.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ftpshare/internal/ftp"
)

const (
	DefaultBufferSize    = 16 << 10
	DefaultChunkSize     = 4 << 10
	DefaultPressurePause = 50 * time.Millisecond

	progressEvery = 256 << 10
)

// Sink receives a relayed file. Begin is called once before the first
// chunk, SendEnd only after the server confirmed the transfer.
type Sink interface {
	Begin(h Header) error
	SendChunk(p []byte) error
	SendEnd() error
}

// Options tunes the copy loop. Zero values take the defaults above.
type Options struct {
	BufferSize    int
	ChunkSize     int
	PressurePause time.Duration
	// Pressure reports memory pressure; nil never does.
	Pressure func() bool
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ChunkSize <= 0 || o.ChunkSize > o.BufferSize {
		o.ChunkSize = min(DefaultChunkSize, o.BufferSize)
	}
	if o.PressurePause <= 0 {
		o.PressurePause = DefaultPressurePause
	}
	if o.Pressure == nil {
		o.Pressure = func() bool { return false }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Transfer is everything a worker needs for one download.
type Transfer struct {
	Dial ftp.Config
	Path string
	Sink Sink
	Options
}

// Result summarizes a download, including a failed one.
type Result struct {
	Header   Header
	Bytes    int64
	Chunks   int
	Duration time.Duration
	// Started is true once Begin succeeded; after that a failure can no
	// longer be reported with a status code.
	Started bool
}

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultBufferSize)
		return &b
	},
}

func getBuffer(size int) *[]byte {
	bp := bufPool.Get().(*[]byte)
	if cap(*bp) < size {
		b := make([]byte, size)
		return &b
	}
	*bp = (*bp)[:size]
	return bp
}

// Download runs RETR for t.Path and pushes the payload to t.Sink. Canceling
// ctx closes both sockets and unblocks the loop.
func Download(ctx context.Context, t Transfer) (res Result, err error) {
	opts := t.Options.withDefaults()
	start := time.Now()
	log := opts.Logger.With("path", t.Path)

	if opts.Pressure() {
		return res, &ftp.Error{Kind: ftp.KindMemoryExhausted, Op: "allocate buffer"}
	}
	bp := getBuffer(opts.BufferSize)
	buf := *bp

	sess, err := ftp.Dial(ctx, t.Dial)
	if err != nil {
		bufPool.Put(bp)
		return res, err
	}

	var data atomic.Pointer[ftp.DataChannel]
	stop := context.AfterFunc(ctx, func() {
		if dc := data.Load(); dc != nil {
			dc.Close()
		}
		sess.Close()
	})
	defer func() {
		stop()
		if dc := data.Load(); dc != nil {
			dc.Close()
		}
		sess.Quit()
		bufPool.Put(bp)
		res.Duration = time.Since(start)
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}
	}()

	dc, err := sess.Retrieve(ctx, t.Path)
	if err != nil {
		return res, err
	}
	data.Store(dc)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Header = HeaderFor(t.Path)
	if err := t.Sink.Begin(res.Header); err != nil {
		return res, &ftp.Error{Kind: ftp.KindHTTPSendFailed, Op: "begin", Err: err}
	}
	res.Started = true
	log.Debug("transfer started", "content_type", res.Header.ContentType)

	nextProgress := int64(progressEvery)
	for {
		n, rerr := dc.Read(buf)
		if n > 0 {
			res.Bytes += int64(n)
			for off := 0; off < n; off += opts.ChunkSize {
				end := min(off+opts.ChunkSize, n)
				if err := t.Sink.SendChunk(buf[off:end]); err != nil {
					return res, &ftp.Error{Kind: ftp.KindHTTPSendFailed, Op: "send chunk", Err: err}
				}
				res.Chunks++
			}
			if res.Bytes >= nextProgress {
				log.Debug("transfer progress", "bytes", res.Bytes)
				nextProgress = res.Bytes + progressEvery
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, rerr
		}
		if opts.Pressure() {
			log.Warn("memory pressure, pausing transfer", "pause", opts.PressurePause)
			select {
			case <-time.After(opts.PressurePause):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}

	if err := sess.FinishTransfer(dc); err != nil {
		return res, err
	}
	if err := t.Sink.SendEnd(); err != nil {
		return res, &ftp.Error{Kind: ftp.KindHTTPSendFailed, Op: "end", Err: err}
	}
	log.Debug("transfer complete", "bytes", res.Bytes, "chunks", res.Chunks)
	return res, nil
}
