package relay

import (
	"bytes"
	"context"
	"errors"
)

// ErrTooLarge is returned by Fetch when the file exceeds its limit.
var ErrTooLarge = errors.New("relay: file exceeds fetch limit")

type memorySink struct {
	buf   bytes.Buffer
	limit int64
}

func (m *memorySink) Begin(Header) error { return nil }

func (m *memorySink) SendChunk(p []byte) error {
	if int64(m.buf.Len()+len(p)) > m.limit {
		return ErrTooLarge
	}
	m.buf.Write(p)
	return nil
}

func (m *memorySink) SendEnd() error { return nil }

// Fetch downloads a whole remote file into memory, failing with ErrTooLarge
// once more than limit bytes arrive. t.Sink is ignored.
func Fetch(ctx context.Context, t Transfer, limit int64) ([]byte, Header, error) {
	sink := &memorySink{limit: limit}
	t.Sink = sink
	res, err := Download(ctx, t)
	if err != nil {
		return nil, res.Header, err
	}
	return sink.buf.Bytes(), res.Header, nil
}
