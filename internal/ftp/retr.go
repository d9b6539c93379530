package ftp

import (
	"context"
	"fmt"
)

// Retrieve opens a data channel and sends RETR for path. A start reply other
// than 150 or 125 is reported as KindNotFound with the server's code and text.
// The caller reads the channel to EOF and then calls FinishTransfer.
func (s *Session) Retrieve(ctx context.Context, path string) (*DataChannel, error) {
	dc, err := s.Passive(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.cmd("RETR", path)
	if err != nil {
		dc.Close()
		return nil, err
	}
	if r.Code != 150 && r.Code != 125 {
		dc.Close()
		return nil, &Error{Kind: KindNotFound, Op: "RETR", Code: r.Code, Text: r.Message}
	}
	return dc, nil
}

// FinishTransfer closes dc and reads the final transfer reply. Only 226 and
// 250 count as a completed transfer.
func (s *Session) FinishTransfer(dc *DataChannel) error {
	dc.Close()
	r, err := s.readReply("RETR")
	if err != nil {
		return fmt.Errorf("final reply: %w", err)
	}
	if r.Code != 226 && r.Code != 250 {
		return unexpected("RETR", r)
	}
	return nil
}
