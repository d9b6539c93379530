package ftp

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of an FTP-backed operation. The HTTP layer maps
// KindNotFound to 404 and every other kind to 500.
type Kind int

const (
	KindDNSResolution Kind = iota + 1
	KindSocketCreate
	KindConnectFailed
	KindTimeout
	KindUnexpectedReply
	KindPasvParse
	KindDataConnectFailed
	KindNotFound
	KindMemoryExhausted
	KindHTTPSendFailed
)

func (k Kind) String() string {
	switch k {
	case KindDNSResolution:
		return "dns resolution"
	case KindSocketCreate:
		return "socket create"
	case KindConnectFailed:
		return "connect failed"
	case KindTimeout:
		return "timeout"
	case KindUnexpectedReply:
		return "unexpected reply"
	case KindPasvParse:
		return "pasv parse"
	case KindDataConnectFailed:
		return "data connect failed"
	case KindNotFound:
		return "not found"
	case KindMemoryExhausted:
		return "memory exhausted"
	case KindHTTPSendFailed:
		return "http send failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by this package. Code and Text carry the
// server reply when the failure came from one.
type Error struct {
	Kind Kind
	// Op is the command or step that failed (e.g. "USER", "PASV", "dial").
	Op   string
	Code int
	Text string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("ftp: %s: %s: %d %s", e.Op, e.Kind, e.Code, e.Text)
	case e.Err != nil:
		return fmt.Sprintf("ftp: %s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("ftp: %s: %s", e.Op, e.Kind)
	default:
		return "ftp: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so the sentinels
// below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Code == 0
}

var (
	ErrDNSResolution     = &Error{Kind: KindDNSResolution}
	ErrSocketCreate      = &Error{Kind: KindSocketCreate}
	ErrConnectFailed     = &Error{Kind: KindConnectFailed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrUnexpectedReply   = &Error{Kind: KindUnexpectedReply}
	ErrPasvParse         = &Error{Kind: KindPasvParse}
	ErrDataConnectFailed = &Error{Kind: KindDataConnectFailed}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrMemoryExhausted   = &Error{Kind: KindMemoryExhausted}
	ErrHTTPSendFailed    = &Error{Kind: KindHTTPSendFailed}
)

// ErrListingTooLarge is returned when a LIST response exceeds the listing cap.
var ErrListingTooLarge = errors.New("ftp: directory listing too large")

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func unexpected(op string, r *Reply) *Error {
	return &Error{Kind: KindUnexpectedReply, Op: op, Code: r.Code, Text: r.Message}
}
