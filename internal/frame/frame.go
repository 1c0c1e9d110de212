// Package frame decodes the client side of the terminal relay protocol.
//
// The client sends three kinds of frames over a byte stream:
//
//	0:LENGTH:MSG    input for the program, MSG is exactly LENGTH bytes
//	1:COLS:ROWS:    terminal resize
//	2               keep-alive
//
// Anything else is noise. The parser discards it and keeps going.
package frame

import (
	"errors"
	"fmt"
)

// Kind selects the message variant.
type Kind int

const (
	KindNormal Kind = iota
	KindResize
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindResize:
		return "resize"
	case KindPing:
		return "ping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	kindDigitNormal = '0'
	kindDigitResize = '1'
	kindDigitPing   = '2'

	// maxDigits bounds how far a number is scanned before giving up.
	maxDigits = 19

	// MaxDimension is the largest accepted resize value.
	MaxDimension = 65535

	// DefaultMaxPayload caps the LENGTH of a single Normal message.
	DefaultMaxPayload = 1 << 20
)

// Message is one decoded client instruction.
type Message struct {
	Kind    Kind
	Payload []byte // KindNormal only
	Cols    uint16 // KindResize only
	Rows    uint16 // KindResize only
}

// ErrIncomplete is returned by Next when the buffer holds no complete unit.
var ErrIncomplete = errors.New("frame: incomplete")

// FaultError reports a malformed unit that was discarded. It is never
// fatal; parsing resumes after the discarded bytes.
type FaultError struct {
	Reason    string
	Discarded int
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("frame: discarded %d bytes: %s", e.Discarded, e.Reason)
}

func fault(discarded int, format string, args ...any) *FaultError {
	return &FaultError{Reason: fmt.Sprintf(format, args...), Discarded: discarded}
}

// Normal builds a Normal message.
func Normal(payload []byte) Message {
	return Message{Kind: KindNormal, Payload: payload}
}

// Resize builds a Resize message.
func Resize(cols, rows uint16) Message {
	return Message{Kind: KindResize, Cols: cols, Rows: rows}
}

// Ping builds a Ping message.
func Ping() Message {
	return Message{Kind: KindPing}
}
