package frame

import "errors"

var (
	errEmptyNumber = errors.New("empty number")
	errNotDigit    = errors.New("non-digit in number")
	errTooLong     = errors.New("number too long")
)

// Parser turns an append-only byte stream into Messages. It is restartable
// across arbitrarily small reads: a partial trailing unit stays buffered
// until the bytes that complete it arrive.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	buf        []byte
	off        int
	skip       uint64
	maxPayload uint64
}

// NewParser returns a Parser that rejects Normal messages longer than
// maxPayload bytes. A non-positive maxPayload selects DefaultMaxPayload.
func NewParser(maxPayload int) *Parser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Parser{maxPayload: uint64(maxPayload)}
}

// Feed appends bytes received from the client.
func (p *Parser) Feed(data []byte) {
	if p.skip > 0 {
		n := min(p.skip, uint64(len(data)))
		p.skip -= n
		data = data[n:]
	}
	if len(data) == 0 {
		return
	}
	if p.off > 0 && p.off >= len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
	p.buf = append(p.buf, data...)
}

// Buffered reports how many bytes are held for a unit that is not yet complete.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.off
}

// Next decodes the next message. It returns ErrIncomplete when more input
// is needed and a *FaultError when a malformed unit was discarded; in the
// latter case the caller should simply call Next again.
func (p *Parser) Next() (Message, error) {
	data := p.buf[p.off:]
	if len(data) == 0 {
		return Message{}, ErrIncomplete
	}

	switch data[0] {
	case kindDigitPing:
		p.consume(1)
		return Ping(), nil
	case kindDigitNormal:
		return p.parseNormal(data)
	case kindDigitResize:
		return p.parseResize(data)
	}

	// Drop everything up to the next byte that could start a frame.
	n := 1
	for n < len(data) && !isKindDigit(data[n]) {
		n++
	}
	kind := data[0]
	p.consume(n)
	return Message{}, fault(n, "unrecognized message type %q", kind)
}

func (p *Parser) parseNormal(data []byte) (Message, error) {
	if len(data) < 2 {
		return Message{}, ErrIncomplete
	}
	if data[1] != ':' {
		p.consume(1)
		return Message{}, fault(1, "normal message: missing ':' after type")
	}

	length, next, err := scanNumber(data, 2)
	if err == ErrIncomplete {
		return Message{}, err
	}
	if err != nil {
		p.consume(next)
		return Message{}, fault(next, "normal message length: %v", err)
	}

	if length > p.maxPayload {
		p.consume(next)
		drop := min(length, uint64(p.Buffered()))
		p.consume(int(drop))
		p.skip = length - drop
		return Message{}, fault(next+int(drop), "normal message length %d exceeds limit %d", length, p.maxPayload)
	}

	end := next + int(length)
	if len(data) < end {
		return Message{}, ErrIncomplete
	}

	payload := make([]byte, length)
	copy(payload, data[next:end])
	p.consume(end)
	return Normal(payload), nil
}

func (p *Parser) parseResize(data []byte) (Message, error) {
	if len(data) < 2 {
		return Message{}, ErrIncomplete
	}
	if data[1] != ':' {
		p.consume(1)
		return Message{}, fault(1, "resize message: missing ':' after type")
	}

	cols, next, err := scanNumber(data, 2)
	if err == ErrIncomplete {
		return Message{}, err
	}
	if err != nil {
		p.consume(next)
		return Message{}, fault(next, "resize columns: %v", err)
	}

	rows, end, err := scanNumber(data, next)
	if err == ErrIncomplete {
		return Message{}, err
	}
	if err != nil {
		p.consume(end)
		return Message{}, fault(end, "resize rows: %v", err)
	}

	p.consume(end)
	if cols > MaxDimension || rows > MaxDimension {
		return Message{}, fault(end, "resize %dx%d out of range", cols, rows)
	}
	return Resize(uint16(cols), uint16(rows)), nil
}

func (p *Parser) consume(n int) {
	p.off += n
	if p.off >= len(p.buf) {
		p.buf = p.buf[:0]
		p.off = 0
	}
}

// scanNumber reads decimal digits starting at data[i] up to a terminating
// colon. On success next is the index just past the colon; on a fault it is
// the index of the offending byte.
func scanNumber(data []byte, i int) (value uint64, next int, err error) {
	start := i
	for ; i < len(data); i++ {
		c := data[i]
		if c == ':' {
			if i == start {
				return 0, i, errEmptyNumber
			}
			return value, i + 1, nil
		}
		if c < '0' || c > '9' {
			return 0, i, errNotDigit
		}
		if i-start >= maxDigits {
			return 0, i, errTooLong
		}
		value = value*10 + uint64(c-'0')
	}
	return 0, i, ErrIncomplete
}

func isKindDigit(c byte) bool {
	return c == kindDigitNormal || c == kindDigitResize || c == kindDigitPing
}
