// Package auth performs the relay's handshake: the client opens the
// connection with a single "USER:TICKET\n" line, the ticket is checked by
// a Verifier, and the server answers "OK" before relaying starts.
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxTicketLine bounds the handshake line, newline included.
const MaxTicketLine = 4096

var (
	ErrTicketTooLong   = errors.New("authentication data is incomplete")
	ErrMalformedTicket = errors.New("authentication data is invalid")
)

// Ticket is the credential presented by the client.
type Ticket struct {
	Username string
	Secret   string
}

// ReadTicket reads the handshake line from r. Any bytes the client sent
// after the newline are returned as rest; they belong to the framed stream.
func ReadTicket(r io.Reader) (ticket Ticket, rest []byte, err error) {
	buf := make([]byte, 0, MaxTicketLine)
	for {
		if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
			line := buf[:idx]
			rest = append([]byte(nil), buf[idx+1:]...)
			user, secret, ok := bytes.Cut(line, []byte{':'})
			if !ok {
				return Ticket{}, nil, ErrMalformedTicket
			}
			return Ticket{Username: string(user), Secret: string(secret)}, rest, nil
		}
		if len(buf) == cap(buf) {
			return Ticket{}, nil, ErrTicketTooLong
		}

		n, readErr := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if readErr != nil {
			if n > 0 && bytes.IndexByte(buf, '\n') >= 0 {
				continue
			}
			if errors.Is(readErr, io.EOF) {
				return Ticket{}, nil, fmt.Errorf("connection closed before authentication")
			}
			return Ticket{}, nil, readErr
		}
	}
}
