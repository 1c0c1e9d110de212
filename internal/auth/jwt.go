package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims are the JWT claims of a self-contained terminal ticket.
type TicketClaims struct {
	jwt.RegisteredClaims
	Path  string `json:"path"`
	Privs string `json:"privs,omitempty"`
}

// JWTVerifier validates HS256 tickets locally instead of calling out to
// the access API.
type JWTVerifier struct {
	secret []byte
	path   string
	perm   string
}

// NewJWTVerifier creates a verifier for tickets scoped to path.
func NewJWTVerifier(secret, path, perm string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), path: path, perm: perm}
}

// IssueTicket signs a ticket for username on path.
func (j *JWTVerifier) IssueTicket(username, path, privs string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "termproxy",
		},
		Path:  path,
		Privs: privs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify checks the signature, expiry, subject and path of the ticket.
func (j *JWTVerifier) Verify(_ context.Context, ticket Ticket) error {
	token, err := jwt.ParseWithClaims(ticket.Secret, &TicketClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid ticket claims")
	}
	if claims.Subject != ticket.Username {
		return fmt.Errorf("ticket issued for %q, not %q", claims.Subject, ticket.Username)
	}
	if claims.Path != j.path {
		return fmt.Errorf("ticket not valid for path %q", j.path)
	}
	if j.perm != "" && claims.Privs != j.perm {
		return fmt.Errorf("ticket lacks privileges %q", j.perm)
	}
	return nil
}
