package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Verifier decides whether a ticket grants access.
type Verifier interface {
	Verify(ctx context.Context, ticket Ticket) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, ticket Ticket) error

func (f VerifierFunc) Verify(ctx context.Context, ticket Ticket) error { return f(ctx, ticket) }

// HTTPVerifier checks tickets against the local access API.
type HTTPVerifier struct {
	URL  string
	Path string // ACL path the ticket must grant
	Perm string // optional privilege list
	Port int    // optional; sent when the listening port was inherited

	Client *http.Client
}

// NewHTTPVerifier targets the ticket endpoint on localhost:authPort.
func NewHTTPVerifier(authPort int, path, perm string) *HTTPVerifier {
	return &HTTPVerifier{
		URL:    fmt.Sprintf("http://localhost:%d/api2/json/access/ticket", authPort),
		Path:   path,
		Perm:   perm,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify posts the ticket as a form; only HTTP 200 grants access.
func (v *HTTPVerifier) Verify(ctx context.Context, ticket Ticket) error {
	form := url.Values{}
	form.Set("username", ticket.Username)
	form.Set("password", ticket.Secret)
	form.Set("path", v.Path)
	if v.Perm != "" {
		form.Set("privs", v.Perm)
	}
	if v.Port != 0 {
		form.Set("port", strconv.Itoa(v.Port))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build authentication request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("authentication request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("invalid authentication - %s", resp.Status)
	}
	return nil
}
