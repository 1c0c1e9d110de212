package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ticketServer fakes the access API, accepting only alice/good.
func ticketServer(t *testing.T, seen *map[string]string) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.POST("/api2/json/access/ticket", func(c echo.Context) error {
		params, err := c.FormParams()
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		got := map[string]string{}
		for k := range params {
			got[k] = params.Get(k)
		}
		*seen = got
		if got["username"] == "alice" && got["password"] == "good" {
			return c.JSON(http.StatusOK, map[string]any{"data": map[string]string{}})
		}
		return c.NoContent(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPVerifier_Accepts(t *testing.T) {
	var seen map[string]string
	srv := ticketServer(t, &seen)

	v := NewHTTPVerifier(85, "/vms/100", "VM.Console")
	v.URL = srv.URL + "/api2/json/access/ticket"
	v.Port = 5900

	err := v.Verify(context.Background(), Ticket{Username: "alice", Secret: "good"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"username": "alice",
		"password": "good",
		"path":     "/vms/100",
		"privs":    "VM.Console",
		"port":     "5900",
	}, seen)
}

func TestHTTPVerifier_OmitsOptionalFields(t *testing.T) {
	var seen map[string]string
	srv := ticketServer(t, &seen)

	v := NewHTTPVerifier(85, "/nodes/a", "")
	v.URL = srv.URL + "/api2/json/access/ticket"

	require.NoError(t, v.Verify(context.Background(), Ticket{Username: "alice", Secret: "good"}))
	assert.NotContains(t, seen, "privs")
	assert.NotContains(t, seen, "port")
}

func TestHTTPVerifier_Rejects(t *testing.T) {
	var seen map[string]string
	srv := ticketServer(t, &seen)

	v := NewHTTPVerifier(85, "/", "")
	v.URL = srv.URL + "/api2/json/access/ticket"

	err := v.Verify(context.Background(), Ticket{Username: "alice", Secret: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPVerifier_Unreachable(t *testing.T) {
	v := NewHTTPVerifier(85, "/", "")
	v.URL = "http://127.0.0.1:1/api2/json/access/ticket"

	assert.Error(t, v.Verify(context.Background(), Ticket{Username: "alice", Secret: "good"}))
}

func TestNewHTTPVerifier_URL(t *testing.T) {
	v := NewHTTPVerifier(8006, "/", "")
	assert.Equal(t, "http://localhost:8006/api2/json/access/ticket", v.URL)
}
