package demoserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/websentry/internal/demoserver"
)

func newDemo(t *testing.T, profile string) *httptest.Server {
	t.Helper()
	cfg := demoserver.DefaultConfig()
	cfg.InitialProfile = profile
	ts := httptest.NewServer(demoserver.NewDemoServer(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestSecureProfileHeaders(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "secure")

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, resp.Header.Get("Strict-Transport-Security"), "includeSubDomains")
	assert.Empty(t, resp.Header.Get("X-Powered-By"))

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
}

func TestInsecureProfileHeaders(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "insecure")

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Content-Security-Policy"))
	assert.Contains(t, resp.Header.Get("Server"), "Apache")
	assert.Contains(t, resp.Header.Get("X-Powered-By"), "PHP")

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].HttpOnly)
}

func TestSwitchProfile(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "insecure")

	resp, err := http.PostForm(ts.URL+"/demo/set-profile", url.Values{"name": {"secure"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer page.Body.Close()
	assert.Equal(t, "DENY", page.Header.Get("X-Frame-Options"))
}

func TestSwitchProfile_Unknown(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "insecure")

	resp, err := http.PostForm(ts.URL+"/demo/set-profile", url.Values{"name": {"nope"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSwitchProfile_GetRejected(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "insecure")

	resp, err := http.Get(ts.URL + "/demo/set-profile?name=secure")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProfileListing(t *testing.T) {
	t.Parallel()
	ts := newDemo(t, "mixed")

	resp, err := http.Get(ts.URL + "/demo/profile")
	require.NoError(t, err)
	defer resp.Body.Close()

	var profiles []struct {
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profiles))
	require.Len(t, profiles, 3)

	active := 0
	for _, p := range profiles {
		if p.Active {
			active++
			assert.Equal(t, "mixed", p.Name)
		}
	}
	assert.Equal(t, 1, active)
}
