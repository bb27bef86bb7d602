package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/cmissync/internal/client/handlers"
	"github.com/openmined/cmissync/internal/client/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrToURL(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
		err  bool
	}{
		{"addr-with-host-port", "localhost:7938", "http://localhost:7938", false},
		{"addr-with-ip-port", "127.0.0.1:7938", "http://127.0.0.1:7938", false},
		{"addr-with-ipv6", "[::1]:7938", "http://[::1]:7938", false},
		{"addr-with-only-port", ":7938", "http://0.0.0.0:7938", false},
		{"addr-with-only-host", "localhost:", "", true},
		{"addr-missing-host", "7938", "", true},
		{"addr-missing-port", "localhost", "", true},
		{"addr-with-http", "http://localhost:7938", "", true},
		{"empty", "", "", true},
	}
	for _, test := range tests {
		val, err := addrToURL(test.addr)
		if test.err {
			assert.Error(t, err, test.name)
		} else {
			assert.NoError(t, err)
			assert.Equal(t, test.want, val, test.name)
		}
	}
}

func TestNewControlPlaneServer_InvalidAddr(t *testing.T) {
	c, _, _ := setupClient(t, "/docs")
	_, err := NewControlPlaneServer(&ControlPlaneConfig{Addr: "7938"}, c)
	assert.Error(t, err)
}

func TestSetupRoutes(t *testing.T) {
	c, _, _ := setupClient(t, "/docs", "/photos")
	routes := SetupRoutes(c, &RouteConfig{Auth: middleware.TokenAuthConfig{Token: "secret"}})

	do := func(method, target, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		return w
	}

	// the index is public
	w := do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(http.MethodGet, "/v1/status", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var status handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Len(t, status.Folders, 2)
	assert.Equal(t, "docs", status.Folders[0].Name)
	assert.Equal(t, "photos", status.Folders[1].Name)

	w = do(http.MethodPost, "/v1/sync/now?folder=docs", "secret")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(http.MethodGet, "/v1/nope", "secret")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
