package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mellongo/internal/registry"
)

func TestCORS(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := (*CORS)(nil).wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("enabled", func(t *testing.T) {
		cors := &CORS{Origin: "http://localhost:5173"}
		h := cors.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/graph", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("socket options", func(t *testing.T) {
		assert.Nil(t, (*CORS)(nil).socketOptions())
		opts := (&CORS{Origin: "*"}).socketOptions()
		require.NotNil(t, opts)
		assert.Equal(t, "*", opts.Origin)
		assert.True(t, opts.Credentials)
	})
}

func TestServerLifecycle(t *testing.T) {
	logger := discardLogger()
	hub := NewHub(logger, nil)
	srv := NewServer("127.0.0.1:0", hub, &fakeScheduler{}, registry.New(), nil, logger)

	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}
