package hypervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveUnix(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "api.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := &http.Server{Handler: h} //nolint:gosec
	go srv.Serve(ln)                //nolint:errcheck
	t.Cleanup(func() { _ = srv.Close() })
	return sock
}

func TestPutJSON(t *testing.T) {
	var gotPath, gotBody string
	sock := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotPath, gotBody = r.URL.Path, string(b)
		w.WriteHeader(http.StatusNoContent)
	})

	err := PutJSON(context.Background(), sock, "/actions", map[string]string{"action_type": "SendCtrlAltDel"})
	require.NoError(t, err)
	assert.Equal(t, "/actions", gotPath)
	assert.JSONEq(t, `{"action_type":"SendCtrlAltDel"}`, gotBody)
}

func TestPutClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	sock := serveUnix(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, `{"fault_message":"bad"}`, http.StatusBadRequest)
	})

	err := PutJSON(context.Background(), sock, "/actions", struct{}{})
	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusBadRequest, ae.Code)
	assert.Contains(t, ae.Error(), "PUT /actions: status 400")
	assert.Equal(t, 1, calls)
}

func TestPutRetriesServerErrors(t *testing.T) {
	calls := 0
	sock := serveUnix(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, NewSocketClient(sock).Put(context.Background(), "/actions", struct{}{}))
	assert.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Code: http.StatusInternalServerError}))
	assert.True(t, IsRetryable(&APIError{Code: http.StatusTooManyRequests}))
	assert.False(t, IsRetryable(&APIError{Code: http.StatusNotFound}))
	assert.True(t, IsRetryable(errors.New("dial unix: connection refused")))
}
