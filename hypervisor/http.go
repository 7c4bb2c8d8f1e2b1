package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	apiTimeout  = 30 * time.Second
	apiRetries  = 3
	apiBackoff  = 100 * time.Millisecond
	apiBaseURL  = "http://localhost"
	maxFaultLen = 4 << 10
)

// APIError is a non-2xx answer from the hypervisor's control API.
type APIError struct {
	Method string
	Path   string
	Code   int
	Fault  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Fault)
}

// Temporary reports whether the hypervisor may accept the same call later.
func (e *APIError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// SocketClient speaks HTTP to a hypervisor over its Unix control socket.
type SocketClient struct {
	socket string
	hc     *http.Client
}

func NewSocketClient(socket string) *SocketClient {
	return &SocketClient{
		socket: socket,
		hc: &http.Client{
			Timeout: apiTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

// Put sends v as a JSON body and expects 204. Dial failures and
// temporary API errors are retried with doubling backoff.
func (c *SocketClient) Put(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", path, err)
	}
	return retry(ctx, func() error { return c.do(ctx, http.MethodPut, path, body) })
}

func (c *SocketClient) do(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s via %s: %w", method, path, c.socket, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	fault, _ := io.ReadAll(io.LimitReader(resp.Body, maxFaultLen))
	return &APIError{Method: method, Path: path, Code: resp.StatusCode, Fault: string(bytes.TrimSpace(fault))}
}

// PutJSON is a one-shot SocketClient.Put.
func PutJSON(ctx context.Context, socket, path string, v any) error {
	return NewSocketClient(socket).Put(ctx, path, v)
}

func retry(ctx context.Context, fn func() error) error {
	backoff := apiBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt == apiRetries || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// IsRetryable is true for transport failures and temporary API errors.
func IsRetryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary()
	}
	return true
}
