package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparklane/sparklane/deploy"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/naming"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/registry/badger"
	"github.com/sparklane/sparklane/types"
)

// reservingProvisioner persists the record the way the pipeline's reserve
// stage does and stops there.
type reservingProvisioner struct {
	reg   registry.Registry
	mu    sync.Mutex
	calls int
}

func (p *reservingProvisioner) Provision(ctx context.Context, inst *types.Instance, _ types.Bundle) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return registry.Reserve(ctx, p.reg, inst)
}

type env struct {
	reg  registry.Registry
	prov *reservingProvisioner
	srv  *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	prov := &reservingProvisioner{reg: reg}
	svc := deploy.NewService(naming.New(reg), prov, deploy.WithPoolSize(4))
	s := New(svc, metrics.New(prometheus.NewRegistry()), 1<<20)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &env{reg: reg, prov: prov, srv: srv}
}

func zipOf(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func upload(t *testing.T, url string, metadata string, file []byte) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("metadata", metadata))
	fw, err := mw.CreateFormFile("file", "code.zip")
	require.NoError(t, err)
	_, err = fw.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/deploy", mw.FormDataContentType(), &body) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestDeployHappyPath(t *testing.T) {
	e := newEnv(t)
	status, body := upload(t, e.srv.URL, `{"build":["echo hi"],"run":"python app.py"}`, zipOf(t, "app.py", "print('hi')"))

	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	insts, err := registry.ListInstances(context.Background(), e.reg)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "python app.py", insts[0].RunCommand)
	assert.Equal(t, []string{"echo hi"}, insts[0].BuildCommands)
	assert.Equal(t, types.DefaultProjectName, insts[0].Name)
}

func TestDeployMissingRun(t *testing.T) {
	e := newEnv(t)
	status, body := upload(t, e.srv.URL, `{"build":["echo hi"]}`, zipOf(t, "app.py", ""))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No run command in config.", body["error"])

	kvs, err := e.reg.ScanPrefix(context.Background(), registry.InstancePrefix)
	require.NoError(t, err)
	assert.Empty(t, kvs)
	assert.Zero(t, e.prov.calls)
}

func TestDeployCorruptArchive(t *testing.T) {
	e := newEnv(t)
	status, body := upload(t, e.srv.URL, `{"build":[],"run":"x"}`, []byte("PK\x03\x04 not really"))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Couldn't process your code files, please try again later.", body["error"])

	for _, prefix := range []string{registry.InstancePrefix, registry.SubdomainPrefix} {
		kvs, err := e.reg.ScanPrefix(context.Background(), prefix)
		require.NoError(t, err)
		assert.Empty(t, kvs, "no identifier consumed under %s", prefix)
	}
	assert.Zero(t, e.prov.calls)
}

func TestDeployPreferredProject(t *testing.T) {
	e := newEnv(t)
	status, _ := upload(t, e.srv.URL, `{"project":"my-site","build":[],"run":"./serve"}`, zipOf(t, "serve", "#!/bin/sh"))
	require.Equal(t, http.StatusOK, status)

	owner, err := e.reg.Get(context.Background(), registry.SubdomainKey("my-site"))
	require.NoError(t, err)
	assert.NotEmpty(t, owner)

	// The name is taken now, so the next deploy gets a generated one.
	status, _ = upload(t, e.srv.URL, `{"project":"my-site","build":[],"run":"./serve"}`, zipOf(t, "serve", "#!/bin/sh"))
	require.Equal(t, http.StatusOK, status)
	kvs, err := e.reg.ScanPrefix(context.Background(), registry.SubdomainPrefix)
	require.NoError(t, err)
	assert.Len(t, kvs, 2)
}

func TestDeployPartWithoutName(t *testing.T) {
	e := newEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
	require.NoError(t, err)
	_, _ = pw.Write([]byte("data"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.srv.URL+"/deploy", mw.FormDataContentType(), &body) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Error with file upload. Please try again later", out["error"])
}

func TestDeployNotMultipart(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Post(e.srv.URL+"/deploy", "application/json", bytes.NewBufferString("{}")) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz") //nolint:noctx
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck,gosec
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/metrics") //nolint:noctx
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck,gosec
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
