package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/datasetsync/hfsync/internal/service"
)

type fakeSyncs struct {
	status    []service.Status
	triggered []string
}

func (f *fakeSyncs) Status() []service.Status {
	return f.status
}

func (f *fakeSyncs) Trigger(name string) error {
	for _, st := range f.status {
		if st.Name == name {
			f.triggered = append(f.triggered, name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", service.ErrNotFound, name)
}

func testSyncs() *fakeSyncs {
	return &fakeSyncs{status: []service.Status{
		{Name: "alpha", State: service.SyncStateSuccess, Head: "0123456789"},
		{Name: "beta", State: service.SyncStateFailed, Message: "push rejected", Failures: 2},
	}}
}

func TestServerSyncs(t *testing.T) {
	syncs := testSyncs()
	ts := initTestServer(t, syncs, "")
	defer ts.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		statusCode int
		result     any
	}{
		{
			name:       "list",
			method:     "GET",
			path:       "/v1/syncs",
			statusCode: 200,
			result: map[string]any{"result": []any{
				map[string]any{"name": "alpha", "state": "SUCCESS", "head": "0123456789"},
				map[string]any{"name": "beta", "state": "FAILED", "message": "push rejected", "failures": json.Number("2")},
			}},
		},
		{
			name:       "get",
			method:     "GET",
			path:       "/v1/syncs/beta",
			statusCode: 200,
			result: map[string]any{"result": map[string]any{
				"name": "beta", "state": "FAILED", "message": "push rejected", "failures": json.Number("2"),
			}},
		},
		{
			name:       "get unknown",
			method:     "GET",
			path:       "/v1/syncs/gamma",
			statusCode: 404,
			result:     map[string]any{"code": "not_found", "message": "sync not found: gamma"},
		},
		{
			name:       "trigger",
			method:     "POST",
			path:       "/v1/syncs/alpha/trigger",
			statusCode: 202,
			result:     map[string]any{},
		},
		{
			name:       "trigger unknown",
			method:     "POST",
			path:       "/v1/syncs/gamma/trigger",
			statusCode: 404,
			result:     map[string]any{"code": "not_found", "message": "sync not found: gamma"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ts.t = t
			tr := ts.Request(test.method, test.path, "").ExpectStatus(test.statusCode)

			exp, act := test.result, tr.BodyDecoded()
			if diff := cmp.Diff(exp, act); diff != "" {
				t.Fatal("unexpected body (-want, +got)", diff)
			}
		})
	}

	if diff := cmp.Diff([]string{"alpha"}, syncs.triggered); diff != "" {
		t.Fatal("unexpected triggers (-want,+got)", diff)
	}
}

func TestServerMethodNotAllowed(t *testing.T) {
	ts := initTestServer(t, testSyncs(), "")
	defer ts.Close()

	ts.Request("GET", "/v1/syncs/alpha/trigger", "").ExpectStatus(405)
	ts.Request("DELETE", "/v1/syncs/alpha", "").ExpectStatus(405)
}

func TestServerAPIPrefix(t *testing.T) {
	ts := initTestServer(t, testSyncs(), "/hfsync/")
	defer ts.Close()

	var list SyncsListResponseV1
	ts.Request("GET", "/hfsync/v1/syncs", "").ExpectStatus(200).ExpectBody(&list)
	if len(list.Result) != 2 {
		t.Fatalf("expected two syncs, got %d", len(list.Result))
	}

	ts.Request("GET", "/v1/syncs", "").ExpectStatus(404)
	ts.Request("GET", "/hfsync/health", "").ExpectStatus(200)
}

func TestServerMetricsEndpoint(t *testing.T) {
	ts := initTestServer(t, testSyncs(), "")
	defer ts.Close()

	tr := ts.Request("GET", "/metrics", "").ExpectStatus(200)
	if !strings.Contains(tr.Body().String(), "go_goroutines") {
		t.Fatal("expected go runtime metrics in /metrics output")
	}
}

func TestServerHealthEndpoint(t *testing.T) {

	ts := initTestServer(t, testSyncs(), "")
	defer ts.Close()

	notReady := func(context.Context) error { return errors.New("not ready") }
	ready := func(context.Context) error { return nil }

	ts.srv.readyFn = notReady

	resp := ts.Request("GET", "/health", "")
	resp.ExpectStatus(500)

	ts.srv.readyFn = ready

	resp = ts.Request("GET", "/health", "")
	resp.ExpectStatus(200)

}

func TestListenAndServeShutdown(t *testing.T) {
	srv := New().WithSyncs(testSyncs()).Init()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

type testServer struct {
	t      *testing.T
	srv    *Server
	router *http.ServeMux
	s      *httptest.Server
}

func initTestServer(t *testing.T, syncs Syncs, prefix string) *testServer {
	var ts testServer
	ts.t = t
	ts.router = http.NewServeMux()
	ts.srv = New().WithSyncs(syncs).WithAPIPrefix(prefix).WithRouter(ts.router)
	ts.srv.Init()
	ts.s = httptest.NewServer(ts.router)
	return &ts
}

func (ts *testServer) Close() {
	ts.s.Close()
}

func (ts *testServer) Request(method, path string, body string) *testResponse {
	var buf io.Reader
	if body != "" {
		buf = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, ts.s.URL+path, buf)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return &testResponse{ts: ts, w: w}
}

type testResponse struct {
	ts *testServer
	w  *httptest.ResponseRecorder
}

func (tr *testResponse) Body() *bytes.Buffer {
	return tr.w.Body
}

func (tr *testResponse) BodyDecoded() any {
	var v any
	if err := newJSONDecoder(tr.w.Body).Decode(&v); err != nil {
		panic(err)
	}
	return v
}

func (tr *testResponse) ExpectStatus(code int) *testResponse {
	tr.ts.t.Helper()
	if tr.w.Code != code {
		tr.ts.t.Log("body:", tr.w.Body.String())
		tr.ts.t.Fatalf("expected status %v but got %v", code, tr.w.Code)
	}
	return tr
}

func (tr *testResponse) ExpectBody(x any) *testResponse {

	tr.ts.t.Helper()
	if err := newJSONDecoder(tr.w.Body).Decode(x); err != nil {
		tr.ts.t.Log("body:", tr.w.Body.String())
		tr.ts.t.Fatal(err)
	}
	return tr
}

func newJSONDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}
