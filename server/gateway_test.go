package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

var testSessions = map[string]session.StaticSession{
	"owner-key":    {OmeroSessionKey: "owner", UserID: 2, GroupIDs: []int64{3}},
	"stranger-key": {OmeroSessionKey: "stranger", UserID: 5, GroupIDs: []int64{9}},
	"member-key":   {OmeroSessionKey: "member", UserID: 6, GroupIDs: []int64{3}},
}

type testGateway struct {
	*Gateway
	resolver   *session.StaticResolver
	dispatcher *Dispatcher
	calls      int32
}

// newTestGateway serves the test store through a counting processor.
func newTestGateway(t *testing.T, c GatewayConfig) *testGateway {
	pipeline := NewPipeline(newTestStore(t), false)
	tg := &testGateway{resolver: session.NewStaticResolver(testSessions)}
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		atomic.AddInt32(&tg.calls, 1)
		return pipeline.Process(ctx, addr, cred)
	})
	tg.dispatcher = NewDispatcher(proc, 2, 4)
	tg.Gateway = NewGateway(tg.resolver, tg.dispatcher, c)
	return tg
}

func (tg *testGateway) close(t *testing.T) {
	tg.dispatcher.Close()
	if n := tg.resolver.Outstanding(); n != 0 {
		t.Errorf("%d session leases not released\n", n)
	}
}

func (tg *testGateway) processed() int32 {
	return atomic.LoadInt32(&tg.calls)
}

func TestTileFullPlane(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{JobTimeout: 5 * time.Second})
	defer tg.close(t)

	resp := TestHTTPResponse(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "owner-key")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s\n", resp.Code, resp.Body.String())
	}
	if resp.Body.Len() != 16000 {
		t.Errorf("expected 16000 byte tile, got %d\n", resp.Body.Len())
	}
	if !bytes.Equal(resp.Body.Bytes(), testPlane(100, 80)) {
		t.Errorf("tile differs from stored plane\n")
	}
	expected := http.Header{
		"Content-Type":        {"application/octet-stream"},
		"Content-Length":      {"16000"},
		"Content-Disposition": {`attachment; filename="image1_z0_c0_t0_x0_y0_w0_h0.bin"`},
	}
	got := http.Header{}
	for key := range expected {
		got[key] = resp.Header()[key]
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("bad tile headers (-want +got):\n%s", diff)
	}
}

func TestTileRegionAndFormat(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	body := TestHTTP(t, tg, "GET", "/tile/1/0/1/0?x=10&y=20&w=30&h=5", "owner-key")
	if !bytes.Equal(body, crop(testPlane(100, 80), 100, pixbuf.Region{X: 10, Y: 20, Width: 30, Height: 5})) {
		t.Errorf("bad region pixels\n")
	}

	resp := TestHTTPResponse(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=16&h=16&format=png", "owner-key")
	if resp.Code != http.StatusOK {
		t.Fatalf("png tile: %d\n", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("bad png content type %q\n", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.HasSuffix(cd, `_w16_h16.png"`) {
		t.Errorf("bad png content disposition %q\n", cd)
	}

	// resolution 0 is the smallest level
	body = TestHTTP(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0&resolution=0", "owner-key")
	if len(body) != 50*40*2 {
		t.Errorf("expected 4000 byte level 0 plane, got %d\n", len(body))
	}
}

func TestTileBadRequests(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	// parse failures are answered before the session is looked at
	for _, u := range []string{
		"/tile/abc/0/0/0?x=0&y=0&w=0&h=0",
		"/tile/0/0/0/0?x=0&y=0&w=0&h=0",
		"/tile/1/-1/0/0?x=0&y=0&w=0&h=0",
		"/tile/1/0/0/0?x=0&y=0&w=0",
		"/tile/1/0/0/0?x=a&y=0&w=0&h=0",
		"/tile/1/0/0/0?x=0&y=0&w=0&h=0&resolution=x",
	} {
		TestBadHTTP(t, tg, "GET", u, "", http.StatusBadRequest)
	}
	if tg.processed() != 0 {
		t.Errorf("malformed requests reached the workers\n")
	}
}

func TestTileUnauthenticated(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	TestBadHTTP(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "", http.StatusForbidden)
	TestBadHTTP(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "bogus", http.StatusForbidden)
	if tg.processed() != 0 || tg.dispatcher.Submitted() != 0 {
		t.Errorf("unauthenticated requests submitted jobs\n")
	}

	// a bearer token works like the cookie
	req := httptest.NewRequest("GET", "/tile/1/0/0/0?x=0&y=0&w=4&h=4", nil)
	req.Header.Set("Authorization", "Bearer owner-key")
	w := httptest.NewRecorder()
	tg.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.Len() != 32 {
		t.Errorf("bearer request: %d with %d bytes\n", w.Code, w.Body.Len())
	}
}

func TestTileFailureStatus(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	tests := []struct {
		url    string
		key    string
		status int
	}{
		{"/tile/1/0/0/0?x=0&y=0&w=1000&h=1000", "owner-key", http.StatusBadRequest},
		{"/tile/1/0/0/0?x=-5&y=0&w=10&h=10", "owner-key", http.StatusBadRequest},
		{"/tile/1/0/0/0?x=0&y=0&w=0&h=0&format=jpeg", "owner-key", http.StatusUnsupportedMediaType},
		{"/tile/1/0/5/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusNotFound},
		{"/tile/77/0/0/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusNotFound},
		{"/tile/1/0/0/0?x=0&y=0&w=0&h=0&resolution=9", "owner-key", http.StatusNotFound},
		{"/tile/1/0/0/0?x=0&y=0&w=0&h=0", "stranger-key", http.StatusNotFound},
		{"/tile/1/0/0/0?x=9223372036854775807&y=0&w=0&h=0", "owner-key", http.StatusBadRequest},
		{"/tile/1/0/0/0?x=9223372036854775807&y=0&w=1&h=1", "owner-key", http.StatusBadRequest},
		{"/tile/1/0/0/0?x=0&y=9223372036854775807&w=1&h=1", "owner-key", http.StatusBadRequest},
		{"/tile/1/0/0/0?x=1&y=0&w=9223372036854775807&h=1", "owner-key", http.StatusBadRequest},
		{"/tile/3/0/0/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusUnsupportedMediaType},
		{"/tile/3/0/0/0?x=0&y=0&w=0&h=0&format=png", "owner-key", http.StatusUnsupportedMediaType},
		{"/tile/4/0/0/0?x=0&y=0&w=0&h=0&format=png", "owner-key", http.StatusUnsupportedMediaType},
		{"/tile/4/0/0/0?x=0&y=0&w=2&h=2&format=tif", "owner-key", http.StatusUnsupportedMediaType},
	}
	for _, tc := range tests {
		TestBadHTTP(t, tg, "GET", tc.url, tc.key, tc.status)
	}

	// float samples can't be encoded as an image but are served raw
	body := TestHTTP(t, tg, "GET", "/tile/4/0/0/0?x=0&y=0&w=2&h=2", "owner-key")
	if len(body) != 2*2*4 {
		t.Errorf("expected 16 byte float tile, got %d\n", len(body))
	}
}

func TestKindStatus(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	for _, kind := range pixbuf.Kinds() {
		kind := kind
		proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
			return Failed(pixbuf.NewError(kind, "forced %s with secret detail", kind))
		})
		resolver := session.NewStaticResolver(testSessions)
		d := NewDispatcher(proc, 1, 1)
		g := NewGateway(resolver, d, GatewayConfig{})

		resp := TestHTTPResponse(t, g, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "owner-key")
		if resp.Code != kind.HTTPStatus() {
			t.Errorf("%s: expected %d, got %d\n", kind, kind.HTTPStatus(), resp.Code)
		}
		if strings.Contains(resp.Body.String(), "secret") {
			t.Errorf("%s: response leaks error detail: %q\n", kind, resp.Body.String())
		}
		d.Close()
	}
}

func TestTileOverloaded(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	started := make(chan struct{}, 2)
	unblock := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		started <- struct{}{}
		<-unblock
		return Result{Body: []byte("late")}
	})
	resolver := session.NewStaticResolver(testSessions)
	d := NewDispatcher(proc, 1, 1)
	m := NewMetrics()
	m.WatchDispatcher(d)
	g := NewGateway(resolver, d, GatewayConfig{Metrics: m})

	codes := make(chan int, 2)
	get := func() {
		resp := TestHTTPResponse(t, g, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "owner-key")
		codes <- resp.Code
	}

	// one job on the single worker, one waiting in the queue
	go get()
	<-started
	go get()
	deadline := time.Now().Add(5 * time.Second)
	for d.QueueDepth() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("second job never queued\n")
		}
		time.Sleep(time.Millisecond)
	}

	TestBadHTTP(t, g, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusServiceUnavailable)
	if d.Rejected() != 1 {
		t.Errorf("expected one rejected job, got %d\n", d.Rejected())
	}
	close(unblock)
	for i := 0; i < 2; i++ {
		if code := <-codes; code != http.StatusOK {
			t.Errorf("accepted request answered %d\n", code)
		}
	}

	metrics := string(TestHTTP(t, g, "GET", MetricsPath, ""))
	for _, line := range []string{
		"pixelbuffer_tile_jobs_rejected_total 1",
		`pixelbuffer_tile_responses_total{code="503"} 1`,
		`pixelbuffer_tile_responses_total{code="200"} 2`,
		"pixelbuffer_queue_capacity 1",
	} {
		if !strings.Contains(metrics, line) {
			t.Errorf("metrics lack %q\n", line)
		}
	}
	d.Close()
	if n := resolver.Outstanding(); n != 0 {
		t.Errorf("%d session leases not released\n", n)
	}
}

func TestTileTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	unblock := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		<-unblock
		return Result{Body: []byte("late")}
	})
	resolver := session.NewStaticResolver(testSessions)
	d := NewDispatcher(proc, 1, 1)
	g := NewGateway(resolver, d, GatewayConfig{JobTimeout: 20 * time.Millisecond})

	TestBadHTTP(t, g, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusGatewayTimeout)

	// the job keeps running after the timeout and still releases its lease
	if n := resolver.Outstanding(); n != 1 {
		t.Errorf("expected the running job to hold its lease, got %d leases\n", n)
	}
	close(unblock)
	d.Close()
	if n := resolver.Outstanding(); n != 0 {
		t.Errorf("%d session leases not released\n", n)
	}
}

func TestTileClientGone(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)

	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		started <- struct{}{}
		<-unblock
		return Result{Body: []byte("late")}
	})
	resolver := session.NewStaticResolver(testSessions)
	d := NewDispatcher(proc, 1, 1)
	g := NewGateway(resolver, d, GatewayConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookie, Value: "owner-key"})
	w := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		g.ServeHTTP(w, req)
		close(served)
	}()
	<-started
	cancel()
	<-served
	if w.Body.Len() != 0 {
		t.Errorf("response written to a departed client: %q\n", w.Body.String())
	}
	close(unblock)
	d.Close()
	if n := resolver.Outstanding(); n != 0 {
		t.Errorf("%d session leases not released\n", n)
	}
}

func TestDescriptor(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	resp := TestHTTPResponse(t, tg, "OPTIONS", "/", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("OPTIONS /: %d\n", resp.Code)
	}
	var desc Descriptor
	if err := json.Unmarshal(resp.Body.Bytes(), &desc); err != nil {
		t.Fatalf("bad descriptor %q: %v\n", resp.Body.String(), err)
	}
	expected := Descriptor{Provider: "PixelBufferMicroservice", Version: pixbuf.ServiceVersion(), Features: []string{}}
	if diff := cmp.Diff(expected, desc); diff != "" {
		t.Errorf("bad descriptor (-want +got):\n%s", diff)
	}

	TestBadHTTP(t, tg, "GET", "/nothing/here", "owner-key", http.StatusNotFound)
	TestBadHTTP(t, tg, "GET", "/tile/1/0/0?x=0&y=0&w=0&h=0", "owner-key", http.StatusNotFound)
}

func TestTileDenialLogged(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts)
	tg := newTestGateway(t, GatewayConfig{})
	defer tg.close(t)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	TestBadHTTP(t, tg, "GET", "/tile/1/0/0/0?x=0&y=0&w=0&h=0", "stranger-key", http.StatusNotFound)

	var denials []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "permission denied") {
			denials = append(denials, line)
		}
	}
	if len(denials) != 1 {
		t.Fatalf("expected one denial log line, got %d: %q\n", len(denials), denials)
	}
	if !strings.Contains(denials[0], "user 5") || !strings.Contains(denials[0], "image 1") {
		t.Errorf("denial log line lacks user or image: %q\n", denials[0])
	}
}
