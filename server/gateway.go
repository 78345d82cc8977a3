package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
	"github.com/zenazn/goji/web/mutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/semaphore"
)

const (
	// TilePath is the route of the tile endpoint.
	TilePath = "/tile/:imageId/:z/:c/:t"

	// MetricsPath serves Prometheus metrics when metrics are enabled.
	MetricsPath = "/metrics"

	providerName = "PixelBufferMicroservice"
)

// Descriptor is the body of an OPTIONS request on the service root.
type Descriptor struct {
	Provider string   `json:"provider"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// GatewayConfig holds the settings of a Gateway.
type GatewayConfig struct {
	// Cookie names the session cookie.
	Cookie string

	// JobTimeout bounds the wait for a tile job.  Zero waits until the job finishes.
	JobTimeout time.Duration

	// Metrics, if not nil, counts responses and is served on MetricsPath.
	Metrics *Metrics

	// Files, if not nil, serves original files on AnnotationPath, FilePath and ZipPath.
	Files storage.FileStore

	// MaxTransfers bounds concurrent original file transfers.  Zero allows one.
	MaxTransfers int

	// RevealPermissionDenied answers 403 instead of 404 for files the caller may not read.
	RevealPermissionDenied bool
}

// Gateway is the HTTP front of the service.  It parses and authenticates tile requests,
// hands them to the dispatcher and writes the results.  No pixel I/O happens on the
// goroutine serving a request.
type Gateway struct {
	resolver   session.Resolver
	dispatcher *Dispatcher
	cookie     string
	timeout    time.Duration
	metrics    *Metrics
	mux        *web.Mux

	files        storage.FileStore
	transfers    *semaphore.Weighted
	maxTransfers int
	revealDenial bool
}

func NewGateway(resolver session.Resolver, dispatcher *Dispatcher, c GatewayConfig) *Gateway {
	g := &Gateway{
		resolver:   resolver,
		dispatcher: dispatcher,
		cookie:     c.Cookie,
		timeout:    c.JobTimeout,
		metrics:    c.Metrics,
		mux:        web.New(),

		files:        c.Files,
		maxTransfers: c.MaxTransfers,
		revealDenial: c.RevealPermissionDenied,
	}
	if g.cookie == "" {
		g.cookie = session.DefaultCookie
	}
	if g.maxTransfers <= 0 {
		g.maxTransfers = 1
	}
	g.transfers = semaphore.NewWeighted(int64(g.maxTransfers))

	g.mux.Use(middleware.EnvInit)
	g.mux.Use(middleware.RequestID)
	g.mux.Use(logRequest)
	g.mux.Use(recoverHandler)

	g.mux.Options("/", describeHandler)
	g.mux.Get(TilePath, g.tileHandler)
	if g.files != nil {
		g.mux.Get(AnnotationPath, g.annotationHandler)
		g.mux.Get(FilePath, g.fileHandler)
		g.mux.Get(ZipPath, g.zipHandler)
	}
	if g.metrics != nil {
		g.mux.Get(MetricsPath, g.metrics.Handler())
	}
	g.mux.NotFound(notFoundHandler)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// tileHandler serves GET /tile/{imageId}/{z}/{c}/{t}.  Requests are parsed before the
// session is resolved and the session is resolved before a job is submitted, so
// malformed or unauthenticated requests never reach the workers.
func (g *Gateway) tileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(c)
	tlog := pixbuf.NewRequestLog(reqID, "")

	addr, err := pixbuf.ParseTileAddress(c.URLParams, r.URL.Query())
	if err != nil {
		g.fail(w, tlog, pixbuf.Classify("parse", err))
		return
	}

	lease, err := g.resolver.Resolve(r.Context(), session.KeyFromRequest(r, g.cookie))
	if err != nil {
		g.fail(w, tlog, pixbuf.Classify("session", err))
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ticket, err := g.dispatcher.Submit(ctx, reqID, addr, lease.Credential(), lease)
	if err != nil {
		g.fail(w, tlog, pixbuf.Classify("submit", err))
		return
	}
	tlog = pixbuf.NewRequestLog(reqID, ticket.ID)

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ticket.Done():
		if r.Context().Err() != nil {
			tlog.Infof("client gone, discarding result of %s", addr)
			return
		}
		if res.Err != nil {
			g.fail(w, tlog, res.Err)
			return
		}
		g.writeTile(w, tlog, res)
	case <-timeout:
		g.fail(w, tlog, pixbuf.NewError(pixbuf.KindTimeout, "no result for %s after %s", addr, g.timeout))
	case <-r.Context().Done():
		tlog.Infof("client disconnected while %s was %s", addr, ticket.State())
	}
}

func (g *Gateway) writeTile(w http.ResponseWriter, tlog pixbuf.TimeLog, res Result) {
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Body); err != nil {
		tlog.Warningf("failed writing %s: %v", res.Filename, err)
		return
	}
	if g.metrics != nil {
		g.metrics.ObserveResponse(http.StatusOK)
	}
	tlog.Debugf("sent %s, %d bytes", res.Filename, len(res.Body))
}

// fail answers with the status of the error's kind.  The body is the bare status text;
// the cause is only logged.
func (g *Gateway) fail(w http.ResponseWriter, tlog pixbuf.TimeLog, e *pixbuf.Error) {
	status := e.Kind.HTTPStatus()
	switch {
	case errors.Is(e, storage.ErrPermissionDenied):
		tlog.Infof("permission denied, answering %d: %v", status, e)
	case status >= http.StatusInternalServerError:
		tlog.Errorf("tile request failed with %d: %v", status, e)
	default:
		tlog.Infof("tile request rejected with %d: %v", status, e)
	}
	if g.metrics != nil {
		g.metrics.ObserveResponse(status)
	}
	writeStatus(w, status)
}

func writeStatus(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, http.StatusText(status))
}

func describeHandler(w http.ResponseWriter, r *http.Request) {
	desc := Descriptor{
		Provider: providerName,
		Version:  pixbuf.ServiceVersion(),
		Features: []string{},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		pixbuf.Errorf("can't write service descriptor: %v\n", err)
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusNotFound)
}

// logRequest logs every request with its status and the time taken to answer it.
func logRequest(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		tlog := pixbuf.NewRequestLog(middleware.GetReqID(*c), "")
		lw := mutil.WrapWriter(w)
		h.ServeHTTP(lw, r)
		status := lw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		tlog.Debugf("%s %s -> %d, %d bytes", r.Method, r.URL.RequestURI(), status, lw.BytesWritten())
	}
	return http.HandlerFunc(fn)
}

// recoverHandler answers 500 if a handler panics.
func recoverHandler(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				pixbuf.Criticalf("panic serving %s %s: %v\n", r.Method, r.URL.Path, err)
				writeStatus(w, http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
