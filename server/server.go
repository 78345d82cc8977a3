/*
	Package server puts the tile pipeline behind HTTP.  A Gateway accepts requests and
	hands them to a Dispatcher, whose workers run the Pipeline against the pixel store.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/cors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

// Service is a configured tile server: store, session resolver, dispatcher and gateway.
type Service struct {
	config     Config
	store      storage.PixelStore
	resolver   session.Resolver
	dispatcher *Dispatcher
	gateway    *Gateway
	metrics    *Metrics
	tracer     *sdktrace.TracerProvider
}

// NewService opens the pixel store and session backend named by the configuration and
// starts the worker pool.
func NewService(ctx context.Context, c Config) (*Service, error) {
	store, err := storage.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	resolver, err := session.New(ctx, c.Session)
	if err != nil {
		store.Close()
		return nil, err
	}
	s, err := NewServiceWith(ctx, c, store, resolver)
	if err != nil {
		resolver.Close()
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewServiceWith builds a service on an already opened store and resolver.  The
// service owns both from then on.
func NewServiceWith(ctx context.Context, c Config, store storage.PixelStore, resolver session.Resolver) (*Service, error) {
	s := &Service{config: c, store: store, resolver: resolver}

	var proc Processor = NewPipeline(store, c.Server.RevealPermissionDenied)
	if c.Tracing.Enabled {
		tp, err := NewTracerProvider(ctx, c.Tracing)
		if err != nil {
			return nil, err
		}
		s.tracer = tp
		proc = WithTracing(proc, Tracer())
	}
	if c.Server.Metrics {
		s.metrics = NewMetrics()
		proc = WithMetrics(proc, s.metrics)
	}

	s.dispatcher = NewDispatcher(proc, c.Server.Workers, c.Server.QueueSize)
	if s.metrics != nil {
		s.metrics.WatchDispatcher(s.dispatcher)
	}
	gc := GatewayConfig{
		Cookie:                 c.Session.Cookie,
		JobTimeout:             c.Server.JobTimeout.Duration,
		Metrics:                s.metrics,
		MaxTransfers:           c.Server.MaxTransfers,
		RevealPermissionDenied: c.Server.RevealPermissionDenied,
	}
	if files, ok := store.(storage.FileStore); ok {
		gc.Files = files
	}
	s.gateway = NewGateway(resolver, s.dispatcher, gc)
	return s, nil
}

// Handler returns the HTTP handler of the service, wrapped for CORS if configured.
func (s *Service) Handler() http.Handler {
	if len(s.config.Server.CORSDomains) == 0 {
		return s.gateway
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.CORSDomains,
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowCredentials: true,
	}).Handler(s.gateway)
}

// WaitReady pings the store and the session backend until both answer, backing off
// exponentially, or until ctx is done.
func (s *Service) WaitReady(ctx context.Context, maxWait time.Duration) error {
	ping := func() error {
		if err := s.store.Ping(ctx); err != nil {
			return fmt.Errorf("pixel store: %v", err)
		}
		if err := s.resolver.Ping(ctx); err != nil {
			return fmt.Errorf("session store: %v", err)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	notify := func(err error, wait time.Duration) {
		pixbuf.Warningf("Backends not ready, retrying in %s: %v\n", wait, err)
	}
	return backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify)
}

// Run serves HTTP on the configured address until ctx is done, then shuts down.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done.  In-flight requests get the configured
// shutdown delay to finish before connections are closed.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if n := s.config.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	pixbuf.Infof("Serving tiles on %s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		pixbuf.Infof("Shutting down HTTP server, waiting up to %s\n", s.config.Server.ShutdownDelay)
		sctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownDelay.Duration)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Close drains the dispatcher and closes the backends.
func (s *Service) Close() error {
	s.dispatcher.Close()
	var errs []error
	if s.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownDelay.Duration)
		errs = append(errs, s.tracer.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, s.resolver.Close(), s.store.Close())
	return errors.Join(errs...)
}

// Gateway returns the HTTP gateway of the service.
func (s *Service) Gateway() *Gateway { return s.gateway }

// Dispatcher returns the worker pool of the service.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }
