package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/buildinfo"
	"github.com/zavora-ai/imagegen/core/infra/logging"
	infraMetrics "github.com/zavora-ai/imagegen/core/infra/metrics"
	"github.com/zavora-ai/imagegen/core/ratelimit"
)

const (
	logComponent      = "api-gateway"
	defaultListLimit  = 100
	defaultMaxUpload  = 20 << 20
	defaultRetainKeep = 100
)

// BusStatus reports the event bus connection for /health.
type BusStatus interface {
	IsConnected() bool
	Status() string
}

// Options wire a Server.
type Options struct {
	Store    artifacts.Store
	Governor *ratelimit.Governor // nil disables throttling
	Hub      *Hub                // nil disables /api/v1/stream
	Metrics  infraMetrics.GatewayMetrics
	// Init creates the data directories for POST /api/v1/init.
	Init           func() error
	DefaultRetain  *int // retain used when ?retain is absent; nil keeps 100
	MaxUploadBytes int64
	Build          buildinfo.Summary
	Bus            BusStatus // nil omits bus status from /health
	// AllowedOrigins lists browser origins; "*" allows any. Empty allows
	// localhost and the API's own host.
	AllowedOrigins []string
	Now            func() time.Time
}

// Server exposes the artifact store over HTTP.
type Server struct {
	store     artifacts.Store
	governor  *ratelimit.Governor
	hub       *Hub
	metrics   infraMetrics.GatewayMetrics
	init      func() error
	retain    int
	maxUpload int64
	build     buildinfo.Summary
	bus       BusStatus
	origins   originPolicy
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("artifact store required")
	}
	s := &Server{
		store:     opts.Store,
		governor:  opts.Governor,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		init:      opts.Init,
		retain:    defaultRetainKeep,
		maxUpload: opts.MaxUploadBytes,
		build:     opts.Build,
		bus:       opts.Bus,
		origins:   newOriginPolicy(opts.AllowedOrigins),
		now:       opts.Now,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.origins.allows}
	if s.metrics == nil {
		s.metrics = infraMetrics.Noop{}
	}
	if opts.DefaultRetain != nil && *opts.DefaultRetain >= 0 {
		s.retain = *opts.DefaultRetain
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Handler returns the routed, CORS-wrapped API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.instrumented("/health", s.handleHealth))
	mux.HandleFunc("POST /api/v1/init", s.instrumented("/api/v1/init", s.handleInit))

	// Expensive operations pass through the rate governor.
	mux.HandleFunc("POST /api/v1/upload", s.instrumented("/api/v1/upload", s.rateLimited(s.handleUpload)))

	// Listings grow with the store; compress them for clients that accept it.
	mux.Handle("GET /api/v1/images", gzhttp.GzipHandler(s.instrumented("/api/v1/images", s.handleListImages)))
	mux.HandleFunc("DELETE /api/v1/images", s.instrumented("/api/v1/images", s.handleCleanupImages))
	mux.HandleFunc("GET /api/v1/images/{id}", s.instrumented("/api/v1/images/{id}", s.handleGetImage))
	mux.HandleFunc("DELETE /api/v1/images/{id}", s.instrumented("/api/v1/images/{id}", s.handleDeleteImage))
	mux.HandleFunc("GET /api/v1/images/files/{filename}", s.instrumented("/api/v1/images/files/{filename}", s.handleImageFile))

	mux.HandleFunc("/api/v1/stream", s.instrumented("/api/v1/stream", s.handleStream))

	return s.cors(mux)
}

// Serve runs the API on httpAddr and /metrics on metricsAddr until ctx is done.
func (s *Server) Serve(ctx context.Context, httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if metricsAddr != "" {
		go func() {
			logging.Info(logComponent, "metrics listening", "addr", metricsAddr+"/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error(logComponent, "metrics server error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info(logComponent, "http listening", "addr", httpAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = metricsSrv.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(logComponent, "http server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// rateLimited checks the caller against the governor and writes the rate
// headers on every guarded response.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.governor == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.governor.Check(ratelimit.ClientKey(r))
		res.SetHeaders(w.Header())
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", res.ResetSeconds))
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "Rate limit exceeded. Please try again later.", nil)
			return
		}
		next(w, r)
	}
}

var exposedHeaders = strings.Join([]string{
	ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset,
}, ", ")

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !s.origins.allows(r) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: map[string]struct{}{}}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

// allows admits requests without an Origin header, since non-browser clients
// omit it.
func (p originPolicy) allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[origin]
		return ok
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	switch host := u.Hostname(); host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		own := (&url.URL{Host: r.Host}).Hostname()
		return own != "" && strings.EqualFold(host, own)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}
