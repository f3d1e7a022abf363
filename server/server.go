// Package server is the HTTP front door: one webhook ingress plus the
// operational endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ebpay-ops/alert-router/notify"
	"github.com/ebpay-ops/alert-router/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config sizes the HTTP server.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodySize caps the inbound webhook body in bytes. Zero means no cap.
	MaxBodySize int64
}

// Server serves POST /webhook into the dispatcher and exposes health and
// metrics endpoints.
type Server struct {
	cfg        Config
	dispatcher *notify.Dispatcher
	logger     log.Logger
	srv        *http.Server
}

func New(cfg Config, dispatcher *notify.Dispatcher, gatherer prometheus.Gatherer, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/-/healthy", handleStatus("Alert router is Healthy.\n")).Methods(http.MethodGet)
	r.HandleFunc("/-/ready", handleStatus("Alert router is Ready.\n")).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.withRecovery(h)
	h = s.withAccessLog(h)
	h = s.withRequestID(h)

	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(utils.SlogFromGoKit(logger).Handler(), slog.LevelError),
	}
	return s
}

// Handler exposes the composed middleware and routing stack.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	level.Info(s.logger).Log("msg", "Listening", "address", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type okBody struct {
	OK   bool            `json:"ok"`
	Sent []notify.Result `json:"sent"`
}

type errBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.cfg.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errBody{Error: "request body too large"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errBody{Error: "failed to read request body"})
		return
	}

	results, err := s.dispatcher.ProcessWebhook(r.Context(), payload)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, okBody{OK: true, Sent: results})
}

func handleStatus(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, text)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		level.Error(s.logger).Log("msg", "Failed to write response", "err", err)
	}
}

// withRequestID tags the request with a short correlation ID, honoring one
// the caller already set, and echoes it in the response header.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = utils.NewRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(utils.WithRequestID(r.Context(), id)))
	})
}

// withAccessLog logs one line per served request. Probes and metric scrapes
// stay out of the log.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/-/") {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(sw, r)
		level.Info(s.logger).Log(
			"msg", "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(started),
			"request_id", utils.RequestIDFromContext(r.Context()),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				level.Error(s.logger).Log(
					"msg", "Handler panicked",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", utils.RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				s.writeJSON(w, http.StatusInternalServerError, errBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
