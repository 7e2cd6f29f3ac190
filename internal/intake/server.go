// Package intake runs the local HTTP surface of the bridge: host processes
// post notification events here, and operators use it for diagnostics.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"qqbridge/internal/config"
	"qqbridge/internal/eventbus"
	"qqbridge/internal/gateway"
	"qqbridge/internal/metrics"
	"qqbridge/pkg/logx"
)

const (
	maxEventBytes   = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// Event is the inbound wire shape accepted on POST /events.
type Event struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Category string `json:"type,omitempty"`
}

type Server struct {
	log     logx.Logger
	bus     eventbus.Bus
	gateway *gateway.Gateway
	metrics *metrics.Metrics

	addr    string
	token   string
	limiter *rate.Limiter

	srv *http.Server
}

func New(cfg config.IntakeConfig, g *gateway.Gateway, bus eventbus.Bus, log logx.Logger, m *metrics.Metrics) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		log:     log,
		bus:     bus,
		gateway: g,
		metrics: m,
		addr:    cfg.Addr(),
		token:   cfg.AuthToken,
	}
	// Allow short bursts of one second's worth of events.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate()), cfg.Rate())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.authorize)
		r.Use(s.throttle)
		r.Post("/events", s.handleEvents)
		r.Post("/test", s.handleTest)
	})
	return r
}

// Start binds the listener and serves until Stop or a fatal error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("intake listening", logx.String("addr", s.addr))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("intake server failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// observe records the final status code of every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.IntakeRequest(ww.Status())
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents accepts one notification event and hands it to the pipeline
// through the bus. The request is acknowledged as soon as the event is
// published; delivery happens asynchronously.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var ev Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}

	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeNotice,
		Time: time.Now(),
		Data: map[string]any{"title": ev.Title, "text": ev.Text, "type": ev.Category},
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleTest fires the canned diagnostic message synchronously and reports
// whether the remote accepted it.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	res := s.gateway.TestSend(r.Context())
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
