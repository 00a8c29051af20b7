// Package web serves the read-only operational HTTP surface: health,
// dashboard summary, Prometheus metrics and optional pprof. It is not the
// fleet's write API; that layer lives outside this process.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maintd/internal/fleet"
	"maintd/pkg/logx"
)

// Config controls the operational HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	fl  *fleet.Service
	reg *prometheus.Registry

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, fl *fleet.Service, reg *prometheus.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, fl: fl, reg: reg, log: log}
}

func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8720"
	}
	if err := s.checkBindSafetyLocked(addr); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.buildMuxLocked(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("web server exited", logx.Err(err))
		}
	}()
	s.log.Info("web server listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	s.log.Info("web server stopped")
}

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		if err := s.Start(ctx); err != nil {
			s.log.Warn("web server start failed", logx.Err(err))
		}
		return
	}
	if prev.Addr != cfg.Addr || prev.Token != cfg.Token || prev.Pprof != cfg.Pprof || prev.AllowInsecure != cfg.AllowInsecure {
		s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Warn("web server restart failed", logx.Err(err))
		}
	}
}

func (s *Service) checkBindSafetyLocked(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	loopback := host == "localhost" || (ip != nil && ip.IsLoopback())
	if !loopback && strings.TrimSpace(s.cfg.Token) == "" && !s.cfg.AllowInsecure {
		return errors.New("refusing non-loopback bind without web.token (set web.allow_insecure to override)")
	}
	return nil
}

func (s *Service) buildMuxLocked() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/api/summary", func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.fl.Summary(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sum)
	})

	if s.reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}

	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /healthz stays open for load balancer probes.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+token && r.URL.Query().Get("token") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
