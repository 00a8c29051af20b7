package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maintd/internal/guard"
	"maintd/internal/hook"
	"maintd/internal/metrics"
	"maintd/internal/store"
	"maintd/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	st store.Store
	gd *guard.Guard
	hk hook.Hook
	mx *metrics.Collector

	c      *cron.Cron
	ticks  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	// now is a seam for tests; production uses time.Now.
	now func() time.Time
}

func New(cfg Config, st store.Store, gd *guard.Guard, hk hook.Hook, mx *metrics.Collector, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		st:  st,
		gd:  gd,
		hk:  hk,
		mx:  mx,
		log: log,
		now: time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.ticks = make(chan struct{}, 1)

	s.startCronLocked()

	runCtx := s.runCtx
	stopCh := s.stopCh
	ticks := s.ticks
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickWorker(runCtx, stopCh, ticks)
	}()

	// Fire immediately so windows that became due while the process was
	// down transition on startup rather than one poll interval later.
	select {
	case ticks <- struct{}{}:
	default:
	}

	s.log.Info("engine started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Bool("retention", s.cfg.Retention > 0),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.stopCh = nil
	s.runCancel = nil
	s.c = nil
	s.ticks = nil
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}

	// Let the in-flight tick finish; abandon the wait on ctx timeout.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("engine stopped")
}

// Apply swaps the engine config at runtime. A changed poll interval,
// housekeeping spec or timezone restarts the cron; an in-flight tick is
// unaffected.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := s.stopCh != nil &&
		(cfg.PollInterval != s.cfg.PollInterval ||
			cfg.HousekeepSpec != s.cfg.HousekeepSpec ||
			(cfg.Retention > 0) != (s.cfg.Retention > 0) ||
			strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone))
	s.cfg = cfg
	if restart {
		if s.c != nil {
			<-s.c.Stop().Done()
			s.c = nil
		}
		s.startCronLocked()
		s.log.Info("engine rescheduled", logx.Duration("poll_interval", cfg.PollInterval))
	}
}

// Poke requests an immediate tick. Safe from any goroutine; coalesces with
// a pending tick and is a no-op when the engine is not running.
func (s *Service) Poke() {
	s.mu.Lock()
	ticks := s.ticks
	s.mu.Unlock()
	if ticks == nil {
		return
	}
	select {
	case ticks <- struct{}{}:
	default:
	}
}

func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(loc))

	ticks := s.ticks
	_, err := s.c.AddFunc("@every "+s.cfg.PollInterval.String(), func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	if err != nil {
		s.log.Error("registering poll tick failed", logx.Err(err))
	}

	if s.cfg.Retention > 0 {
		_, err := s.c.AddFunc(s.cfg.HousekeepSpec, func() {
			s.housekeep(context.Background())
		})
		if err != nil {
			s.log.Warn("registering housekeeping failed",
				logx.String("spec", s.cfg.HousekeepSpec), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) tickWorker(ctx context.Context, stopCh chan struct{}, ticks chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticks:
			s.runTick(ctx)
		}
	}
}

func (s *Service) hookTimeout() time.Duration {
	s.mu.Lock()
	d := s.cfg.HookTimeout
	s.mu.Unlock()
	return d
}

func (s *Service) pollInterval() time.Duration {
	s.mu.Lock()
	d := s.cfg.PollInterval
	s.mu.Unlock()
	return d
}
