// Package app is the composition root: it loads the config, builds the
// store, guard, hooks, engine, fleet service and web surface, and owns the
// hot-reload loop that fans config changes out to the live services.
package app

import (
	"context"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"maintd/internal/config"
	"maintd/internal/engine"
	"maintd/internal/fleet"
	"maintd/internal/guard"
	"maintd/internal/hook"
	"maintd/internal/metrics"
	"maintd/internal/runtime/supervisor"
	"maintd/internal/store"
	"maintd/internal/web"
	"maintd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	st  store.Store
	gd  *guard.Guard
	reg *prometheus.Registry
	mx  *metrics.Collector

	eng *engine.Service
	fl  *fleet.Service
	web *web.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	st, err := store.Open(mapStoreConfig(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mx := metrics.NewCollector(reg)

	gd := guard.New()
	hks := buildHooks(cfg, log)

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	eng := engine.New(engCfg, st, gd, hks, mx, log.With(logx.String("comp", "engine")))

	grace, err := config.ParseDurationOrDefault("fleet.grace_period", cfg.Fleet.GracePeriod, 15*time.Minute)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	fl := fleet.New(fleet.Config{GracePeriod: grace}, st, eng, log.With(logx.String("comp", "fleet")))

	webSvc := web.New(mapWebConfig(cfg), fl, reg, log.With(logx.String("comp", "web")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		gd:      gd,
		reg:     reg,
		mx:      mx,
		eng:     eng,
		fl:      fl,
		web:     webSvc,
	}, nil
}

// Fleet exposes the collaborator-facing service for embedding callers.
func (a *App) Fleet() *fleet.Service { return a.fl }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log)

	a.eng.Start(a.sup.Context())
	if err := a.web.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig fans a committed config out to the live services. The store
// and hook wiring are fixed at construction; changes there warn and require
// a restart.
func (a *App) applyConfig(ctx context.Context, old, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(mapLogConfig(cfg))

	if engCfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.eng.Apply(engCfg)
	}

	a.web.Reconfigure(ctx, mapWebConfig(cfg))

	if old != nil {
		if !reflect.DeepEqual(old.Store, cfg.Store) {
			a.log.Warn("store config changed; restart required for changes to take effect")
		}
		if !reflect.DeepEqual(old.Hooks, cfg.Hooks) {
			a.log.Warn("hooks config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if a.sup != nil {
		a.sup.Cancel()
	}
	a.web.Stop(ctx)
	a.eng.Stop(ctx)

	var err error
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = a.sup.Wait(wctx)
		cancel()
	}

	if cerr := a.st.Close(); cerr != nil {
		a.log.Warn("closing store failed", logx.Err(cerr))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// ---- config mapping ----

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 0)
	return store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	poll, err := config.ParseDurationOrDefault("engine.poll_interval", cfg.Engine.PollInterval, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	hookTimeout, err := config.ParseDurationOrDefault("engine.hook_timeout", cfg.Engine.HookTimeout, 5*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("engine.retention", cfg.Engine.Retention, 0)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		PollInterval:  poll,
		HookTimeout:   hookTimeout,
		HousekeepSpec: cfg.Engine.HousekeepSpec,
		Retention:     retention,
		Timezone:      cfg.Engine.Timezone,
	}, nil
}

func mapWebConfig(cfg *config.Config) web.Config {
	return web.Config{
		Enabled:       cfg.Web.Enabled,
		Addr:          cfg.Web.Addr,
		Token:         cfg.Web.Token,
		AllowInsecure: cfg.Web.AllowInsecure,
		Pprof:         cfg.Web.Pprof,
	}
}

// buildHooks assembles the action hook chain. The structured log hook is
// always first; webhook and telegram hooks are added when configured.
func buildHooks(cfg *config.Config, log logx.Logger) hook.Hook {
	hooks := hook.Multi{hook.LogHook{Log: log.With(logx.String("comp", "hook"))}}

	if wh := cfg.Hooks.Webhook; wh != nil && wh.URL != "" {
		hooks = append(hooks, hook.NewWebhook(wh.URL, wh.RatePerSec))
	}
	if tg := cfg.Hooks.Telegram; tg != nil && tg.Token != "" {
		h, err := hook.NewTelegram(tg.Token, tg.ChatID)
		if err != nil {
			log.Warn("telegram hook init failed; continuing without it", logx.Err(err))
		} else {
			hooks = append(hooks, h)
		}
	}
	return hooks
}
