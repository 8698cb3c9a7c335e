// Package app wires the CoWork control plane runtime: config, logging, HTTP routes, the
// WebSocket gateway and its sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/audit"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/gateway"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/password"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/token"
)

// Deps are the collaborators New would otherwise build from the environment.
// Tests inject them; zero fields are loaded from env.
type Deps struct {
	Authenticator auth.Authenticator
	Gateway       *gateway.Config
	Fingerprinter *token.Fingerprinter
}

// App is the CoWork server runtime: it owns the HTTP server, the gateway and the DB pool.
type App struct {
	cfg   Config
	gwCfg gateway.Config
	log   Logger

	dbPool *pgxpool.Pool

	registry *controlplane.Registry
	gw       *gateway.Gateway
	metrics  *prometheus.Registry

	// Bound address once Run is listening; used by tests.
	ready chan string
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	return NewWithDeps(context.Background(), cfg, log, Deps{})
}

// NewWithDeps is New with injectable collaborators.
func NewWithDeps(ctx context.Context, cfg Config, log Logger, deps Deps) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	gwCfg := gateway.LoadConfigFromEnv()
	if deps.Gateway != nil {
		gwCfg = *deps.Gateway
	}

	authn := deps.Authenticator
	if authn == nil {
		authCfg, err := auth.LoadConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if err := ValidateSecurityConfig(cfg, authCfg, gwCfg); err != nil {
			return nil, err
		}
		hasher, err := password.FromEnv()
		if err != nil {
			return nil, err
		}
		authn, _, err = auth.New(authCfg, hasher, nil)
		if err != nil {
			return nil, err
		}
	}

	fp := deps.Fingerprinter
	if fp == nil {
		var err error
		fp, err = token.FingerprinterFromEnv(cfg.RequireAuditHMAC)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:      cfg,
		gwCfg:    gwCfg,
		log:      log,
		registry: controlplane.NewRegistry(log),
		ready:    make(chan string, 1),
	}

	sink, err := a.openAudit(ctx)
	if err != nil {
		return nil, err
	}

	var gm *gateway.Metrics
	if cfg.MetricsEnabled {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if gm, err = gateway.NewMetrics(a.metrics); err != nil {
			a.closeDB()
			return nil, err
		}
	}

	a.gw, err = gateway.New(gwCfg, gateway.Options{
		Log:           log,
		Registry:      a.registry,
		Authenticator: authn,
		Audit:         sink,
		Fingerprinter: fp,
		Metrics:       gm,
	})
	if err != nil {
		a.closeDB()
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.MustRegister(gateway.NewStateCollector(a.registry, a.gw.Idempotency(), a.gw.Locks()))
	}
	return a, nil
}

// openAudit builds the audit sink: always the log, plus Postgres when a database is configured.
func (a *App) openAudit(ctx context.Context) (audit.Sink, error) {
	logSink := audit.NewLogSink(a.log)
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.audit_log_only")
		return logSink, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.dbPool = pool

	pg, err := audit.NewPostgresSink(pool, audit.WithSchema(a.cfg.AuditSchema))
	if err != nil {
		a.closeDB()
		return nil, err
	}
	if a.cfg.AuditMigrate {
		if err := pg.Migrate(ctx); err != nil {
			a.closeDB()
			return nil, err
		}
	}

	a.log.Info("db.enabled.audit_postgres", "schema", a.cfg.AuditSchema)
	return audit.Multi{logSink, pg}, nil
}

func (a *App) closeDB() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// Gateway returns the WebSocket gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Handler returns the full HTTP handler: /ws bypasses CORS since the gateway applies its
// own origin policy.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.gw, a.gwCfg.ServerVersion, a.metrics)

	root := http.NewServeMux()
	root.Handle("/ws", a.gw)
	root.Handle("/", WithCORS(mux, a.cfg, a.log))

	return WithRequestLogging(WithSecurityHeaders(root), a.log)
}

// Run serves HTTP and runs the gateway sweeper until ctx is cancelled or either fails.
// On the way out it notifies clients, drains the server and closes the pool.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	ln, err := listen(ctx, a.cfg.HTTPAddr)
	if err != nil {
		return err
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"http", base,
		"ws", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbPool != nil,
		"metrics", a.metrics != nil,
	)
	a.ready <- ln.Addr().String()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.gw.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := a.gw.Shutdown(shutdownCtx, "server shutdown"); err != nil {
			a.log.Warn("gateway.shutdown.timeout", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err = g.Wait()
	a.closeDB()
	a.log.Info("server.stopped")
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
