package router

import (
	"net/http"
	"time"

	_ "clinical-access-control/docs"
	mem "clinical-access-control/internal/adapters/storage/memory"
	"clinical-access-control/internal/domain/accesscontrol"
	"clinical-access-control/internal/middleware"
	"clinical-access-control/internal/platform/clock"
	"clinical-access-control/internal/platform/logger"
	"clinical-access-control/internal/platform/metrics"
	"clinical-access-control/internal/ports/auth"
	"clinical-access-control/internal/ports/ledger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si no viene, ledger in-memory.
	Ledger ledger.Ledger

	// Opcionales; defaults: logger Nop, reloj monotónico sobre time.Now, métricas nuevas.
	Logger  logger.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics

	// Controller permite reusar el mismo controlador (p.ej. con el Sweeper).
	// Si viene, Ledger/Logger/Metrics no se usan para construirlo.
	Controller *accesscontrol.Controller

	// 0 desactiva el rate limit
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewMonotonic(time.Now)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	ctrl := opts.Controller
	if ctrl == nil {
		l := opts.Ledger
		if l == nil {
			l = mem.NewLedger()
		}
		ctrl = accesscontrol.NewController(l, middleware.ClaimsAuthorizer{},
			accesscontrol.WithLogger(log),
			accesscontrol.WithObserver(m),
		)
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recover(log))
	r.Use(m.Instrument)
	if opts.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
	}

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	accesscontrol.RegisterRoutes(r, ctrl, clk)

	return r
}
