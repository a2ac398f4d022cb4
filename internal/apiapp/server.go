// Package apiapp is the hrsuite REST backend. Every resource lives under
// /api/v1 and is scoped to the tenant of the authenticated caller.
package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phillip-england/hrsuite/internal/middleware"
)

const apiPrefix = "/api/v1"

type Config struct {
	Addr       string
	DBPath     string
	SessionTTL time.Duration

	// SeedTenant, SeedEmail and SeedPassword create the first tenant and its
	// admin when the database has no tenants yet. All three or none.
	SeedTenant   string
	SeedEmail    string
	SeedPassword string

	// TrustProxy makes rate limiting key on X-Forwarded-For, which the web
	// client sets when it forwards logins.
	TrustProxy bool
	AuthRate   rate.Limit
	AuthBurst  int

	Logger *zap.Logger
}

func DefaultConfigFromEnv() Config {
	ttl, err := time.ParseDuration(envOrDefault("SESSION_TTL", "12h"))
	if err != nil || ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return Config{
		Addr:         envOrDefault("API_ADDR", ":8080"),
		DBPath:       envOrDefault("DB_PATH", "data.db"),
		SessionTTL:   ttl,
		SeedTenant:   envOrDefault("SEED_TENANT", ""),
		SeedEmail:    strings.ToLower(envOrDefault("ADMIN_EMAIL", "")),
		SeedPassword: envOrDefault("ADMIN_PASSWORD", ""),
		TrustProxy:   parseBoolQueryValue(envOrDefault("TRUST_PROXY", "false")),
		AuthRate:     rate.Every(6 * time.Second),
		AuthBurst:    5,
	}
}

type server struct {
	store      *store
	logger     *zap.Logger
	sessionTTL time.Duration
	trustProxy bool
	limiter    *ipLimiter
	now        func() time.Time
}

func newServer(st *store, cfg Config) *server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.AuthRate == 0 {
		cfg.AuthRate = rate.Every(6 * time.Second)
	}
	if cfg.AuthBurst <= 0 {
		cfg.AuthBurst = 5
	}
	return &server{
		store:      st,
		logger:     logger,
		sessionTTL: cfg.SessionTTL,
		trustProxy: cfg.TrustProxy,
		limiter:    newIPLimiter(cfg.AuthRate, cfg.AuthBurst),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func Run(ctx context.Context, cfg Config) error {
	st, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	s := newServer(st, cfg)
	if err := s.seed(ctx, cfg); err != nil {
		return fmt.Errorf("seed first tenant: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	managerWrites := writeRoles(roleAdmin, roleManager)
	auth := func(h http.HandlerFunc, extra ...middleware.Middleware) http.Handler {
		return middleware.Chain(h, append([]middleware.Middleware{s.requireAuth}, extra...)...)
	}

	mux.Handle(apiPrefix+"/health", http.HandlerFunc(s.health))
	mux.Handle(apiPrefix+"/auth/signup", middleware.Chain(http.HandlerFunc(s.signup), s.rateLimit))
	mux.Handle(apiPrefix+"/auth/login", middleware.Chain(http.HandlerFunc(s.login), s.rateLimit))
	mux.Handle(apiPrefix+"/auth/logout", auth(s.logout))
	mux.Handle(apiPrefix+"/auth/me", auth(s.me))

	mux.Handle(apiPrefix+"/employees", auth(s.employeesHandler, managerWrites))
	mux.Handle(apiPrefix+"/employees/", auth(s.employeeByIDHandler, managerWrites))
	mux.Handle(apiPrefix+"/benefit-types", auth(s.benefitTypesHandler, managerWrites))
	mux.Handle(apiPrefix+"/benefit-types/", auth(s.benefitTypeByIDHandler, managerWrites))
	mux.Handle(apiPrefix+"/timesheet-policy", auth(s.timesheetPolicyHandler, writeRoles(roleAdmin)))
	mux.Handle(apiPrefix+"/projects", auth(s.projectsHandler, managerWrites))
	mux.Handle(apiPrefix+"/projects/", auth(s.projectByIDHandler, managerWrites))
	mux.Handle(apiPrefix+"/tasks", auth(s.tasksHandler, managerWrites))
	mux.Handle(apiPrefix+"/tasks/", auth(s.taskByIDHandler, managerWrites))
	mux.Handle(apiPrefix+"/timesheets", auth(s.timesheetsHandler))
	mux.Handle(apiPrefix+"/timesheets/", auth(s.timesheetByIDHandler))
	mux.Handle(apiPrefix+"/leave-requests", auth(s.leaveRequestsHandler))
	mux.Handle(apiPrefix+"/leave-requests/", auth(s.leaveRequestByIDHandler))
	mux.Handle(apiPrefix+"/users/import", auth(s.importUsers, requireRole(roleAdmin)))
	mux.Handle(apiPrefix+"/users/import/template", auth(s.importTemplate))

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'"}),
	)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
