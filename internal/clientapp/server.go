// Package clientapp serves the server-rendered admin pages. Every page talks
// to the API through apiclient with the caller's session token.
package clientapp

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/hrsuite/internal/apiclient"
	"github.com/phillip-england/hrsuite/internal/middleware"
)

const sessionCookieName = "hrsuite_session"

type Config struct {
	Addr         string
	APIBaseURL   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SecureCookies marks the session cookie Secure; set it when served over TLS.
	SecureCookies bool
	Logger        *zap.Logger
}

//go:embed templates/*.html assets/app.css assets/combobox.js
var templatesFS embed.FS

type server struct {
	api           *apiclient.Client
	logger        *zap.Logger
	secureCookies bool
	pages         map[string]*template.Template
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:          envOrDefault("CLIENT_ADDR", ":3000"),
		APIBaseURL:    envOrDefault("API_BASE_URL", "http://localhost:8080"),
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  30 * time.Second,
		SecureCookies: envOrDefault("SECURE_COOKIES", "false") == "true",
	}
}

var pageNames = []string{"login", "employees", "benefits", "policy", "leave", "import", "error"}

var templateFuncs = template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
	"hours": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

func newServer(cfg Config) (*server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name + ".html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	api := apiclient.New(cfg.APIBaseURL, "")
	api.HTTP = &http.Client{Timeout: 15 * time.Second}
	return &server{
		api:           api,
		logger:        logger,
		secureCookies: cfg.SecureCookies,
		pages:         pages,
	}, nil
}

func Run(ctx context.Context, cfg Config) error {
	s, err := newServer(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("client listening", zap.String("addr", cfg.Addr), zap.String("api", cfg.APIBaseURL))
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
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireSession)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/login", s.loginRoute)
	mux.HandleFunc("/logout", s.logout)
	mux.HandleFunc("/assets/app.css", assetFile("assets/app.css", "text/css; charset=utf-8"))
	mux.HandleFunc("/assets/combobox.js", assetFile("assets/combobox.js", "text/javascript; charset=utf-8"))
	mux.Handle("/employees", authed(s.employeesRoute))
	mux.Handle("/employees/managers", authed(s.managerSearch))
	mux.Handle("/employees/", authed(s.employeeActionRoute))
	mux.Handle("/benefit-types", authed(s.benefitTypesRoute))
	mux.Handle("/benefit-types/", authed(s.benefitTypeActionRoute))
	mux.Handle("/policy", authed(s.policyRoute))
	mux.Handle("/leave", authed(s.leavePage))
	mux.Handle("/leave/", authed(s.leaveActionRoute))
	mux.Handle("/import", authed(s.importRoute))
	mux.Handle("/import/template", authed(s.importTemplate))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self'",
		"img-src 'self' data:",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if sessionToken(r) == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/employees", http.StatusFound)
}

func assetFile(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := templatesFS.ReadFile(name)
		if err != nil {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(data)
	}
}

type contextKey string

const viewerContextKey contextKey = "viewer"

// viewer is the signed-in user and the API client acting as them.
type viewer struct {
	User   apiclient.Employee
	Tenant apiclient.Tenant
	API    *apiclient.Client
}

func viewerFromContext(ctx context.Context) *viewer {
	v, _ := ctx.Value(viewerContextKey).(*viewer)
	return v
}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		api := s.apiFor(r, token)
		user, tenant, err := api.Me(r.Context())
		if err != nil {
			if apiclient.IsStatus(err, http.StatusUnauthorized) || apiclient.IsStatus(err, http.StatusForbidden) {
				s.clearSessionCookie(w)
				redirectWithError(w, r, "/login", apiclient.UserMessage(err))
				return
			}
			s.logger.Warn("session check failed", zap.Error(err))
			s.renderLoadError(w, r, pageData{Title: "Unavailable"}, err)
			return
		}
		ctx := context.WithValue(r.Context(), viewerContextKey, &viewer{User: user, Tenant: tenant, API: api})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiFor returns a client that authenticates as token and forwards the
// browser's address.
func (s *server) apiFor(r *http.Request, token string) *apiclient.Client {
	api := s.api.WithToken(token)
	api.ForwardedFor = remoteIP(r)
	return api
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *server) render(w http.ResponseWriter, status int, name string, data pageData) {
	tmpl, ok := s.pages[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("template render failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderLoadError shows a failed fetch with a link that repeats the request.
func (s *server) renderLoadError(w http.ResponseWriter, r *http.Request, data pageData, err error) {
	data.LoadError = apiclient.UserMessage(err)
	data.RetryURL = r.URL.RequestURI()
	s.render(w, http.StatusBadGateway, "error", data)
}

// handleActionError routes an API failure from a form post back to the page
// with a message, or to the login page when the session is gone.
func (s *server) handleActionError(w http.ResponseWriter, r *http.Request, back string, err error) {
	if apiclient.IsStatus(err, http.StatusUnauthorized) {
		s.clearSessionCookie(w)
		redirectWithError(w, r, "/login", apiclient.UserMessage(err))
		return
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.Status >= 500 {
		s.logger.Warn("api call failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	redirectWithError(w, r, back, apiclient.UserMessage(err))
}

func redirectWithError(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, withParam(path, "error", message), http.StatusFound)
}

func redirectWithNotice(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, withParam(path, "notice", message), http.StatusFound)
}

func withParam(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
