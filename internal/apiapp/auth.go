package apiapp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/phillip-england/hrsuite/internal/importer"
	"github.com/phillip-england/hrsuite/internal/security"
)

const (
	roleAdmin    = importer.RoleAdmin
	roleManager  = importer.RoleManager
	roleEmployee = importer.RoleEmployee
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
)

type signupRequest struct {
	TenantName string `json:"tenantName"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Employee  `json:"user"`
	Tenant    Tenant    `json:"tenant"`
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.TenantName = strings.TrimSpace(req.TenantName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.TenantName == "" || req.Email == "" || req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "tenantName, email, firstName and lastName are required")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "email is not a valid address")
		return
	}

	tenant, admin, err := s.createTenant(r.Context(), req.TenantName, req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, errConflict):
			writeError(w, http.StatusConflict, "an account with this email already exists")
		default:
			s.logger.Error("signup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	resp, err := s.issueSession(r.Context(), *admin, *tenant)
	if err != nil {
		s.logger.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// createTenant creates a tenant and its first admin. Login emails must be
// unique across tenants so that login needs no tenant hint.
func (s *server) createTenant(ctx context.Context, tenantName, email, password, firstName, lastName string) (*Tenant, *Employee, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	tenant := Tenant{ID: newID(), Name: tenantName}
	admin := Employee{
		ID:           newID(),
		TenantID:     tenant.ID,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         roleAdmin,
		Status:       statusActive,
		PasswordHash: hash,
		HireDate:     s.now().Format(dateLayout),
	}
	err = s.store.tx(ctx, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Employee{}).Where("email = ? AND password_hash <> ''", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errConflict
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		return tx.Create(&admin).Error
	})
	if err != nil {
		return nil, nil, translateWriteError(err)
	}
	return &tenant, &admin, nil
}

func (s *server) seed(ctx context.Context, cfg Config) error {
	if cfg.SeedTenant == "" && cfg.SeedEmail == "" && cfg.SeedPassword == "" {
		return nil
	}
	if cfg.SeedTenant == "" || cfg.SeedEmail == "" || cfg.SeedPassword == "" {
		return errors.New("SEED_TENANT, ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	var tenants int64
	if err := s.store.db.WithContext(ctx).Model(&Tenant{}).Count(&tenants).Error; err != nil {
		return err
	}
	if tenants > 0 {
		return nil
	}
	tenant, _, err := s.createTenant(ctx, cfg.SeedTenant, cfg.SeedEmail, cfg.SeedPassword, "Admin", "User")
	if err != nil {
		return err
	}
	s.logger.Info("seeded first tenant", zap.String("tenant", tenant.Name), zap.String("admin", cfg.SeedEmail))
	return nil
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var candidates []Employee
	if err := s.store.db.WithContext(r.Context()).
		Where("email = ? AND password_hash <> '' AND status = ?", req.Email, statusActive).
		Find(&candidates).Error; err != nil {
		s.logger.Error("login lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	var user *Employee
	for i := range candidates {
		if security.VerifyPassword(req.Password, candidates[i].PasswordHash) {
			user = &candidates[i]
			break
		}
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var tenant Tenant
	if err := s.store.db.WithContext(r.Context()).First(&tenant, "id = ?", user.TenantID).Error; err != nil {
		s.logger.Error("login tenant lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	resp, err := s.issueSession(r.Context(), *user, tenant)
	if err != nil {
		s.logger.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) issueSession(ctx context.Context, user Employee, tenant Tenant) (tokenResponse, error) {
	token, err := security.NewToken(32)
	if err != nil {
		return tokenResponse{}, err
	}
	now := s.now()
	sess := Session{
		Token:      token,
		EmployeeID: user.ID,
		TenantID:   user.TenantID,
		ExpiresAt:  now.Add(s.sessionTTL),
		CreatedAt:  now,
	}
	if err := s.store.create(ctx, &sess); err != nil {
		return tokenResponse{}, err
	}
	// Opportunistic cleanup; a failure here does not affect the new session.
	_ = s.store.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&Session{}).Error
	return tokenResponse{Token: token, ExpiresAt: sess.ExpiresAt, User: user, Tenant: tenant}, nil
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if sess := sessionFromContext(r.Context()); sess != nil {
		_ = withSQLiteRetry(func() error {
			return s.store.db.WithContext(r.Context()).Delete(&Session{}, "token = ?", sess.Token).Error
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user := userFromContext(r.Context())
	var tenant Tenant
	if err := s.store.db.WithContext(r.Context()).First(&tenant, "id = ?", user.TenantID).Error; err != nil {
		s.writeStoreError(w, err, "tenant not found", "", "unable to load tenant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "tenant": tenant})
}

func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var sess Session
		err := s.store.db.WithContext(r.Context()).First(&sess, "token = ?", token).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !sess.ExpiresAt.After(s.now())) {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		if err != nil {
			s.logger.Error("session lookup", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "session check failed")
			return
		}

		var user Employee
		if err := s.store.first(r.Context(), sess.TenantID, sess.EmployeeID, &user); err != nil {
			if errors.Is(err, errNotFound) {
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}
			s.logger.Error("session user lookup", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "session check failed")
			return
		}
		if user.Status != statusActive {
			writeError(w, http.StatusForbidden, "account is inactive")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, &sess)
		ctx = context.WithValue(ctx, userContextKey, &user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil || !hasRole(user, roles...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeRoles lets every role read and only the given roles write.
func writeRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := requireRole(roles...)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func hasRole(user *Employee, roles ...string) bool {
	for _, role := range roles {
		if user.Role == role {
			return true
		}
	}
	return false
}

func canManage(user *Employee) bool {
	return hasRole(user, roleAdmin, roleManager)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func userFromContext(ctx context.Context) *Employee {
	user, _ := ctx.Value(userContextKey).(*Employee)
	return user
}

func sessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey).(*Session)
	return sess
}

// ipLimiter hands out one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{limit: limit, burst: burst, limiters: map[string]*limiterEntry{}}
}

func (l *ipLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) > 4096 {
		for k, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > 10*time.Minute {
				delete(l.limiters, k)
			}
		}
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(s.clientIP(r), s.now()) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
