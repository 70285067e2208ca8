// Package httpapi is the ops/admin HTTP surface: liveness and readiness endpoints, the admin claim
// listing and, in dev OTP mode, the captured-code endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"company-claims/backend/internal/audit"
	"company-claims/backend/internal/claim/domain"
	"company-claims/backend/internal/claim/repository"
	"company-claims/backend/internal/claim/service"
	"company-claims/backend/internal/health"
	"company-claims/backend/internal/security"
)

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Key"

// ClaimLister is implemented by *service.Service.
type ClaimLister interface {
	ListClaims(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ClaimRequest, error)
}

// Deps are the collaborators of the router. Nil optional fields disable their routes.
type Deps struct {
	Claims ClaimLister
	Health *health.Checker
	// AdminKeys guards /admin. Without a configured hash every admin request is rejected.
	AdminKeys *security.APIKeyChecker
	Audit     audit.AuditLogger
	// DevOTP is mounted at /dev when set.
	DevOTP         http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter returns the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Health == nil {
		d.Health = health.NewChecker()
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", AdminKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ready, checks := d.Health.Report(req.Context())
		code, st := http.StatusOK, "ok"
		if !ready {
			code, st = http.StatusServiceUnavailable, "unavailable"
		}
		writeJSON(w, code, map[string]interface{}{"status": st, "checks": checks})
	})

	if d.Claims != nil {
		a := &adminHandler{claims: d.Claims, audit: d.Audit, logger: d.Logger}
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(requireAdminKey(d.AdminKeys))
			ar.Get("/claims", a.listClaims)
		})
	}
	if d.DevOTP != nil {
		r.Mount("/dev", d.DevOTP)
	}
	return r
}

func requireAdminKey(keys *security.APIKeyChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if err := keys.Check(req.Header.Get(AdminKeyHeader)); err != nil {
				writeError(w, http.StatusUnauthorized, "missing or invalid admin key")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

type adminHandler struct {
	claims ClaimLister
	audit  audit.AuditLogger
	logger *zap.Logger
}

type claimJSON struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	ClaimantUserID string     `json:"claimant_user_id"`
	Status         string     `json:"status"`
	DisplayName    string     `json:"display_name"`
	PhotoRef       string     `json:"photo_ref,omitempty"`
	BusinessEmail  string     `json:"business_email,omitempty"`
	HasDomainEmail *bool      `json:"has_domain_email"`
	CodesIssued    int        `json:"codes_issued"`
	LastCodeSentAt *time.Time `json:"last_code_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// listClaims serves GET /admin/claims?status=&limit=&offset=.
func (a *adminHandler) listClaims(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	limit, err := intParam(q.Get("limit"), repository.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	st := domain.Status(q.Get("status"))

	list, err := a.claims.ListClaims(req.Context(), st, limit, offset)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("list claims failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if a.audit != nil {
		meta, _ := json.Marshal(map[string]interface{}{"status": st, "count": len(list)})
		a.audit.LogEvent(req.Context(), audit.AdminActorID, "list", "claim", string(meta))
	}

	out := make([]claimJSON, 0, len(list))
	for _, c := range list {
		out = append(out, claimJSON{
			ID:             c.ID,
			CompanyID:      c.CompanyID,
			ClaimantUserID: c.ClaimantUserID,
			Status:         string(c.Status),
			DisplayName:    c.DisplayName,
			PhotoRef:       c.PhotoRef,
			BusinessEmail:  c.BusinessEmail,
			HasDomainEmail: c.HasDomainEmail,
			CodesIssued:    c.CodesIssued,
			LastCodeSentAt: c.LastCodeSentAt,
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims": out,
		"limit":  repository.ClampLimit(limit),
		"offset": offset,
	})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
