package devapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/aussiebroadwan/rbacadmin/pkg/jwtx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"
)

// RouterParams holds the dependencies of NewRouter.
type RouterParams struct {
	Config   *Config
	Store    *Store
	Identity *Identity
	Verifier jwtx.Verifier
	Logger   *slog.Logger
	Version  string
}

// HealthResponse is the body of GET /livez.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// NewRouter builds the chi router for the resource and OAuth2 routes.
func NewRouter(p RouterParams) http.Handler {
	started := time.Now()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        p.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !p.Config.IsProduction(),
	})

	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		slogx.HTTPMiddleware(p.Logger),
		chimw.Recoverer,
		secureMiddleware.Handler,
	)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(started).Truncate(time.Second).String(),
			Version: p.Version,
		})
	})

	r.Route("/v1/oauth2", func(r chi.Router) {
		r.With(httpx.RateLimitByIPAndFormField(p.Config.LoginLimit(), "username")).
			Method(http.MethodPost, "/token", &TokenHandler{Identity: p.Identity})
		r.With(httpx.RateLimitByIP(p.Config.LoginLimit())).
			Method(http.MethodPost, "/revoke", &RevokeHandler{Identity: p.Identity})
	})

	h := &ResourceHandler{Store: p.Store}
	r.Group(func(r chi.Router) {
		r.Use(httpx.RateLimitByIP(p.Config.APILimit()))
		if p.Config.RequireAuth {
			r.Use(httpx.AuthnMiddleware(p.Verifier))
		}

		r.Get("/users", h.ListUsers)
		r.Post("/users", h.CreateUser)
		r.Put("/users/{id}", h.UpdateUser)
		r.Delete("/users/{id}", h.DeleteUser)

		r.Get("/roles", h.ListRoles)
		r.Post("/roles", h.CreateRole)
		r.Put("/roles/{id}", h.UpdateRole)
		r.Delete("/roles/{id}", h.DeleteRole)
		r.Patch("/roles/{id}/permissions", h.TogglePermission)

		r.Get("/permissions", h.ListPermissions)
		r.Post("/permissions", h.CreatePermission)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
