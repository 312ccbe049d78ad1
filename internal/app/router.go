package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openshelf/openshelf/internal/catalog"
	"github.com/openshelf/openshelf/internal/identity"
	"github.com/openshelf/openshelf/internal/observability"
	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/research"
	"github.com/openshelf/openshelf/internal/resources"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/spaces"
	"github.com/openshelf/openshelf/internal/users"
	"github.com/openshelf/openshelf/internal/view"
	"github.com/openshelf/openshelf/jobs"
	"github.com/openshelf/openshelf/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Templates        *view.Engine
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	Guard            rbac.Guard
	AuthHandler      *identity.Handler
	CatalogHandler   *catalog.Handler
	SpacesHandler    *spaces.Handler
	ResearchHandler  *research.Handler
	ResourcesHandler *resources.Handler
	UsersHandler     *users.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with OpenShelf defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Landing page for unauthenticated visitors.
	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		renderPage(params, w, r, "pages/landing.html", "OpenShelf Library", nil)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.Identity() == "" {
			http.Redirect(w, r, "/welcome", http.StatusSeeOther)
			return
		}
		renderPage(params, w, r, "pages/home.html", "OpenShelf Library", map[string]any{
			"AppEnv": params.Config.AppEnv,
		})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Member area: any signed-in identity.
	r.Group(func(r chi.Router) {
		r.Use(params.Guard.RequireAuth())
		r.Route("/books", params.CatalogHandler.MountRoutes)
		r.Route("/study-spaces", params.SpacesHandler.MountRoutes)
		r.Route("/research", params.ResearchHandler.MountRoutes)
		r.Route("/e-resources", params.ResourcesHandler.MountRoutes)
		r.Get("/services", func(w http.ResponseWriter, r *http.Request) {
			renderPage(params, w, r, "pages/services.html", "Library services", nil)
		})
		r.Get("/updates", func(w http.ResponseWriter, r *http.Request) {
			renderPage(params, w, r, "pages/updates.html", "Library updates", nil)
		})
	})

	// Staff area: librarians and admins.
	r.Group(func(r chi.Router) {
		r.Use(params.Guard.RequireAny(rbac.RoleAdmin, rbac.RoleLibrarian))
		r.Route("/manage-users", params.UsersHandler.MountRoutes)
		r.Get("/circulation", func(w http.ResponseWriter, r *http.Request) {
			renderPage(params, w, r, "pages/circulation.html", "Circulation desk", nil)
		})
	})

	// Admin area: a nested, stricter guard on top of the staff one.
	r.Group(func(r chi.Router) {
		r.Use(params.Guard.RequireAny(rbac.RoleAdmin, rbac.RoleLibrarian))
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.RequireAny(rbac.RoleAdmin))
			r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
				renderPage(params, w, r, "pages/admin.html", "Administration", nil)
			})
			r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
				renderPage(params, w, r, "pages/settings.html", "Portal settings", nil)
			})
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func renderPage(params RouterParams, w http.ResponseWriter, r *http.Request, template, title string, pageData any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	actor, _ := rbac.ActorFromContext(r.Context())
	email := actor.Email
	if email == "" && sess != nil {
		email = sess.Get("email")
	}
	data := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    sess != nil && sess.Identity() != "",
		Email:       email,
		IsStaff:     actor.Roles.Has(rbac.RoleAdmin) || actor.Roles.Has(rbac.RoleLibrarian),
		IsAdmin:     actor.IsAdmin(),
		Data:        pageData,
	}
	if err := params.Templates.Render(w, template, data); err != nil {
		params.Logger.Error("render page", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers so
// browsers cache assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
