package research

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler serves the research journal pages.
type Handler struct {
	logger      *slog.Logger
	repo        Repository
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, repo Repository, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, repo: repo, templates: templates, csrfManager: csrf}
}

// MountRoutes registers research routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showJournals)
}

type journalsPageData struct {
	Journals []Journal
	Field    string
	Fields   []string
}

func (h *Handler) showJournals(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	journals, err := h.repo.ListJournals(r.Context(), field)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	fields, err := h.repo.ListFields(r.Context())
	if err != nil {
		h.logger.Warn("list fields", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	actor, _ := rbac.ActorFromContext(r.Context())
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "Research journals",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    true,
		Email:       actor.Email,
		IsStaff:     actor.Roles.Has(rbac.RoleAdmin) || actor.Roles.Has(rbac.RoleLibrarian),
		IsAdmin:     actor.IsAdmin(),
		Data:        journalsPageData{Journals: journals, Field: field, Fields: fields},
	}
	if err := h.templates.Render(w, "pages/research_list.html", data); err != nil {
		h.logger.Error("render journals", slog.Any("error", err))
	}
}
