package resources

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler serves the e-resource pages.
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

// MountRoutes registers e-resource routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showResources)
}

type resourcesPageData struct {
	Resources  []Resource
	Category   string
	Categories []string
}

func (h *Handler) showResources(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	list, err := h.repo.ListResources(r.Context(), category)
	if err != nil {
		h.logger.Error("list resources", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		h.logger.Warn("list categories", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	actor, _ := rbac.ActorFromContext(r.Context())
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "E-Resources",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    true,
		Email:       actor.Email,
		IsStaff:     actor.Roles.Has(rbac.RoleAdmin) || actor.Roles.Has(rbac.RoleLibrarian),
		IsAdmin:     actor.IsAdmin(),
		Data:        resourcesPageData{Resources: list, Category: category, Categories: categories},
	}
	if err := h.templates.Render(w, "pages/resources_list.html", data); err != nil {
		h.logger.Error("render resources", slog.Any("error", err))
	}
}
