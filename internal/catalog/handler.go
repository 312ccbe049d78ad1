package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler serves the book catalogue pages.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrfManager: csrf}
}

// MountRoutes registers catalogue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showList)
	r.Get("/{id}", h.showDetail)
}

type listPageData struct {
	Books    []Book
	Query    string
	Subject  string
	Subjects []string
}

func (h *Handler) showList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	subject := r.URL.Query().Get("subject")

	books, err := h.service.Search(r.Context(), query, subject)
	if err != nil {
		h.logger.Error("search catalogue", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	subjects, err := h.service.Subjects(r.Context())
	if err != nil {
		h.logger.Warn("list subjects", slog.Any("error", err))
	}

	h.render(w, r, "pages/books_list.html", "Books", listPageData{
		Books:    books,
		Query:    query,
		Subject:  subject,
		Subjects: subjects,
	})
}

func (h *Handler) showDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	book, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("get book", slog.Int64("id", id), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/book_detail.html", book.Title, book)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	actor, _ := rbac.ActorFromContext(r.Context())
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    actor.IdentityID != 0,
		Email:       actor.Email,
		IsStaff:     actor.Roles.Has(rbac.RoleAdmin) || actor.Roles.Has(rbac.RoleLibrarian),
		IsAdmin:     actor.IsAdmin(),
		Data:        data,
	}
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render catalogue page", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
