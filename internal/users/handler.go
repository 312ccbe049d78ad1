package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler serves the member directory and role administration actions.
type Handler struct {
	logger      *slog.Logger
	repo        Repository
	admin       *rbac.Admin
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, repo Repository, admin *rbac.Admin, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		admin:       admin,
		templates:   templates,
		csrfManager: csrf,
	}
}

// MountRoutes registers directory routes. The surrounding router group is
// expected to carry the staff guard; the POST actions re-check admin inside
// the role service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showDirectory)
	r.Post("/roles/grant", h.handleGrant)
	r.Post("/roles/revoke", h.handleRevoke)
}

// MountTestRouter mounts the handler at its production prefix for tests.
func (h *Handler) MountTestRouter() chi.Router {
	r := chi.NewRouter()
	r.Route("/manage-users", func(r chi.Router) {
		h.MountRoutes(r)
	})
	return r
}

type directoryPageData struct {
	Members  []DirectoryEntry
	Query    string
	AllRoles []string
	CanEdit  bool
}

func (h *Handler) showDirectory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	members, err := h.repo.ListMembers(r.Context(), query)
	if err != nil {
		h.logger.Error("list members", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}

	data := view.TemplateData{
		Title:       "Member directory",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    true,
		Email:       actor.Email,
		IsStaff:     true,
		IsAdmin:     actor.IsAdmin(),
		Data: directoryPageData{
			Members:  members,
			Query:    query,
			AllRoles: []string{string(rbac.RoleAdmin), string(rbac.RoleLibrarian), string(rbac.RoleStudent)},
			CanEdit:  actor.IsAdmin(),
		},
	}
	if err := h.templates.Render(w, "pages/users_list.html", data); err != nil {
		h.logger.Error("render directory", slog.Any("error", err))
	}
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.admin.Grant, "Role granted")
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.admin.Revoke, "Role revoked")
}

type roleMutation func(ctx context.Context, actor rbac.Actor, targetID int64, role rbac.Role) error

func (h *Handler) mutateRole(w http.ResponseWriter, r *http.Request, apply roleMutation, successMsg string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if err := h.csrfManager.VerifyToken(r.Context(), sess, r.PostFormValue(shared.CSRFFormField)); err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	targetID, err := strconv.ParseInt(r.PostFormValue("identity_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	role, ok := rbac.ParseRole(r.PostFormValue("role"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	if err := apply(r.Context(), actor, targetID, role); err != nil {
		if errors.Is(err, rbac.ErrNotAdmin) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		h.logger.Error("mutate role",
			slog.Int64("target_id", targetID),
			slog.String("role", string(role)),
			slog.Any("error", err))
		if sess != nil {
			sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "Could not update the role, please retry"})
		}
		http.Redirect(w, r, "/manage-users", http.StatusSeeOther)
		return
	}

	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: successMsg})
	}
	http.Redirect(w, r, "/manage-users", http.StatusSeeOther)
}
