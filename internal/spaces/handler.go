package spaces

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler serves the study-space pages.
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

// MountRoutes registers study-space routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showSpaces)
	r.Post("/bookings", h.handleBook)
	r.Post("/bookings/{id}/cancel", h.handleCancel)
}

type spacesPageData struct {
	Spaces   []Space
	Bookings []Booking
}

func (h *Handler) showSpaces(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.ActorFromContext(r.Context())
	spaces, err := h.service.ListSpaces(r.Context())
	if err != nil {
		h.logger.Error("list spaces", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	bookings, err := h.service.ListBookings(r.Context(), actor.IdentityID)
	if err != nil {
		h.logger.Warn("list bookings", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "Study spaces",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		SignedIn:    true,
		Email:       actor.Email,
		IsStaff:     actor.Roles.Has(rbac.RoleAdmin) || actor.Roles.Has(rbac.RoleLibrarian),
		IsAdmin:     actor.IsAdmin(),
		Data:        spacesPageData{Spaces: spaces, Bookings: bookings},
	}
	if err := h.templates.Render(w, "pages/spaces_list.html", data); err != nil {
		h.logger.Error("render spaces", slog.Any("error", err))
	}
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if err := h.csrfManager.VerifyToken(r.Context(), sess, r.PostFormValue(shared.CSRFFormField)); err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	actor, _ := rbac.ActorFromContext(r.Context())

	spaceID, _ := strconv.ParseInt(r.PostFormValue("space_id"), 10, 64)
	startsAt, errStart := time.Parse("2006-01-02T15:04", r.PostFormValue("starts_at"))
	endsAt, errEnd := time.Parse("2006-01-02T15:04", r.PostFormValue("ends_at"))
	if errStart != nil || errEnd != nil {
		h.flashAndBack(w, r, sess, "error", "Enter a valid booking window")
		return
	}

	_, err := h.service.Book(r.Context(), actor.IdentityID, BookingRequest{
		SpaceID:  spaceID,
		StartsAt: startsAt,
		EndsAt:   endsAt,
	})
	switch {
	case err == nil:
		h.flashAndBack(w, r, sess, "success", "Space booked")
	case errors.Is(err, ErrWindowTaken):
		h.flashAndBack(w, r, sess, "error", "That window is already booked")
	case errors.Is(err, ErrBadWindow):
		h.flashAndBack(w, r, sess, "error", "Enter a valid booking window")
	case errors.Is(err, shared.ErrNotFound):
		http.NotFound(w, r)
	default:
		h.logger.Error("book space", slog.Any("error", err))
		h.flashAndBack(w, r, sess, "error", "Could not book the space, please retry")
	}
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if err := h.csrfManager.VerifyToken(r.Context(), sess, r.PostFormValue(shared.CSRFFormField)); err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	actor, _ := rbac.ActorFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.service.Cancel(r.Context(), id, actor.IdentityID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("cancel booking", slog.Int64("id", id), slog.Any("error", err))
		h.flashAndBack(w, r, sess, "error", "Could not cancel the booking")
		return
	}
	h.flashAndBack(w, r, sess, "success", "Booking cancelled")
}

func (h *Handler) flashAndBack(w http.ResponseWriter, r *http.Request, sess *shared.Session, kind, msg string) {
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: msg})
	}
	http.Redirect(w, r, "/study-spaces", http.StatusSeeOther)
}
