package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	store          *Store
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, store *Store, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		store:          store,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/signup", h.showSignup)
	r.Post("/signup", h.handleSignup)
	r.Post("/logout", h.handleLogout)
}

type credentialsForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type authPageData struct {
	Form   credentialsForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderAuthPage(w, r, "pages/login.html", "Sign in", authPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := credentialsForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		for _, fieldErr := range err.(validator.ValidationErrors) {
			errs[fieldErr.Field()] = fieldErr.Error()
		}
	}

	if len(errs) == 0 {
		ident, err := h.store.SignIn(r.Context(), sess, form.Email, form.Password)
		if err != nil {
			errs["general"] = "Invalid email or password"
		} else {
			if sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back to the library portal"})
				expiresAt := time.Now().Add(h.sessionManager.TTL())
				if err := h.service.RegisterSession(r.Context(), sess.ID, ident.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
					h.logger.Warn("register session", slog.Any("error", err))
				}
			} else {
				h.logger.Error("session missing during login")
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderAuthPage(w, r, "pages/login.html", "Sign in", authPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.renderAuthPage(w, r, "pages/signup.html", "Create account", authPageData{}, http.StatusOK)
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := credentialsForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		for _, fieldErr := range err.(validator.ValidationErrors) {
			errs[fieldErr.Field()] = fieldErr.Error()
		}
	}

	if len(errs) == 0 {
		if _, err := h.store.SignUp(r.Context(), form.Email, form.Password); err != nil {
			if errors.Is(err, shared.ErrEmailTaken) {
				errs["Email"] = "That email is already registered"
			} else {
				h.logger.Error("sign up", slog.Any("error", err))
				errs["general"] = "Could not create the account, please try again"
			}
		} else {
			if sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Account created. Sign in to continue."})
			}
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.renderAuthPage(w, r, "pages/signup.html", "Create account", authPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.store.SignOut(r.Context(), sess)
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) renderAuthPage(w http.ResponseWriter, r *http.Request, template, title string, data authPageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render auth page", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}
