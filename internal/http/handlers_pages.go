package httpx

import (
	"errors"
	"net/http"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/portalswitch"
	"github.com/shipnorth/portal-auth/internal/service"
)

const (
	msgInvalidCredentials = "Invalid email or password."
	msgAccountBlocked     = "This account cannot sign in. Contact Shipnorth support."
	msgUnavailable        = "Sign-in is temporarily unavailable. Try again shortly."
)

type loginPage struct {
	Title       string
	CSRFToken   string
	RedirectURI string
	Email       string
	Message     string
	SSOEnabled  bool
}

type portalPage struct {
	Title         string
	CSRFToken     string
	PageID        string
	Heading       string
	Portal        string
	UserName      string
	UserEmail     string
	Roles         []domainauth.Role
	Switcher      portalswitch.View
	ShowAdminLink bool
}

// Root sends signed-in users to their landing portal and everyone else to the login page.
// GET /.
func (h *AuthHandlers) Root(w http.ResponseWriter, r *http.Request) {
	view, err := h.ResolveRequest(r)
	if err != nil {
		http.Redirect(w, r, domainauth.LoginPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, view.Session.ActivePortal.RootPath(), http.StatusSeeOther)
}

// LoginPage renders the sign-in form.
// GET /login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK, loginPage{
		RedirectURI: redirectParam(r.URL.Query().Get("redirect_uri")),
	})
}

// LoginForm handles the sign-in form post.
// POST /login.
func (h *AuthHandlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, http.StatusBadRequest, loginPage{Message: msgInvalidCredentials})
		return
	}
	email := r.PostFormValue("email")
	redirectURI := redirectParam(r.PostFormValue("redirect_uri"))

	res, err := h.Svc.Login(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		page := loginPage{Email: email, RedirectURI: redirectURI}
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			page.Message = msgInvalidCredentials
		case errors.Is(err, service.ErrAccountDisabled), errors.Is(err, service.ErrNoPortalAccess):
			status = http.StatusForbidden
			page.Message = msgAccountBlocked
		default:
			h.logger().ErrorContext(r.Context(), "login failed", "error", err)
			status = http.StatusServiceUnavailable
			page.Message = msgUnavailable
		}
		h.renderLogin(w, r, status, page)
		return
	}

	h.setSessionCookie(w, r, res.Session)
	http.Redirect(w, r, postLoginTarget(res.User, res.Landing(), redirectURI), http.StatusSeeOther)
}

// LogoutForm signs out and returns to the login page.
// POST /logout.
func (h *AuthHandlers) LogoutForm(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	http.Redirect(w, r, domainauth.LoginPath, http.StatusSeeOther)
}

// SwitchPortalForm handles the portal switcher form post.
// POST /switch-portal.
func (h *AuthHandlers) SwitchPortalForm(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionIDFromCookie(r)
	if sessionID == "" {
		http.Redirect(w, r, domainauth.LoginPath, http.StatusSeeOther)
		return
	}

	view, err := h.Svc.SwitchPortal(r.Context(), sessionID, r.PostFormValue("portal"))
	switch {
	case err == nil:
		http.Redirect(w, r, view.Session.ActivePortal.RootPath(), http.StatusSeeOther)
	case isUnauthenticated(err):
		http.Redirect(w, r, domainauth.LoginPath, http.StatusSeeOther)
	default:
		if !errors.Is(err, service.ErrInvalidPortal) && !errors.Is(err, service.ErrPortalForbidden) {
			h.logger().ErrorContext(r.Context(), "portal switch failed", "error", err)
		}
		// Stay where the user was.
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// PortalPage renders the landing page of a portal. It must run behind RequirePortal or
// RequireRoles so the session is in the request context.
func (h *AuthHandlers) PortalPage(portal domainauth.Portal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := GetSessionFromContext(r.Context())
		if !ok {
			redirectToLogin(w, r)
			return
		}
		h.renderPortal(w, r, view, portalPage{
			Title:   portal.Label() + " portal",
			PageID:  string(portal) + "-portal",
			Heading: "Welcome to the " + portal.Label() + " portal",
			Portal:  portal.Label(),
		}, portal)
	}
}

// AdminPage renders the admin area of the staff portal.
func (h *AuthHandlers) AdminPage(w http.ResponseWriter, r *http.Request) {
	view, ok := GetSessionFromContext(r.Context())
	if !ok {
		redirectToLogin(w, r)
		return
	}
	h.renderPortal(w, r, view, portalPage{
		Title:   "Admin",
		PageID:  "staff-admin",
		Heading: "Staff administration",
		Portal:  domainauth.PortalStaff.Label(),
	}, domainauth.PortalStaff)
}

func (h *AuthHandlers) renderPortal(
	w http.ResponseWriter,
	r *http.Request,
	view *service.SessionView,
	page portalPage,
	current domainauth.Portal,
) {
	page.CSRFToken = GetCSRFToken(r)
	page.UserName = view.User.Name
	page.UserEmail = view.User.Email
	page.Roles = view.User.Roles
	page.Switcher = portalswitch.ViewFor(view.User.Roles, current)
	page.ShowAdminLink = domainauth.HasAdminAccess(view.User.Roles)
	h.Pages.Render(w, r, http.StatusOK, "portal.html", page)
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, r *http.Request, status int, page loginPage) {
	page.Title = "Sign in"
	page.CSRFToken = GetCSRFToken(r)
	page.SSOEnabled = h.Svc.SSOEnabled()
	h.Pages.Render(w, r, status, "login.html", page)
}

// redirectParam keeps a safe return path; "/" means none.
func redirectParam(raw string) string {
	if p := safeRedirectPath(raw); p != "/" {
		return p
	}
	return ""
}
