package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trullo.app/internal/access"
	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      tracker.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (a *API) authRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(a.guard(access.AuthRegister)).Post("/register", a.register)
		r.With(a.guard(access.AuthLogin)).Post("/login", a.login)
		r.With(a.guard(access.AuthLogout)).Post("/logout", a.logout)
	})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	u, err := a.svc.Register(r.Context(), tracker.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	a.startSession(w, r, u, http.StatusCreated, "user registered")
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	u, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	a.startSession(w, r, u, http.StatusOK, "logged in")
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, u tracker.User, code int, message string) {
	token, exp, err := a.authn.Tokens().Issue(auth.Identity{UserID: u.ID, Role: u.Role})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	auth.SetTokenCookie(w, token, exp, a.cookieSecure)
	writeSuccess(w, code, message, sessionResponse{User: u, Token: token, ExpiresAt: exp})
}

// logout revokes the presented token until it would have expired and clears
// the cookie. Logging out without a session is not an error.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Logout(r.Context()); err != nil {
		handleTrackerError(w, r, err)
		return
	}
	auth.ClearTokenCookie(w, a.cookieSecure)
	writeSuccess(w, http.StatusOK, "logged out", nil)
}
