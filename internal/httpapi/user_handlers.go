package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trullo.app/internal/access"
	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

type updateUserRequest struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	CurrentPassword string  `json:"currentPassword"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) userRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.With(a.guard(access.UserList)).Get("/", a.listUsers)
		r.With(a.guard(access.UserMe)).Get("/me", a.me)
		r.With(a.guard(access.UserRoles)).Get("/roles", a.roles)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(access.UserGet)).Get("/", a.getUser)
			r.With(a.guard(access.UserUpdate)).Patch("/", a.updateUser)
			r.With(a.guard(access.UserDelete)).Delete("/", a.deleteUser)
			r.With(a.guard(access.UserTasks)).Get("/tasks", a.userTasks)
			r.With(a.guard(access.UserRole)).Patch("/role", a.updateUserRole)
			r.With(a.guard(access.UserPassword)).Patch("/password", a.changePassword)
		})
	})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.Me(r.Context())
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "current user", u)
}

func (a *API) roles(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "roles", a.svc.Roles())
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	users, err := a.svc.ListUsers(r.Context(), tracker.UserFilter{Search: r.URL.Query().Get("search")}, page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "users", users)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "user", u)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	u, err := a.svc.UpdateUser(r.Context(), id, tracker.UserUpdate{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		CurrentPassword: req.CurrentPassword,
	})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "user updated", u)
}

func (a *API) updateUserRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		badRequest(w, r, "role must be one of USER, ADMIN")
		return
	}
	id := chi.URLParam(r, "id")
	u, err := a.svc.UpdateUserRole(r.Context(), id, role)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "role updated", u)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.svc.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "password changed", nil)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteUser(r.Context(), id); err != nil {
		handleTrackerError(w, r, err)
		return
	}
	if uid, _ := auth.UserIDFromContext(r.Context()); uid == strings.TrimSpace(id) {
		auth.ClearTokenCookie(w, a.cookieSecure)
	}
	writeSuccess(w, http.StatusOK, "user deleted", nil)
}

func (a *API) userTasks(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tasks, err := a.svc.UserTasks(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "tasks", tasks)
}
