package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trullo.app/internal/access"
	"trullo.app/internal/tracker"
)

type createProjectRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	OwnerID     string   `json:"ownerId"`
	Members     []string `json:"members"`
}

type updateProjectRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Members     *[]string `json:"members"`
}

type memberRequest struct {
	UserID string `json:"userId"`
}

type transferRequest struct {
	OwnerID string `json:"ownerId"`
}

func (a *API) projectRoutes(r chi.Router) {
	r.Route("/projects", func(r chi.Router) {
		r.With(a.guard(access.ProjectList)).Get("/", a.listProjects)
		r.With(a.guard(access.ProjectCreate)).Post("/", a.createProject)
		r.With(a.guard(access.ProjectMine)).Get("/mine", a.myProjects)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(access.ProjectGet)).Get("/", a.getProject)
			r.With(a.guard(access.ProjectUpdate)).Patch("/", a.updateProject)
			r.With(a.guard(access.ProjectDelete)).Delete("/", a.deleteProject)
			r.With(a.guard(access.ProjectJoin)).Post("/join", a.joinProject)
			r.With(a.guard(access.ProjectLeave)).Post("/leave", a.leaveProject)
			r.With(a.guard(access.ProjectTransfer)).Post("/transfer", a.transferProject)
			r.With(a.guard(access.ProjectMembersAdd)).Post("/members", a.addMember)
			r.With(a.guard(access.ProjectMembersRemove)).Delete("/members/{userId}", a.removeMember)
			r.With(a.guard(access.ProjectTasks)).Get("/tasks", a.projectTasks)
			r.With(a.guard(access.TaskCreate)).Post("/tasks", a.createTask)
		})
	})
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	q := r.URL.Query()
	projects, err := a.svc.ListProjects(r.Context(), tracker.ProjectFilter{
		Search:   q.Get("search"),
		OwnerID:  strings.TrimSpace(q.Get("ownerId")),
		MemberID: strings.TrimSpace(q.Get("memberId")),
	}, page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "projects", projects)
}

func (a *API) myProjects(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	projects, err := a.svc.MyProjects(r.Context(), r.URL.Query().Get("search"), page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "projects", projects)
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	p, err := a.svc.CreateProject(r.Context(), tracker.ProjectInput{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		Members:     req.Members,
	})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "project created", p)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "project", p)
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.svc.UpdateProject(r.Context(), id, tracker.ProjectUpdate{
		Title:       req.Title,
		Description: req.Description,
		Members:     req.Members,
	})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "project updated", p)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteProject(r.Context(), id); err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "project deleted", nil)
}

func (a *API) joinProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := a.svc.JoinProject(r.Context(), id)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "joined project", p)
}

func (a *API) leaveProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := a.svc.LeaveProject(r.Context(), id)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "left project", p)
}

func (a *API) transferProject(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.svc.TransferProject(r.Context(), id, req.OwnerID)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "ownership transferred", p)
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.svc.AddMember(r.Context(), id, req.UserID)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "member added", p)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request) {
	id, userID := chi.URLParam(r, "id"), chi.URLParam(r, "userId")
	p, err := a.svc.RemoveMember(r.Context(), id, userID)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "member removed", p)
}

func (a *API) projectTasks(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	var status tracker.TaskStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		if status, err = tracker.ParseStatus(raw); err != nil {
			handleTrackerError(w, r, err)
			return
		}
	}
	tasks, err := a.svc.ProjectTasks(r.Context(), chi.URLParam(r, "id"), status, page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "tasks", tasks)
}
