package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trullo.app/internal/access"
	"trullo.app/internal/tracker"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assignedTo"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	AssignedTo  *string `json:"assignedTo"`
}

func (a *API) taskRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.With(a.guard(access.TaskList)).Get("/", a.listTasks)
		r.With(a.guard(access.TaskMine)).Get("/mine", a.myTasks)
		r.With(a.guard(access.TaskStatuses)).Get("/statuses", a.taskStatuses)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(access.TaskGet)).Get("/", a.getTask)
			r.With(a.guard(access.TaskUpdate)).Patch("/", a.updateTask)
			r.With(a.guard(access.TaskDelete)).Delete("/", a.deleteTask)
		})
	})
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	q := r.URL.Query()
	f := tracker.TaskFilter{
		ProjectID:  strings.TrimSpace(q.Get("projectId")),
		AssignedTo: strings.TrimSpace(q.Get("assignedTo")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if f.Status, err = tracker.ParseStatus(raw); err != nil {
			handleTrackerError(w, r, err)
			return
		}
	}
	tasks, err := a.svc.ListTasks(r.Context(), f, page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "tasks", tasks)
}

func (a *API) myTasks(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tasks, err := a.svc.MyTasks(r.Context(), page)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "tasks", tasks)
}

func (a *API) taskStatuses(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "task statuses", a.svc.TaskStatuses())
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	t, err := a.svc.CreateTask(r.Context(), tracker.TaskInput{
		ProjectID:   chi.URLParam(r, "id"),
		Title:       req.Title,
		Description: req.Description,
		Status:      tracker.TaskStatus(req.Status),
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "task created", t)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "task", t)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	in := tracker.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
	}
	if req.Status != nil {
		st := tracker.TaskStatus(*req.Status)
		in.Status = &st
	}
	id := chi.URLParam(r, "id")
	t, err := a.svc.UpdateTask(r.Context(), id, in)
	if err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "task updated", t)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteTask(r.Context(), id); err != nil {
		handleTrackerError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "task deleted", nil)
}
