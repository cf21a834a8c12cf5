package tracker

import "context"

// UserFilter narrows user listings. Search matches name or email, case-insensitively.
type UserFilter struct {
	Search string
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	// MemberID selects projects owned by or shared with the user.
	MemberID string
	OwnerID  string
	// Search matches title or description, case-insensitively.
	Search string
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	ProjectID  string
	AssignedTo string
	Status     TaskStatus
}

// Store persists users, projects and tasks. Missing rows are reported as
// ErrNotFound and unique violations as ErrConflict. Listings are ordered by
// creation time.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, f UserFilter, page PageRequest) (Page[User], error)
	UpdateUser(ctx context.Context, u User) (User, error)
	// DeleteUser removes the user, clears their task assignments and drops
	// their project memberships.
	DeleteUser(ctx context.Context, id string) error

	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context, f ProjectFilter, page PageRequest) (Page[Project], error)
	// UpdateProject and RemoveProjectMember clear the project's task
	// assignments held by users who lose access in the same operation.
	UpdateProject(ctx context.Context, p Project) (Project, error)
	AddProjectMember(ctx context.Context, projectID, userID string) (Project, error)
	RemoveProjectMember(ctx context.Context, projectID, userID string) (Project, error)
	// TransferProject makes newOwnerID the owner and keeps the previous
	// owner as a member.
	TransferProject(ctx context.Context, projectID, newOwnerID string) (Project, error)
	// DeleteProject removes the project and its tasks.
	DeleteProject(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, f TaskFilter, page PageRequest) (Page[Task], error)
	UpdateTask(ctx context.Context, t Task) (Task, error)
	DeleteTask(ctx context.Context, id string) error
}
