package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"trullo.app/internal/audit"
	"trullo.app/internal/auth"
	"trullo.app/internal/ids"
)

const (
	maxNameLength        = 100
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// Service applies business rules on top of a Store. Authorization is the
// caller's concern; Service only reads the identity to stamp actors.
type Service struct {
	store   Store
	now     func() time.Time
	revoker TokenRevoker
}

// TokenRevoker invalidates a raw identity token.
type TokenRevoker interface {
	Revoke(ctx context.Context, raw string) error
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRevoker sets the store consulted by Logout.
func WithRevoker(r TokenRevoker) ServiceOption {
	return func(s *Service) { s.revoker = r }
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() Store { return s.store }

func (s *Service) timestamp() time.Time { return s.now().UTC() }

// record writes the audit event of a successful mutation. Both transports
// go through Service, so each mutation is audited exactly once.
func (s *Service) record(ctx context.Context, event, kind, id string, extra map[string]any) {
	fields := map[string]any{
		"resource_kind": kind,
		"resource_id":   id,
	}
	for k, v := range extra {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

func caller(ctx context.Context) (*auth.Identity, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: caller identity is required", ErrInvalidInput)
	}
	return id, nil
}

func required(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(v) > max {
		return "", fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, max)
	}
	return v, nil
}

func optional(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > max {
		return "", fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, max)
	}
	return v, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func hashPassword(password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, auth.MinPasswordLength)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return hash, nil
}

// --- users ---

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a USER account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	name, err := optional("name", in.Name, maxNameLength)
	if err != nil {
		return User{}, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	now := s.timestamp()
	u, err := s.store.CreateUser(ctx, User{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrConflict) {
		return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if err != nil {
		return User{}, err
	}
	s.record(ctx, "auth.registered", "user", u.ID, nil)
	return u, nil
}

// Login checks credentials. Unknown emails and bad passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.loginFailed(ctx, email)
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		s.loginFailed(ctx, email)
		return User{}, ErrInvalidCredentials
	}
	s.record(ctx, "auth.login", "user", u.ID, nil)
	return u, nil
}

func (s *Service) loginFailed(ctx context.Context, email string) {
	_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"email": email})
}

// Logout revokes the token the caller presented. Without a token it does
// nothing.
func (s *Service) Logout(ctx context.Context) error {
	raw, ok := auth.TokenFromContext(ctx)
	if !ok {
		return nil
	}
	if s.revoker != nil {
		if err := s.revoker.Revoke(ctx, raw); err != nil {
			return err
		}
	}
	if uid, ok := auth.UserIDFromContext(ctx); ok {
		s.record(ctx, "auth.logout", "user", uid, nil)
	}
	return nil
}

// Me returns the calling user.
func (s *Service) Me(ctx context.Context) (User, error) {
	id, err := caller(ctx)
	if err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id.UserID)
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	if err := validID("user", id); err != nil {
		return User{}, err
	}
	u, err := s.store.GetUser(ctx, id)
	return u, notFound("user", err)
}

// ListUsers returns users matching f.
func (s *Service) ListUsers(ctx context.Context, f UserFilter, page PageRequest) (Page[User], error) {
	return s.store.ListUsers(ctx, f, page)
}

// Roles lists assignable roles.
func (s *Service) Roles() []auth.Role {
	return append([]auth.Role(nil), auth.Roles...)
}

// UserUpdate holds optional profile changes. CurrentPassword is required
// when callers change their own email or password.
type UserUpdate struct {
	Name            *string
	Email           *string
	Password        *string
	CurrentPassword string
}

// UpdateUser applies profile changes.
func (s *Service) UpdateUser(ctx context.Context, id string, in UserUpdate) (User, error) {
	who, err := caller(ctx)
	if err != nil {
		return User{}, err
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}

	emailChanged, passwordChanged := false, false
	if in.Name != nil {
		if u.Name, err = required("name", *in.Name, maxNameLength); err != nil {
			return User{}, err
		}
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return User{}, err
		}
		emailChanged = email != u.Email
		u.Email = email
	}
	if in.Password != nil && strings.TrimSpace(*in.Password) != "" {
		passwordChanged = true
	}

	if who.UserID == id && (emailChanged || passwordChanged) {
		if in.CurrentPassword == "" {
			return User{}, fmt.Errorf("%w: current password is required when changing email or password", ErrInvalidInput)
		}
		if err := auth.VerifyPassword(u.PasswordHash, in.CurrentPassword); err != nil {
			return User{}, fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
		}
	}
	if passwordChanged {
		if u.PasswordHash, err = hashPassword(*in.Password); err != nil {
			return User{}, err
		}
	}

	u.UpdatedAt = s.timestamp()
	updated, err := s.store.UpdateUser(ctx, u)
	if errors.Is(err, ErrConflict) {
		return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if err != nil {
		return User{}, notFound("user", err)
	}
	s.record(ctx, "user.updated", "user", id, nil)
	return updated, nil
}

// UpdateUserRole changes a user's role.
func (s *Service) UpdateUserRole(ctx context.Context, id string, role auth.Role) (User, error) {
	parsed, ok := auth.ParseRole(string(role))
	if !ok {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.Role = parsed
	u.UpdatedAt = s.timestamp()
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return User{}, notFound("user", err)
	}
	s.record(ctx, "user.role_changed", "user", id, map[string]any{"role": string(parsed)})
	return updated, nil
}

// ChangePassword replaces a password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.VerifyPassword(u.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
	}
	if u.PasswordHash, err = hashPassword(next); err != nil {
		return err
	}
	u.UpdatedAt = s.timestamp()
	if _, err = s.store.UpdateUser(ctx, u); err != nil {
		return notFound("user", err)
	}
	s.record(ctx, "user.password_changed", "user", id, nil)
	return nil
}

// DeleteUser removes a user who owns no projects.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := validID("user", id); err != nil {
		return err
	}
	err := s.store.DeleteUser(ctx, id)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: user still owns projects; transfer or delete them first", ErrConflict)
	}
	if err != nil {
		return notFound("user", err)
	}
	s.record(ctx, "user.deleted", "user", id, nil)
	return nil
}

// --- projects ---

// ProjectInput carries the fields accepted when creating a project.
type ProjectInput struct {
	Title       string
	Description string
	// OwnerID is honoured only for administrators; others always own what
	// they create.
	OwnerID string
	Members []string
}

// ProjectUpdate holds optional project changes.
type ProjectUpdate struct {
	Title       *string
	Description *string
	Members     *[]string
}

func (s *Service) memberList(ctx context.Context, ownerID string, members []string) ([]string, error) {
	out := make([]string, 0, len(members))
	seen := map[string]bool{ownerID: true}
	for _, m := range members {
		m = strings.TrimSpace(m)
		if seen[m] {
			continue
		}
		if _, err := s.GetUser(ctx, m); err != nil {
			return nil, fmt.Errorf("member %s: %w", m, err)
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// CreateProject creates a project owned by the caller.
func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	who, err := caller(ctx)
	if err != nil {
		return Project{}, err
	}
	title, err := required("title", in.Title, maxTitleLength)
	if err != nil {
		return Project{}, err
	}
	desc, err := optional("description", in.Description, maxDescriptionLength)
	if err != nil {
		return Project{}, err
	}
	ownerID := who.UserID
	if owner := strings.TrimSpace(in.OwnerID); owner != "" && who.IsAdmin() {
		if _, err := s.GetUser(ctx, owner); err != nil {
			return Project{}, err
		}
		ownerID = owner
	}
	members, err := s.memberList(ctx, ownerID, in.Members)
	if err != nil {
		return Project{}, err
	}
	now := s.timestamp()
	p, err := s.store.CreateProject(ctx, Project{
		ID:          ids.New(),
		Title:       title,
		Description: desc,
		OwnerID:     ownerID,
		Members:     members,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Project{}, notFound("owner", err)
	}
	s.record(ctx, "project.created", "project", p.ID, map[string]any{"owner_id": p.OwnerID})
	return p, nil
}

// GetProject returns a project by id.
func (s *Service) GetProject(ctx context.Context, id string) (Project, error) {
	if err := validID("project", id); err != nil {
		return Project{}, err
	}
	p, err := s.store.GetProject(ctx, id)
	return p, notFound("project", err)
}

// ListProjects returns projects matching f.
func (s *Service) ListProjects(ctx context.Context, f ProjectFilter, page PageRequest) (Page[Project], error) {
	return s.store.ListProjects(ctx, f, page)
}

// MyProjects returns projects the caller owns or belongs to.
func (s *Service) MyProjects(ctx context.Context, search string, page PageRequest) (Page[Project], error) {
	who, err := caller(ctx)
	if err != nil {
		return Page[Project]{}, err
	}
	return s.store.ListProjects(ctx, ProjectFilter{MemberID: who.UserID, Search: search}, page)
}

// UpdateProject applies project changes. Ownership moves only through
// TransferProject.
func (s *Service) UpdateProject(ctx context.Context, id string, in ProjectUpdate) (Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if in.Title != nil {
		if p.Title, err = required("title", *in.Title, maxTitleLength); err != nil {
			return Project{}, err
		}
	}
	if in.Description != nil {
		if p.Description, err = optional("description", *in.Description, maxDescriptionLength); err != nil {
			return Project{}, err
		}
	}
	if in.Members != nil {
		if p.Members, err = s.memberList(ctx, p.OwnerID, *in.Members); err != nil {
			return Project{}, err
		}
	}
	p.UpdatedAt = s.timestamp()
	updated, err := s.store.UpdateProject(ctx, p)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.updated", "project", id, nil)
	return updated, nil
}

// DeleteProject removes a project and its tasks.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := validID("project", id); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return notFound("project", err)
	}
	s.record(ctx, "project.deleted", "project", id, nil)
	return nil
}

// AddMember adds userID to the project. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, projectID, userID string) (Project, error) {
	if err := validID("project", projectID); err != nil {
		return Project{}, err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return Project{}, err
	}
	p, err := s.store.AddProjectMember(ctx, projectID, userID)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.member_added", "project", projectID, map[string]any{"user_id": userID})
	return p, nil
}

// RemoveMember drops userID from the project members and unassigns their
// tasks in the project.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID string) (Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if err := validID("user", userID); err != nil {
		return Project{}, err
	}
	if p.OwnerID == userID {
		return Project{}, fmt.Errorf("%w: the owner cannot be removed from a project", ErrConflict)
	}
	p, err = s.store.RemoveProjectMember(ctx, projectID, userID)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.member_removed", "project", projectID, map[string]any{"user_id": userID})
	return p, nil
}

// JoinProject adds the caller as a member.
func (s *Service) JoinProject(ctx context.Context, projectID string) (Project, error) {
	who, err := caller(ctx)
	if err != nil {
		return Project{}, err
	}
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.OwnerID == who.UserID {
		return Project{}, fmt.Errorf("%w: you are already the owner of this project", ErrConflict)
	}
	if p.HasMember(who.UserID) {
		return Project{}, fmt.Errorf("%w: you are already a member of this project", ErrConflict)
	}
	p, err = s.store.AddProjectMember(ctx, projectID, who.UserID)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.joined", "project", projectID, nil)
	return p, nil
}

// LeaveProject removes the caller from the members and unassigns their tasks
// in the project. Owners must transfer the project first.
func (s *Service) LeaveProject(ctx context.Context, projectID string) (Project, error) {
	who, err := caller(ctx)
	if err != nil {
		return Project{}, err
	}
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.OwnerID == who.UserID {
		return Project{}, fmt.Errorf("%w: the owner must transfer the project before leaving", ErrConflict)
	}
	p, err = s.store.RemoveProjectMember(ctx, projectID, who.UserID)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.left", "project", projectID, nil)
	return p, nil
}

// TransferProject hands ownership to newOwnerID; the previous owner stays
// on as a member.
func (s *Service) TransferProject(ctx context.Context, projectID, newOwnerID string) (Project, error) {
	if err := validID("project", projectID); err != nil {
		return Project{}, err
	}
	if _, err := s.GetUser(ctx, newOwnerID); err != nil {
		return Project{}, err
	}
	p, err := s.store.TransferProject(ctx, projectID, newOwnerID)
	if err != nil {
		return Project{}, notFound("project", err)
	}
	s.record(ctx, "project.transferred", "project", projectID, map[string]any{"owner_id": p.OwnerID})
	return p, nil
}

// --- tasks ---

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	ProjectID   string
	Title       string
	Description string
	Status      TaskStatus
	AssignedTo  string
}

// TaskUpdate holds optional task changes. An empty AssignedTo unassigns.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	AssignedTo  *string
}

func (s *Service) checkAssignee(p Project, userID string) error {
	if userID == "" {
		return nil
	}
	if !p.HasMember(userID) {
		return fmt.Errorf("%w: assignee must be a member of the project", ErrInvalidInput)
	}
	return nil
}

func (s *Service) applyStatus(t *Task, st TaskStatus, actor string) error {
	parsed, err := ParseStatus(string(st))
	if err != nil {
		return err
	}
	t.Status = parsed
	if parsed == StatusDone {
		ts := s.timestamp()
		t.FinishedAt = &ts
		t.FinishedBy = actor
	} else {
		t.FinishedAt = nil
		t.FinishedBy = ""
	}
	return nil
}

// CreateTask adds a task to a project.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	who, err := caller(ctx)
	if err != nil {
		return Task{}, err
	}
	p, err := s.GetProject(ctx, in.ProjectID)
	if err != nil {
		return Task{}, err
	}
	title, err := required("title", in.Title, maxTitleLength)
	if err != nil {
		return Task{}, err
	}
	desc, err := optional("description", in.Description, maxDescriptionLength)
	if err != nil {
		return Task{}, err
	}
	assignee := strings.TrimSpace(in.AssignedTo)
	if err := s.checkAssignee(p, assignee); err != nil {
		return Task{}, err
	}
	now := s.timestamp()
	t := Task{
		ID:          ids.New(),
		ProjectID:   p.ID,
		Title:       title,
		Description: desc,
		AssignedTo:  assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	status := in.Status
	if status == "" {
		status = StatusToDo
	}
	if err := s.applyStatus(&t, status, who.UserID); err != nil {
		return Task{}, err
	}
	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return Task{}, notFound("project", err)
	}
	s.record(ctx, "task.created", "task", created.ID, map[string]any{"project_id": created.ProjectID})
	return created, nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, id string) (Task, error) {
	if err := validID("task", id); err != nil {
		return Task{}, err
	}
	t, err := s.store.GetTask(ctx, id)
	return t, notFound("task", err)
}

// UpdateTask applies task changes. Moving to DONE records who finished it.
func (s *Service) UpdateTask(ctx context.Context, id string, in TaskUpdate) (Task, error) {
	who, err := caller(ctx)
	if err != nil {
		return Task{}, err
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if in.Title != nil {
		if t.Title, err = required("title", *in.Title, maxTitleLength); err != nil {
			return Task{}, err
		}
	}
	if in.Description != nil {
		if t.Description, err = optional("description", *in.Description, maxDescriptionLength); err != nil {
			return Task{}, err
		}
	}
	if in.AssignedTo != nil {
		assignee := strings.TrimSpace(*in.AssignedTo)
		if assignee != "" {
			p, err := s.GetProject(ctx, t.ProjectID)
			if err != nil {
				return Task{}, err
			}
			if err := s.checkAssignee(p, assignee); err != nil {
				return Task{}, err
			}
		}
		t.AssignedTo = assignee
	}
	if in.Status != nil {
		if err := s.applyStatus(&t, *in.Status, who.UserID); err != nil {
			return Task{}, err
		}
	}
	t.UpdatedAt = s.timestamp()
	updated, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return Task{}, notFound("task", err)
	}
	s.record(ctx, "task.updated", "task", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := validID("task", id); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return notFound("task", err)
	}
	s.record(ctx, "task.deleted", "task", id, nil)
	return nil
}

// ProjectTasks lists a project's tasks.
func (s *Service) ProjectTasks(ctx context.Context, projectID string, status TaskStatus, page PageRequest) (Page[Task], error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return Page[Task]{}, err
	}
	return s.store.ListTasks(ctx, TaskFilter{ProjectID: projectID, Status: status}, page)
}

// ListTasks lists tasks across all projects.
func (s *Service) ListTasks(ctx context.Context, f TaskFilter, page PageRequest) (Page[Task], error) {
	return s.store.ListTasks(ctx, f, page)
}

// MyTasks lists tasks assigned to the caller.
func (s *Service) MyTasks(ctx context.Context, page PageRequest) (Page[Task], error) {
	who, err := caller(ctx)
	if err != nil {
		return Page[Task]{}, err
	}
	return s.store.ListTasks(ctx, TaskFilter{AssignedTo: who.UserID}, page)
}

// UserTasks lists tasks assigned to userID.
func (s *Service) UserTasks(ctx context.Context, userID string, page PageRequest) (Page[Task], error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return Page[Task]{}, err
	}
	return s.store.ListTasks(ctx, TaskFilter{AssignedTo: userID}, page)
}

// TaskStatuses lists the task workflow states.
func (s *Service) TaskStatuses() []TaskStatus {
	return append([]TaskStatus(nil), Statuses...)
}
