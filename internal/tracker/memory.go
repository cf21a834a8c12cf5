package tracker

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	users    map[string]User
	emails   map[string]string // lowercased email -> user id
	projects map[string]Project
	tasks    map[string]Task
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[string]User),
		emails:   make(map[string]string),
		projects: make(map[string]Project),
		tasks:    make(map[string]Task),
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func copyProject(p Project) Project {
	p.Members = slices.Clone(p.Members)
	if p.Members == nil {
		p.Members = []string{}
	}
	return p
}

func copyTask(t Task) Task {
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		t.FinishedAt = &ts
	}
	return t
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// sortedByID orders values by their ULID, which is creation order.
func sortedByID[T any](m map[string]T, keep func(T) bool) []T {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func (s *InMemory) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey(u.Email)
	if _, ok := s.emails[key]; ok {
		return User{}, ErrConflict
	}
	if _, ok := s.users[u.ID]; ok {
		return User{}, ErrConflict
	}
	s.users[u.ID] = u
	s.emails[key] = u.ID
	return u, nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[emailKey(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemory) ListUsers(ctx context.Context, f UserFilter, page PageRequest) (Page[User], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.TrimSpace(f.Search)
	all := sortedByID(s.users, func(u User) bool {
		return search == "" || containsFold(u.Name, search) || containsFold(u.Email, search)
	})
	return Paginate(all, page), nil
}

func (s *InMemory) UpdateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[u.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	oldKey, newKey := emailKey(prev.Email), emailKey(u.Email)
	if oldKey != newKey {
		if _, taken := s.emails[newKey]; taken {
			return User{}, ErrConflict
		}
		delete(s.emails, oldKey)
		s.emails[newKey] = u.ID
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *InMemory) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, p := range s.projects {
		if p.OwnerID == id {
			return ErrConflict
		}
	}
	for tid, t := range s.tasks {
		changed := false
		if t.AssignedTo == id {
			t.AssignedTo = ""
			changed = true
		}
		if t.FinishedBy == id {
			t.FinishedBy = ""
			changed = true
		}
		if changed {
			s.tasks[tid] = t
		}
	}
	for pid, p := range s.projects {
		if i := slices.Index(p.Members, id); i >= 0 {
			p.Members = slices.Delete(slices.Clone(p.Members), i, i+1)
			s.projects[pid] = p
		}
	}
	delete(s.emails, emailKey(u.Email))
	delete(s.users, id)
	return nil
}

func (s *InMemory) CreateProject(ctx context.Context, p Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.OwnerID]; !ok {
		return Project{}, ErrNotFound
	}
	if _, ok := s.projects[p.ID]; ok {
		return Project{}, ErrConflict
	}
	p = copyProject(p)
	s.projects[p.ID] = p
	return copyProject(p), nil
}

func (s *InMemory) GetProject(ctx context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return copyProject(p), nil
}

func (s *InMemory) ListProjects(ctx context.Context, f ProjectFilter, page PageRequest) (Page[Project], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.TrimSpace(f.Search)
	all := sortedByID(s.projects, func(p Project) bool {
		if f.MemberID != "" && !p.HasMember(f.MemberID) {
			return false
		}
		if f.OwnerID != "" && p.OwnerID != f.OwnerID {
			return false
		}
		return search == "" || containsFold(p.Title, search) || containsFold(p.Description, search)
	})
	for i := range all {
		all[i] = copyProject(all[i])
	}
	return Paginate(all, page), nil
}

func (s *InMemory) UpdateProject(ctx context.Context, p Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return Project{}, ErrNotFound
	}
	p = copyProject(p)
	s.projects[p.ID] = p
	s.unassignOutsiders(p)
	return copyProject(p), nil
}

func (s *InMemory) AddProjectMember(ctx context.Context, projectID, userID string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return Project{}, ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return Project{}, ErrNotFound
	}
	if !p.HasMember(userID) {
		p = copyProject(p)
		p.Members = append(p.Members, userID)
		s.projects[projectID] = p
	}
	return copyProject(p), nil
}

func (s *InMemory) RemoveProjectMember(ctx context.Context, projectID, userID string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return Project{}, ErrNotFound
	}
	if i := slices.Index(p.Members, userID); i >= 0 {
		p = copyProject(p)
		p.Members = slices.Delete(p.Members, i, i+1)
		s.projects[projectID] = p
	}
	s.unassignOutsiders(p)
	return copyProject(p), nil
}

// unassignOutsiders clears assignments on p's tasks held by users who are no
// longer the owner or a member. Callers hold s.mu.
func (s *InMemory) unassignOutsiders(p Project) {
	for tid, t := range s.tasks {
		if t.ProjectID != p.ID || t.AssignedTo == "" {
			continue
		}
		if t.AssignedTo == p.OwnerID || p.HasMember(t.AssignedTo) {
			continue
		}
		t.AssignedTo = ""
		s.tasks[tid] = t
	}
}

func (s *InMemory) TransferProject(ctx context.Context, projectID, newOwnerID string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return Project{}, ErrNotFound
	}
	if _, ok := s.users[newOwnerID]; !ok {
		return Project{}, ErrNotFound
	}
	if p.OwnerID == newOwnerID {
		return copyProject(p), nil
	}
	p = copyProject(p)
	if i := slices.Index(p.Members, newOwnerID); i >= 0 {
		p.Members = slices.Delete(p.Members, i, i+1)
	}
	p.Members = append(p.Members, p.OwnerID)
	p.OwnerID = newOwnerID
	s.projects[projectID] = p
	return copyProject(p), nil
}

func (s *InMemory) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	for tid, t := range s.tasks {
		if t.ProjectID == id {
			delete(s.tasks, tid)
		}
	}
	delete(s.projects, id)
	return nil
}

func (s *InMemory) CreateTask(ctx context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[t.ProjectID]; !ok {
		return Task{}, ErrNotFound
	}
	if _, ok := s.tasks[t.ID]; ok {
		return Task{}, ErrConflict
	}
	s.tasks[t.ID] = copyTask(t)
	return copyTask(t), nil
}

func (s *InMemory) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *InMemory) ListTasks(ctx context.Context, f TaskFilter, page PageRequest) (Page[Task], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := sortedByID(s.tasks, func(t Task) bool {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			return false
		}
		if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
			return false
		}
		return f.Status == "" || t.Status == f.Status
	})
	for i := range all {
		all[i] = copyTask(all[i])
	}
	return Paginate(all, page), nil
}

func (s *InMemory) UpdateTask(ctx context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return Task{}, ErrNotFound
	}
	s.tasks[t.ID] = copyTask(t)
	return copyTask(t), nil
}

func (s *InMemory) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}
