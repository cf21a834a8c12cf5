package tracker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trullo.app/internal/auth"
	"trullo.app/internal/ids"
	"trullo.app/internal/obs"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return NewService(NewInMemory(), WithClock(func() time.Time { return now }))
}

func register(t *testing.T, s *Service, email string) User {
	t.Helper()
	u, err := s.Register(context.Background(), RegisterInput{Name: "N " + email, Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}

func ctxFor(u User) context.Context {
	return auth.ContextWithIdentity(context.Background(), &auth.Identity{UserID: u.ID, Role: u.Role})
}

func adminCtx(id string) context.Context {
	return auth.ContextWithIdentity(context.Background(), &auth.Identity{UserID: id, Role: auth.RoleAdmin})
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := register(t, s, "Ann@Example.com")
	if u.Email != "ann@example.com" || u.Role != auth.RoleUser || u.PasswordHash == "" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := s.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "secret1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.Register(ctx, RegisterInput{Email: "bad", Password: "secret1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, err := s.Register(ctx, RegisterInput{Email: "b@example.com", Password: "123"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected short password, got %v", err)
	}

	got, err := s.Login(ctx, "ANN@example.com", "secret1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Login: %+v %v", got, err)
	}
	if _, err := s.Login(ctx, "ann@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong credentials, got %v", err)
	}
	if _, err := s.Login(ctx, "ghost@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong credentials, got %v", err)
	}
}

func TestSelfUpdateRequiresCurrentPassword(t *testing.T) {
	s := newTestService(t)
	u := register(t, s, "a@example.com")
	admin := register(t, s, "root@example.com")

	email := "new@example.com"
	if _, err := s.UpdateUser(ctxFor(u), u.ID, UserUpdate{Email: &email}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected current password requirement, got %v", err)
	}
	if _, err := s.UpdateUser(ctxFor(u), u.ID, UserUpdate{Email: &email, CurrentPassword: "wrong"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected incorrect password, got %v", err)
	}
	updated, err := s.UpdateUser(ctxFor(u), u.ID, UserUpdate{Email: &email, CurrentPassword: "secret1"})
	if err != nil || updated.Email != email {
		t.Fatalf("UpdateUser: %+v %v", updated, err)
	}

	name := "Renamed"
	if _, err := s.UpdateUser(adminCtx(admin.ID), u.ID, UserUpdate{Name: &name}); err != nil {
		t.Fatalf("admin rename: %v", err)
	}
	pw := "another1"
	if _, err := s.UpdateUser(adminCtx(admin.ID), u.ID, UserUpdate{Password: &pw}); err != nil {
		t.Fatalf("admin password reset: %v", err)
	}
	if _, err := s.Login(context.Background(), email, pw); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
}

func TestChangePasswordAndRole(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u := register(t, s, "a@example.com")

	if err := s.ChangePassword(ctx, u.ID, "wrong", "newpass"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := s.ChangePassword(ctx, u.ID, "secret1", "newpass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := s.Login(ctx, u.Email, "newpass"); err != nil {
		t.Fatalf("login after change: %v", err)
	}

	got, err := s.UpdateUserRole(ctx, u.ID, auth.RoleAdmin)
	if err != nil || got.Role != auth.RoleAdmin {
		t.Fatalf("UpdateUserRole: %+v %v", got, err)
	}
	if _, err := s.UpdateUserRole(ctx, u.ID, "ROOT"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestProjectMembershipRules(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	joiner := register(t, s, "join@example.com")
	other := register(t, s, "other@example.com")

	p, err := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Board", OwnerID: other.ID})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.OwnerID != owner.ID {
		t.Fatal("non-admins always own the projects they create")
	}

	if _, err := s.JoinProject(ctxFor(owner), p.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("owner join: expected conflict, got %v", err)
	}
	p, err = s.JoinProject(ctxFor(joiner), p.ID)
	if err != nil || !p.HasMember(joiner.ID) {
		t.Fatalf("JoinProject: %+v %v", p, err)
	}
	if _, err := s.JoinProject(ctxFor(joiner), p.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second join: expected conflict, got %v", err)
	}

	if _, err := s.LeaveProject(ctxFor(owner), p.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("owner leave: expected conflict, got %v", err)
	}
	p, err = s.TransferProject(ctxFor(owner), p.ID, joiner.ID)
	if err != nil {
		t.Fatalf("TransferProject: %v", err)
	}
	if p.OwnerID != joiner.ID || !p.HasMember(owner.ID) || len(p.Members) != 1 {
		t.Fatalf("unexpected project after transfer: %+v", p)
	}
	if _, err := s.LeaveProject(ctxFor(owner), p.ID); err != nil {
		t.Fatalf("former owner leave: %v", err)
	}

	p, err = s.AddMember(ctxFor(joiner), p.ID, other.ID)
	if err != nil || !p.HasMember(other.ID) {
		t.Fatalf("AddMember: %+v %v", p, err)
	}
	if _, err := s.RemoveMember(ctxFor(joiner), p.ID, joiner.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("remove owner: expected conflict, got %v", err)
	}
	p, err = s.RemoveMember(ctxFor(joiner), p.ID, other.ID)
	if err != nil || p.HasMember(other.ID) {
		t.Fatalf("RemoveMember: %+v %v", p, err)
	}
}

func TestLosingMembershipUnassignsTasks(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	leaver := register(t, s, "leaver@example.com")
	removed := register(t, s, "removed@example.com")
	dropped := register(t, s, "dropped@example.com")
	p, err := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Board", Members: []string{leaver.ID, removed.ID, dropped.ID}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	assign := func(u User) Task {
		t.Helper()
		task, err := s.CreateTask(ctxFor(owner), TaskInput{ProjectID: p.ID, Title: "t " + u.Email, AssignedTo: u.ID})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		return task
	}
	leaverTask, removedTask, droppedTask, ownerTask := assign(leaver), assign(removed), assign(dropped), assign(owner)
	other, err := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Other", Members: []string{leaver.ID}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	otherTask, err := s.CreateTask(ctxFor(owner), TaskInput{ProjectID: other.ID, Title: "keep", AssignedTo: leaver.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := s.LeaveProject(ctxFor(leaver), p.ID); err != nil {
		t.Fatalf("LeaveProject: %v", err)
	}
	if _, err := s.RemoveMember(ctxFor(owner), p.ID, removed.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	keep := []string{}
	if _, err := s.UpdateProject(ctxFor(owner), p.ID, ProjectUpdate{Members: &keep}); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}

	for name, id := range map[string]string{"leaver": leaverTask.ID, "removed": removedTask.ID, "dropped": droppedTask.ID} {
		got, err := s.GetTask(context.Background(), id)
		if err != nil || got.AssignedTo != "" {
			t.Fatalf("%s: task must be unassigned, got %+v %v", name, got, err)
		}
	}
	if got, _ := s.GetTask(context.Background(), ownerTask.ID); got.AssignedTo != owner.ID {
		t.Fatalf("owner assignment must stay, got %q", got.AssignedTo)
	}
	if got, _ := s.GetTask(context.Background(), otherTask.ID); got.AssignedTo != leaver.ID {
		t.Fatalf("assignments in other projects must stay, got %q", got.AssignedTo)
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

type stubRevoker struct{ revoked []string }

func (r *stubRevoker) Revoke(_ context.Context, raw string) error {
	r.revoked = append(r.revoked, raw)
	return nil
}

func TestMutationsAreAudited(t *testing.T) {
	buf := captureLog(t)
	revoker := &stubRevoker{}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewService(NewInMemory(), WithClock(func() time.Time { return now }), WithRevoker(revoker))

	owner := register(t, s, "owner@example.com")
	member := register(t, s, "member@example.com")
	if _, err := s.Login(context.Background(), "owner@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	p, err := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Board"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := s.JoinProject(ctxFor(member), p.ID); err != nil {
		t.Fatalf("JoinProject: %v", err)
	}
	if err := s.DeleteProject(ctxFor(owner), p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	ctx := auth.ContextWithToken(ctxFor(owner), "raw-token")
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	out := buf.String()
	for _, event := range []string{
		`"event":"auth.registered"`,
		`"event":"auth.login_failed"`,
		`"event":"project.created"`,
		`"event":"project.joined"`,
		`"event":"project.deleted"`,
		`"event":"auth.logout"`,
	} {
		if !strings.Contains(out, event) {
			t.Fatalf("missing %s in audit log:\n%s", event, out)
		}
	}
	if strings.Count(out, `"event":"project.created"`) != 1 {
		t.Fatalf("each mutation must be audited once:\n%s", out)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != "raw-token" {
		t.Fatalf("expected token revoked, got %v", revoker.revoked)
	}
}

func TestFailedMutationsAreNotAudited(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	buf := captureLog(t)
	if _, err := s.LeaveProject(ctxFor(owner), ids.New()); err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(buf.String(), "project.left") {
		t.Fatalf("failed mutation must not be audited:\n%s", buf.String())
	}
}

func TestLogoutWithoutTokenIsNoop(t *testing.T) {
	revoker := &stubRevoker{}
	s := NewService(NewInMemory(), WithRevoker(revoker))
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(revoker.revoked) != 0 {
		t.Fatalf("nothing to revoke, got %v", revoker.revoked)
	}
}

func TestAdminCreatesProjectForOwner(t *testing.T) {
	s := newTestService(t)
	admin := register(t, s, "admin@example.com")
	u := register(t, s, "u@example.com")
	p, err := s.CreateProject(adminCtx(admin.ID), ProjectInput{Title: "Ops", OwnerID: u.ID, Members: []string{admin.ID, u.ID}})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.OwnerID != u.ID || len(p.Members) != 1 || p.Members[0] != admin.ID {
		t.Fatalf("unexpected project: %+v", p)
	}
	mine, err := s.MyProjects(ctxFor(u), "", DefaultPageRequest())
	if err != nil || mine.TotalCount != 1 {
		t.Fatalf("MyProjects: %+v %v", mine, err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	outsider := register(t, s, "out@example.com")
	p, err := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Board"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	if _, err := s.CreateTask(ctxFor(owner), TaskInput{ProjectID: p.ID, Title: "x", AssignedTo: outsider.ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected assignee rejection, got %v", err)
	}
	task, err := s.CreateTask(ctxFor(owner), TaskInput{ProjectID: p.ID, Title: "Write docs", AssignedTo: owner.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != StatusToDo || task.FinishedAt != nil {
		t.Fatalf("unexpected new task: %+v", task)
	}

	done := StatusDone
	task, err = s.UpdateTask(ctxFor(owner), task.ID, TaskUpdate{Status: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if task.FinishedAt == nil || task.FinishedBy != owner.ID {
		t.Fatalf("DONE must stamp finisher: %+v", task)
	}
	back := StatusInProgress
	task, err = s.UpdateTask(ctxFor(owner), task.ID, TaskUpdate{Status: &back})
	if err != nil || task.FinishedAt != nil || task.FinishedBy != "" {
		t.Fatalf("leaving DONE must clear finisher: %+v %v", task, err)
	}
	bogus := TaskStatus("LATER")
	if _, err := s.UpdateTask(ctxFor(owner), task.ID, TaskUpdate{Status: &bogus}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	page, err := s.ProjectTasks(ctxFor(owner), p.ID, "", DefaultPageRequest())
	if err != nil || page.TotalCount != 1 {
		t.Fatalf("ProjectTasks: %+v %v", page, err)
	}
	mine, err := s.MyTasks(ctxFor(owner), DefaultPageRequest())
	if err != nil || mine.TotalCount != 1 {
		t.Fatalf("MyTasks: %+v %v", mine, err)
	}

	if err := s.DeleteProject(ctxFor(owner), p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetTask(ctxFor(owner), task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tasks must be removed with their project, got %v", err)
	}
}

func TestDeleteUserCleansUp(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	member := register(t, s, "member@example.com")
	p, _ := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Board", Members: []string{member.ID}})
	task, err := s.CreateTask(ctxFor(owner), TaskInput{ProjectID: p.ID, Title: "t", AssignedTo: member.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.DeleteUser(context.Background(), owner.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("owner delete: expected conflict, got %v", err)
	}
	if err := s.DeleteUser(context.Background(), member.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	got, _ := s.GetTask(context.Background(), task.ID)
	if got.AssignedTo != "" {
		t.Fatal("task must be unassigned")
	}
	gotP, _ := s.GetProject(context.Background(), p.ID)
	if gotP.HasMember(member.ID) {
		t.Fatal("membership must be removed")
	}
	if err := s.DeleteUser(context.Background(), member.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMalformedIDsAreInvalidInput(t *testing.T) {
	s := newTestService(t)
	if _, err := s.GetProject(context.Background(), "p1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := s.GetTask(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListUsersSearchAndPaging(t *testing.T) {
	s := newTestService(t)
	for _, e := range []string{"alice@example.com", "bob@example.com", "alina@example.com"} {
		register(t, s, e)
	}
	page, err := s.ListUsers(context.Background(), UserFilter{Search: "ALI"}, PageRequest{Page: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.TotalCount != 2 || len(page.Items) != 1 || !page.HasNextPage || page.TotalPages != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	all, _ := s.ListUsers(context.Background(), UserFilter{}, PageRequest{Page: 1, Limit: 0})
	if len(all.Items) != 3 || all.HasNextPage || all.TotalPages != 1 {
		t.Fatalf("limit 0 must return everything: %+v", all)
	}
}

func TestConcurrentJoins(t *testing.T) {
	s := newTestService(t)
	owner := register(t, s, "owner@example.com")
	p, _ := s.CreateProject(ctxFor(owner), ProjectInput{Title: "Busy"})

	users := make([]User, 20)
	for i := range users {
		users[i] = register(t, s, "u"+string(rune('a'+i))+"@example.com")
	}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u User) {
			defer wg.Done()
			if _, err := s.JoinProject(ctxFor(u), p.ID); err != nil {
				t.Errorf("join %s: %v", u.Email, err)
			}
		}(u)
	}
	wg.Wait()
	got, _ := s.GetProject(context.Background(), p.ID)
	if len(got.Members) != len(users) {
		t.Fatalf("expected %d members, got %d", len(users), len(got.Members))
	}
}
