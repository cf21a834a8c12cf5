package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func projectRowColumns() []string {
	return []string{"id", "title", "description", "owner_id", "created_at", "updated_at", "members"}
}

func TestInitExecutesSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("create table if not exists users").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WithArgs("u1", "Ann", "ann@example.com", "hash", "USER", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	now := time.Now().UTC()
	_, err := store.CreateUser(context.Background(), tracker.User{
		ID: "u1", Name: "Ann", Email: "ann@example.com", PasswordHash: "hash",
		Role: auth.RoleUser, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, tracker.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select id, name, email, password_hash, role, created_at, updated_at from users where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}))

	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("from users where lower(email) = lower($1)")).
		WithArgs("Ann@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}).
			AddRow("u1", "Ann", "ann@example.com", "hash", "ADMIN", created, created))

	u, err := store.GetUserByEmail(context.Background(), "Ann@Example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u.ID != "u1" || u.Role != auth.RoleAdmin || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestListProjectsForMember(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from projects p where (p.owner_id = $1 or exists")).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("order by p.created_at, p.id limit $2 offset $3")).
		WithArgs("u2", 2, 2).
		WillReturnRows(sqlmock.NewRows(projectRowColumns()).
			AddRow("p3", "Third", "", "u1", now, now, "u2,u3"))

	page, err := store.ListProjects(context.Background(), tracker.ProjectFilter{MemberID: "u2"}, tracker.PageRequest{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if page.TotalCount != 3 || len(page.Items) != 1 || page.HasNextPage || !page.HasPreviousPage || page.TotalPages != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := page.Items[0].Members; len(got) != 2 || got[0] != "u2" || got[1] != "u3" {
		t.Fatalf("unexpected members: %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListUsersSearchEscapesPattern(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from users where (name ilike $1 or email ilike $1)")).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("order by created_at, id")).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}))

	page, err := store.ListUsers(context.Background(), tracker.UserFilter{Search: "50%"}, tracker.PageRequest{Page: 1, Limit: 0})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.TotalCount != 0 || page.Items == nil {
		t.Fatalf("unexpected page: %+v", page)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransferProject(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("select owner_id from projects where id = \\$1 for update").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("u1"))
	mock.ExpectExec("update projects set owner_id").WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from project_members").WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into project_members").WithArgs("p1", "u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select p.id, p.title").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(projectRowColumns()).AddRow("p1", "Board", "", "u2", now, now, "u1"))
	mock.ExpectCommit()

	p, err := store.TransferProject(context.Background(), "p1", "u2")
	if err != nil {
		t.Fatalf("TransferProject: %v", err)
	}
	if p.OwnerID != "u2" || len(p.Members) != 1 || p.Members[0] != "u1" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemoveProjectMemberUnassignsTasks(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("delete from project_members").WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update tasks set assigned_to = null").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("select p.id, p.title").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(projectRowColumns()).AddRow("p1", "Board", "", "u1", now, now, ""))
	mock.ExpectCommit()

	p, err := store.RemoveProjectMember(context.Background(), "p1", "u2")
	if err != nil {
		t.Fatalf("RemoveProjectMember: %v", err)
	}
	if len(p.Members) != 0 {
		t.Fatalf("expected no members, got %v", p.Members)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemoveProjectMemberRollsBackOnUnassignFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from project_members").WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update tasks set assigned_to = null").WithArgs("p1").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	if _, err := store.RemoveProjectMember(context.Background(), "p1", "u2"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateProjectUnassignsDroppedMembers(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("update projects set title").WithArgs("p1", "Board", "", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from project_members where project_id").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into project_members").WithArgs("p1", "u3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update tasks set assigned_to = null").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select p.id, p.title").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(projectRowColumns()).AddRow("p1", "Board", "", "u1", now, now, "u3"))
	mock.ExpectCommit()

	p, err := store.UpdateProject(context.Background(), tracker.Project{
		ID: "p1", Title: "Board", OwnerID: "u1", Members: []string{"u3"}, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if len(p.Members) != 1 || p.Members[0] != "u3" {
		t.Fatalf("unexpected members: %v", p.Members)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteUserBlockedByOwnership(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from projects where owner_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	if err := store.DeleteUser(context.Background(), "u1"); !errors.Is(err, tracker.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteTaskMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from tasks").WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteTask(context.Background(), "t1"); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskClearsNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("update tasks").
		WithArgs("t1", "Title", "", "TO_DO", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "title", "description", "status", "assigned_to", "finished_at", "finished_by", "created_at", "updated_at"}).
			AddRow("t1", "p1", "Title", "", "TO_DO", nil, nil, nil, now, now))

	got, err := store.UpdateTask(context.Background(), tracker.Task{ID: "t1", ProjectID: "p1", Title: "Title", Status: tracker.StatusToDo, UpdatedAt: now})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.AssignedTo != "" || got.FinishedAt != nil || got.FinishedBy != "" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTaskMissingProject(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into tasks").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	now := time.Now().UTC()
	_, err := store.CreateTask(context.Background(), tracker.Task{ID: "t1", ProjectID: "p404", Title: "x", Status: tracker.StatusToDo, CreatedAt: now, UpdatedAt: now})
	if !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
