package pg

import (
	"context"
	"database/sql"

	"trullo.app/internal/tracker"
)

const projectSelect = `
	select p.id, p.title, p.description, p.owner_id, p.created_at, p.updated_at,
	       coalesce((select string_agg(m.user_id, ',' order by m.added_at, m.user_id)
	                 from project_members m where m.project_id = p.id), '')
	from projects p`

func scanProject(row rowScanner) (tracker.Project, error) {
	var (
		p       tracker.Project
		members string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt, &members); err != nil {
		return tracker.Project{}, err
	}
	p.Members = splitIDs(members)
	return p, nil
}

func getProject(ctx context.Context, q queryer, id string) (tracker.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, projectSelect+` where p.id = $1`, id))
	return p, mapError(err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// unassignOutsiders clears task assignments held by users who are neither the
// owner nor a member of the project any more.
const unassignOutsiders = `
	update tasks set assigned_to = null
	where project_id = $1
	  and assigned_to is not null
	  and assigned_to <> (select owner_id from projects where id = $1)
	  and assigned_to not in (select user_id from project_members where project_id = $1)`

func insertMembers(ctx context.Context, q queryer, projectID string, members []string) error {
	for _, m := range members {
		if _, err := q.ExecContext(ctx, `
			insert into project_members (project_id, user_id)
			values ($1, $2)
			on conflict do nothing
		`, projectID, m); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p tracker.Project) (tracker.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into projects (id, title, description, owner_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Title, p.Description, p.OwnerID, p.CreatedAt, p.UpdatedAt); err != nil {
		return tracker.Project{}, mapError(err)
	}
	if err := insertMembers(ctx, tx, p.ID, p.Members); err != nil {
		return tracker.Project{}, err
	}
	created, err := getProject(ctx, tx, p.ID)
	if err != nil {
		return tracker.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return tracker.Project{}, err
	}
	return created, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (tracker.Project, error) {
	return getProject(ctx, s.db, id)
}

func (s *Store) ListProjects(ctx context.Context, f tracker.ProjectFilter, page tracker.PageRequest) (tracker.Page[tracker.Project], error) {
	var w filter
	if f.MemberID != "" {
		w.add(`(p.owner_id = ? or exists (select 1 from project_members pm where pm.project_id = p.id and pm.user_id = ?))`, f.MemberID)
	}
	if f.OwnerID != "" {
		w.add(`p.owner_id = ?`, f.OwnerID)
	}
	if f.Search != "" {
		w.add(`(p.title ilike ? or p.description ilike ?)`, likePattern(f.Search))
	}
	total, err := s.count(ctx, `select count(*) from projects p`+w.where(), w.args)
	if err != nil {
		return tracker.Page[tracker.Project]{}, err
	}
	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, projectSelect+w.where()+` order by p.created_at, p.id`+limit, args...)
	if err != nil {
		return tracker.Page[tracker.Project]{}, err
	}
	defer rows.Close()

	var items []tracker.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return tracker.Page[tracker.Project]{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return tracker.Page[tracker.Project]{}, err
	}
	return tracker.NewPage(items, total, page), nil
}

// UpdateProject rewrites scalar fields and replaces the member set.
func (s *Store) UpdateProject(ctx context.Context, p tracker.Project) (tracker.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update projects set title = $2, description = $3, updated_at = $4
		where id = $1
	`, p.ID, p.Title, p.Description, p.UpdatedAt)
	if err != nil {
		return tracker.Project{}, mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tracker.Project{}, tracker.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from project_members where project_id = $1`, p.ID); err != nil {
		return tracker.Project{}, err
	}
	if err := insertMembers(ctx, tx, p.ID, p.Members); err != nil {
		return tracker.Project{}, err
	}
	if _, err := tx.ExecContext(ctx, unassignOutsiders, p.ID); err != nil {
		return tracker.Project{}, err
	}
	updated, err := getProject(ctx, tx, p.ID)
	if err != nil {
		return tracker.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return tracker.Project{}, err
	}
	return updated, nil
}

func (s *Store) AddProjectMember(ctx context.Context, projectID, userID string) (tracker.Project, error) {
	if _, err := s.db.ExecContext(ctx, `
		insert into project_members (project_id, user_id)
		select id, $2 from projects where id = $1 and owner_id <> $2
		on conflict do nothing
	`, projectID, userID); err != nil {
		return tracker.Project{}, mapError(err)
	}
	return s.GetProject(ctx, projectID)
}

// RemoveProjectMember drops the membership and the user's assignments in the
// project in one transaction.
func (s *Store) RemoveProjectMember(ctx context.Context, projectID, userID string) (tracker.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from project_members where project_id = $1 and user_id = $2
	`, projectID, userID); err != nil {
		return tracker.Project{}, err
	}
	if _, err := tx.ExecContext(ctx, unassignOutsiders, projectID); err != nil {
		return tracker.Project{}, err
	}
	p, err := getProject(ctx, tx, projectID)
	if err != nil {
		return tracker.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return tracker.Project{}, err
	}
	return p, nil
}

func (s *Store) TransferProject(ctx context.Context, projectID, newOwnerID string) (tracker.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var prevOwner string
	if err := tx.QueryRowContext(ctx, `select owner_id from projects where id = $1 for update`, projectID).Scan(&prevOwner); err != nil {
		return tracker.Project{}, mapError(err)
	}
	if prevOwner != newOwnerID {
		if _, err := tx.ExecContext(ctx, `update projects set owner_id = $2, updated_at = now() where id = $1`, projectID, newOwnerID); err != nil {
			return tracker.Project{}, mapError(err)
		}
		if _, err := tx.ExecContext(ctx, `delete from project_members where project_id = $1 and user_id = $2`, projectID, newOwnerID); err != nil {
			return tracker.Project{}, err
		}
		if err := insertMembers(ctx, tx, projectID, []string{prevOwner}); err != nil {
			return tracker.Project{}, err
		}
	}
	p, err := getProject(ctx, tx, projectID)
	if err != nil {
		return tracker.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return tracker.Project{}, err
	}
	return p, nil
}

// DeleteProject cascades to tasks and memberships.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from projects where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
